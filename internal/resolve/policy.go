package resolve

import "time"

// ResolutionMode selects which feasible version the solver prefers within
// a fork.
type ResolutionMode int

const (
	ModeHighest ResolutionMode = iota
	ModeLowest
	ModeLowestDirect
)

func (m ResolutionMode) String() string {
	switch m {
	case ModeLowest:
		return "lowest"
	case ModeLowestDirect:
		return "lowest-direct"
	default:
		return "highest"
	}
}

// PrereleaseMode gates whether pre-release candidates are considered.
type PrereleaseMode int

const (
	PrereleaseDisallow PrereleaseMode = iota
	PrereleaseAllow
	PrereleaseIfNecessary
	PrereleaseIfNecessaryOrExplicit
	PrereleaseExplicit
)

func (m PrereleaseMode) String() string {
	switch m {
	case PrereleaseAllow:
		return "allow"
	case PrereleaseIfNecessary:
		return "if-necessary"
	case PrereleaseIfNecessaryOrExplicit:
		return "if-necessary-or-explicit"
	case PrereleaseExplicit:
		return "explicit"
	default:
		return "disallow"
	}
}

// ForkStrategy controls how aggressively the solver splits forks beyond
// the minimum required by disjoint markers. "Fewest" only forks when
// markers are disjoint; "requires-python" additionally forks along
// requires-python boundaries. Both are accepted and recorded; the solver
// currently forks the same way under either.
type ForkStrategy int

const (
	ForkFewest ForkStrategy = iota
	ForkRequiresPython
)

func (f ForkStrategy) String() string {
	if f == ForkRequiresPython {
		return "requires-python"
	}

	return "fewest"
}

// ResolverOptions bundles the resolver's policy knobs. Two
// ResolverOptions are considered equal, for lockfile-reuse purposes, only
// when every field matches: a lock resolved under different options is
// discarded wholesale rather than partially reused.
type ResolverOptions struct {
	Mode              ResolutionMode
	Prerelease        PrereleaseMode
	ForkStrategy      ForkStrategy
	ExcludeNewer      time.Time
	ExcludeNewerByPkg map[string]time.Time
}

// Equal reports whether two option sets are identical.
func (o ResolverOptions) Equal(other ResolverOptions) bool {
	if o.Mode != other.Mode || o.Prerelease != other.Prerelease || o.ForkStrategy != other.ForkStrategy {
		return false
	}

	if !o.ExcludeNewer.Equal(other.ExcludeNewer) {
		return false
	}

	if len(o.ExcludeNewerByPkg) != len(other.ExcludeNewerByPkg) {
		return false
	}

	for k, v := range o.ExcludeNewerByPkg {
		ov, ok := other.ExcludeNewerByPkg[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}

	return true
}

// cutoffFor returns the exclude-newer timestamp in effect for name: a
// per-package override supersedes the global cutoff.
func (o ResolverOptions) cutoffFor(name string) (time.Time, bool) {
	if t, ok := o.ExcludeNewerByPkg[name]; ok {
		return t, true
	}

	if o.ExcludeNewer.IsZero() {
		return time.Time{}, false
	}

	return o.ExcludeNewer, true
}
