// Package lock implements the lockfile engine: the data model for a
// resolved, reproducible set of package versions, construction from a
// resolution graph, canonical TOML serialization and deserialization, and
// the "satisfies" validation that decides whether a lockfile still
// describes the current project inputs without re-resolving.
package lock

import (
	"sort"
	"time"

	"github.com/kadirtech/pylock/internal/marker"
	"github.com/kadirtech/pylock/internal/requirement"
	"github.com/kadirtech/pylock/internal/resolve"
	"github.com/kadirtech/pylock/internal/version"
)

// CurrentVersion is the lockfile format version this engine writes and the
// only one it accepts on read. A version bump is a breaking change; a
// revision bump within a version is not (see deserialize.go).
const CurrentVersion = 1

// CurrentRevision is the highest revision this writer knows. Per the
// format's compatibility rule, revision 0 is never written.
const CurrentRevision = 0

// Sdist is a source distribution artifact: exactly one of URL or Path is
// set for a remote or local-registry sdist; both are empty for an sdist
// reconstructed from a source tree that carries no separate archive.
type Sdist struct {
	URL        string
	Path       string
	Hash       string
	Size       int64
	UploadTime time.Time
}

func (s Sdist) isZero() bool {
	return s.URL == "" && s.Path == "" && s.Hash == "" && s.Size == 0 && s.UploadTime.IsZero()
}

// Wheel is a built-distribution artifact. Exactly one of URL, Path, or
// Filename is meaningful, matching the three wheel-entry shapes the format
// defines: a remote wheel, a local-registry wheel, or a plain local path
// wheel with no URL.
type Wheel struct {
	URL        string
	Path       string
	Filename   string
	Hash       string
	Size       int64
	UploadTime time.Time
}

// Dependency is one edge out of a package entry: the target package, the
// extras activated on it, and its marker in both simplified (serialized)
// and complexified (evaluated) form.
type Dependency struct {
	PackageID          requirement.PackageId
	Extras             []string
	SimplifiedMarker   marker.Node
	ComplexifiedMarker marker.Node
}

func (d Dependency) key() string {
	return d.PackageID.String() + "\x00" + d.SimplifiedMarker.String()
}

func sortDependencies(deps []Dependency) []Dependency {
	sort.SliceStable(deps, func(i, j int) bool {
		if c := deps[i].PackageID.Compare(deps[j].PackageID); c != 0 {
			return c < 0
		}

		return deps[i].SimplifiedMarker.String() < deps[j].SimplifiedMarker.String()
	})

	return deps
}

// PackageMetadata carries a package's self-declared dependency metadata
// verbatim, used only for the satisfies check's package-level comparison,
// never for resolution.
type PackageMetadata struct {
	RequiresDist     []requirement.Requirement
	ProvidesExtras   []string
	DependencyGroups map[string][]requirement.Requirement
}

// Package is one entry in the lock: a single resolved distribution plus
// every edge it carries.
type Package struct {
	ID                   requirement.PackageId
	Sdist                *Sdist
	Wheels               []Wheel
	ForkMarkers          []marker.Node
	Dependencies         []Dependency
	OptionalDependencies map[string][]Dependency
	DependencyGroups     map[string][]Dependency
	Metadata             PackageMetadata
	// RequiresHash is the source's hash discipline: true means every wheel
	// must carry a hash, false means none may, nil means either is fine.
	RequiresHash *bool
	// Dynamic is true for a source tree whose version is computed at
	// build time; ID.Version is empty in that case.
	Dynamic bool
	// Virtual is true for a source tree that must never be installed,
	// only resolved against.
	Virtual bool
}

// ConflictItem names one extra or dependency-group of one package,
// participating in a declared conflict set.
type ConflictItem struct {
	Package string
	Extra   string
	Group   string
}

// Conflicts is the lock's declared sets of extras/groups that may not be
// activated simultaneously.
type Conflicts struct {
	Sets [][]ConflictItem
}

// Options records the resolver policy a lock was produced under. A lock
// is valid for reuse only when Options.Equal to the current invocation's
// options; there is no partial-reuse path.
type Options struct {
	Mode              resolve.ResolutionMode
	Prerelease        resolve.PrereleaseMode
	ForkStrategy      resolve.ForkStrategy
	ExcludeNewer      time.Time
	ExcludeNewerByPkg map[string]time.Time
}

// Equal reports whether two option sets would produce the same lock,
// deferring to resolve.ResolverOptions's own comparison so the two
// definitions of "same policy" never drift apart.
func (o Options) Equal(other Options) bool {
	return resolve.ResolverOptions{
		Mode:              o.Mode,
		Prerelease:        o.Prerelease,
		ForkStrategy:      o.ForkStrategy,
		ExcludeNewer:      o.ExcludeNewer,
		ExcludeNewerByPkg: o.ExcludeNewerByPkg,
	}.Equal(resolve.ResolverOptions{
		Mode:              other.Mode,
		Prerelease:        other.Prerelease,
		ForkStrategy:      other.ForkStrategy,
		ExcludeNewer:      other.ExcludeNewer,
		ExcludeNewerByPkg: other.ExcludeNewerByPkg,
	})
}

// Manifest is the exact set of inputs a lock was resolved from; it is
// compared field-by-field against the current project state by the
// satisfies check.
type Manifest struct {
	Members          []string
	Requirements     []requirement.Requirement
	Constraints      []requirement.Requirement
	Overrides        []requirement.Requirement
	BuildConstraints []requirement.Requirement
	DependencyGroups map[string][]requirement.Requirement
	StaticMetadata   map[string]PackageMetadata
	DynamicMembers   map[string]bool
	VirtualMembers   map[string]bool
}

// Lock is the immutable root of the lockfile engine. It is constructed by
// Build and never mutated in place; the With* methods return a modified
// copy.
type Lock struct {
	Version               int
	Revision              int
	RequiresPython        version.Range
	ForkMarkers           []resolve.UniversalMarker
	SupportedEnvironments []marker.Node
	RequiredEnvironments  []marker.Node
	ConflictsValue        Conflicts
	OptionsValue          Options
	ManifestValue         Manifest
	Packages              []Package

	index map[string]int
}

func (l *Lock) rebuildIndex() {
	l.index = make(map[string]int, len(l.Packages))
	for i, p := range l.Packages {
		l.index[p.ID.String()] = i
	}
}

// PackageByID looks up a package by its identity.
func (l *Lock) PackageByID(id requirement.PackageId) (*Package, bool) {
	if l.index == nil {
		l.rebuildIndex()
	}

	i, ok := l.index[id.String()]
	if !ok {
		return nil, false
	}

	return &l.Packages[i], true
}

func (l *Lock) clone() *Lock {
	n := *l
	n.Packages = append([]Package{}, l.Packages...)
	n.rebuildIndex()

	return &n
}

// WithManifest returns a copy of l carrying manifest instead.
func (l *Lock) WithManifest(m Manifest) *Lock {
	n := l.clone()
	n.ManifestValue = m

	return n
}

// WithConflicts returns a copy of l carrying c instead.
func (l *Lock) WithConflicts(c Conflicts) *Lock {
	n := l.clone()
	n.ConflictsValue = c

	return n
}

// WithSupportedEnvironments returns a copy of l carrying envs instead.
func (l *Lock) WithSupportedEnvironments(envs []marker.Node) *Lock {
	n := l.clone()
	n.SupportedEnvironments = envs

	return n
}

// WithRequiredEnvironments returns a copy of l carrying envs instead.
func (l *Lock) WithRequiredEnvironments(envs []marker.Node) *Lock {
	n := l.clone()
	n.RequiredEnvironments = envs

	return n
}
