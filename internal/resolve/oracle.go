// Package resolve implements the forking universal resolver: given root
// requirements and a metadata oracle, it produces a resolution graph whose
// nodes are annotated distributions and whose edges carry the universal
// marker under which a dependency applies.
//
// The solver tries candidate versions in policy order and unwinds to the
// next candidate on conflict. Each fork carries the universal marker
// context it was opened under, and requirements for one name are split
// into child forks when their markers are mutually disjoint.
package resolve

import (
	"context"
	"time"

	"github.com/kadirtech/pylock/internal/requirement"
)

// Candidate is one published version of a package, as reported by the
// oracle's candidate listing.
type Candidate struct {
	Version     string
	Source      requirement.Source
	PublishedAt time.Time
}

// Metadata is a package version's static dependency information. Version
// is populated for source trees, where the freshly read version can
// legitimately differ from what a lockfile recorded; registry metadata
// may leave it empty since the queried id already pins it.
type Metadata struct {
	Version          string
	Requires         []requirement.Requirement
	ProvidesExtras   []string
	DependencyGroups map[string][]requirement.Requirement
	Dynamic          bool
}

// Oracle is the external collaborator the solver consults for candidate
// versions and their metadata. Candidates is called concurrently while the
// root requirements are prefetched through an errgroup, so implementations
// must be safe for concurrent use.
type Oracle interface {
	// Candidates returns every known version of name, in no particular
	// order; the solver applies policy (mode, prerelease, exclude-newer)
	// and ordering itself.
	Candidates(ctx context.Context, name string) ([]Candidate, error)

	// MetadataFor returns the dependency metadata for a specific package
	// version.
	MetadataFor(ctx context.Context, id requirement.PackageId) (Metadata, error)
}
