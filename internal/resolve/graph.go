package resolve

import (
	"github.com/kadirtech/pylock/internal/marker"
	"github.com/kadirtech/pylock/internal/requirement"
)

// UniversalMarker pairs a PEP 508 marker with the conflict-set marker the
// resolver derives when disambiguating extras/groups that would otherwise
// produce contradictory selections. Only Pep508 is populated by this
// package's forking logic today; Conflict is carried for the lockfile
// engine, which may tighten it further when attaching dependency-group
// edges (see internal/lock).
type UniversalMarker struct {
	Pep508   marker.Node
	Conflict marker.Node
}

// Node is a single annotated distribution in the resolution graph.
// Marker is the disjunction of the fork markers the node was chosen
// under; ForkMarkers lists those same markers individually, for the
// lockfile's per-package resolution-markers when a name resolved to
// different versions across forks.
type Node struct {
	ID          requirement.PackageId
	Marker      UniversalMarker
	ForkMarkers []marker.Node
}

// Edge is a dependency from one resolved distribution to another, active
// under the given marker. Extra/Group name the source's optional-dependency
// or dependency-group the edge belongs to; Extras are the extras the
// requirement activates on the target.
type Edge struct {
	From   requirement.PackageId
	To     requirement.PackageId
	Marker UniversalMarker
	Extra  string // non-empty if this edge came from an optional-dependency group
	Group  string // non-empty if this edge came from a dependency-group
	Extras []string
}

// Graph is the resolver's output: the union of nodes and edges chosen
// across every fork. Each node is labeled with the disjunction of the
// fork markers in which it was chosen, and two forks choosing different
// versions of the same package both remain, with their respective
// markers. Forks carries the final forks' markers when resolution forked,
// and is empty otherwise.
type Graph struct {
	Nodes []Node
	Edges []Edge
	Forks []UniversalMarker
}

// ByName returns every node whose ID.Name matches, for callers that need
// to inspect all versions of a package chosen across forks.
func (g *Graph) ByName(name string) []Node {
	var out []Node

	for _, n := range g.Nodes {
		if n.ID.Name == name {
			out = append(out, n)
		}
	}

	return out
}
