package resolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/kadirtech/pylock/internal/marker"
	"github.com/kadirtech/pylock/internal/requirement"
	"github.com/kadirtech/pylock/internal/version"
)

// ConflictItem names one extra or dependency-group of one package,
// participating in a declared conflict set.
type ConflictItem struct {
	Package string
	Extra   string
	Group   string
}

// ResolverManifest is the root input to Resolve: the project's own
// requirements, the requires-python envelope they must all honor, and any
// declared sets of extras/groups that may not be activated together.
type ResolverManifest struct {
	RootRequirements []requirement.Requirement
	RequiresPython   version.Range
	Conflicts        [][]ConflictItem
}

// pendingItem is one unit of work on a fork's queue: a dependency
// requirement that still needs to be checked against (or newly added to)
// the fork's selection.
type pendingItem struct {
	from  requirement.PackageId // zero value for a root requirement
	req   requirement.Requirement
	extra string // set if req came from an optional-dependency group
	group string // set if req came from a dependency-group
}

// forkState is one open fork: a candidate partial solution under a
// specific universal marker.
type forkState struct {
	marker   marker.Node
	selected map[string]requirement.PackageId
	edges    []Edge
	pending  []pendingItem
}

func newForkState(m marker.Node) *forkState {
	return &forkState{marker: m, selected: make(map[string]requirement.PackageId)}
}

// clone returns a deep-enough copy for chronological backtracking: a
// failed candidate attempt mutates the clone, never the parent.
func (f *forkState) clone() *forkState {
	n := &forkState{
		marker:   f.marker,
		selected: make(map[string]requirement.PackageId, len(f.selected)),
		edges:    append([]Edge{}, f.edges...),
		pending:  append([]pendingItem{}, f.pending...),
	}

	for k, v := range f.selected {
		n.selected[k] = v
	}

	return n
}

// solver drives resolution for a single Resolve call.
type solver struct {
	ctx         context.Context
	cache       *oracleCache
	opts        ResolverOptions
	preferences map[string]string
}

// Resolve produces the resolution graph for manifest using oracle,
// honoring opts and preferring, when feasible, the versions named in
// preferences (typically sourced from a prior lockfile). The preference
// bias affects only candidate ordering within a fork, never forking
// decisions, so it cannot make resolution order-dependent between runs.
func Resolve(ctx context.Context, manifest ResolverManifest, oracle Oracle, opts ResolverOptions, preferences map[string]string) (*Graph, error) {
	s := &solver{ctx: ctx, cache: newOracleCache(oracle), opts: opts, preferences: preferences}

	root := newForkState(marker.True)

	names := make([]string, 0, len(manifest.RootRequirements))

	for _, req := range manifest.RootRequirements {
		root.pending = append(root.pending, pendingItem{req: req})
		names = append(names, req.Name)
	}

	s.cache.prefetchCandidates(ctx, names)

	leaves, err := s.resolveFork(root)
	if err != nil {
		return nil, err
	}

	if err := checkConflicts(leaves, manifest.Conflicts); err != nil {
		return nil, err
	}

	return mergeForks(leaves), nil
}

// checkConflicts rejects a finished resolution in which two members of a
// declared conflict set were activated within the same fork. Activation
// across different forks is fine: the forks' markers already keep the two
// apart at install time.
func checkConflicts(leaves []*forkState, conflicts [][]ConflictItem) error {
	if len(conflicts) == 0 {
		return nil
	}

	for _, f := range leaves {
		active := make(map[string]bool)

		for _, e := range f.edges {
			for _, extra := range e.Extras {
				active[e.To.Name+"["+extra+"]"] = true
			}

			if e.Extra != "" {
				active[e.From.Name+"["+e.Extra+"]"] = true
			}

			if e.Group != "" {
				active[e.From.Name+":"+e.Group] = true
			}
		}

		for _, set := range conflicts {
			var hits []ConflictItem

			for _, item := range set {
				key := item.Package + "[" + item.Extra + "]"
				if item.Group != "" {
					key = item.Package + ":" + item.Group
				}

				if active[key] {
					hits = append(hits, item)
				}
			}

			if len(hits) > 1 {
				return &ConflictingExtraError{
					Marker:  f.marker,
					Package: hits[1].Package,
					Extra:   hits[1].Extra,
					Group:   hits[1].Group,
				}
			}
		}
	}

	return nil
}

// resolveFork drives a single fork to completion, returning the set of
// terminal (fully closed) forks it expands into — just itself, unless the
// pending queue holds marker-disjoint duplicate requirements for one name,
// which force a split. Checking the whole queue (rather than only a
// selected package's dependency list) means root requirements fork too.
func (s *solver) resolveFork(f *forkState) ([]*forkState, error) {
	for {
		if len(f.pending) == 0 {
			return []*forkState{f}, nil
		}

		if group, rest, ok := findSplit(f.pending); ok {
			return s.resolveChildren(s.splitFork(f, group, rest))
		}

		item := f.pending[0]
		rest := f.pending[1:]

		if !marker.Equal(item.req.Marker, marker.True) && marker.IsDisjoint(item.req.Marker, f.marker) {
			f.pending = rest

			continue
		}

		name := item.req.Name

		if existing, ok := f.selected[name]; ok {
			leaves, err := s.attachExisting(f, rest, item, existing)
			if err != nil {
				return nil, err
			}

			f = leaves

			continue
		}

		return s.selectCandidate(f, rest, item)
	}
}

// attachExisting validates a duplicate requirement against the version
// already chosen for name in this fork, and records the edge.
func (s *solver) attachExisting(f *forkState, rest []pendingItem, item pendingItem, existing requirement.PackageId) (*forkState, error) {
	if existing.Source.Kind == requirement.SourceRegistry {
		v, err := version.Parse(existing.Version)
		if err != nil || !item.req.Specifier.Contains(v) {
			return nil, &ForkError{
				Marker:  f.marker,
				Package: item.req.Name,
				Reason:  fmt.Sprintf("already selected %s, incompatible with %s", existing, item.req.Specifier),
			}
		}
	}

	f.edges = append(f.edges, Edge{
		From:   item.from,
		To:     existing,
		Marker: UniversalMarker{Pep508: item.req.Marker},
		Extra:  item.extra,
		Group:  item.group,
		Extras: item.req.Extras,
	})
	f.pending = rest

	return f, nil
}

// selectCandidate tries each feasible candidate version of item.req.Name,
// in policy order, chronologically backtracking to the next candidate
// whenever a choice leads to failure deeper in the tree.
func (s *solver) selectCandidate(f *forkState, rest []pendingItem, item pendingItem) ([]*forkState, error) {
	name := item.req.Name

	isDirect := item.from.Name == ""

	candidates, err := s.cache.candidatesFor(s.ctx, name)
	if err != nil {
		return nil, fmt.Errorf("fetching candidates for %q: %w", name, err)
	}

	ordered := s.orderCandidates(name, candidates, item.req, isDirect)
	if len(ordered) == 0 {
		return nil, &ForkError{Marker: f.marker, Package: name, Reason: "no candidate satisfies the requirement"}
	}

	var lastErr error

	for _, cand := range ordered {
		id := requirement.PackageId{Name: name, Version: cand.Version, Source: cand.Source}

		meta, err := s.cache.metadataFor(s.ctx, id)
		if err != nil {
			lastErr = err

			continue
		}

		trial := f.clone()
		trial.selected[name] = id
		trial.edges = append(trial.edges, Edge{
			From:   item.from,
			To:     id,
			Marker: UniversalMarker{Pep508: item.req.Marker},
			Extra:  item.extra,
			Group:  item.group,
			Extras: item.req.Extras,
		})

		trial.pending = append(trial.pending, collectDeps(id, meta, item.req.Extras)...)
		trial.pending = append(trial.pending, rest...)

		leaves, err := s.resolveFork(trial)
		if err == nil {
			return leaves, nil
		}

		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("exhausted candidates")
	}

	return nil, &ForkError{Marker: f.marker, Package: name, Reason: lastErr.Error()}
}

func (s *solver) resolveChildren(children []*forkState) ([]*forkState, error) {
	var leaves []*forkState

	for _, child := range children {
		childLeaves, err := s.resolveFork(child)
		if err != nil {
			return nil, err
		}

		leaves = append(leaves, childLeaves...)
	}

	return leaves, nil
}

// collectDeps turns a package's unconditional requirements plus the
// optional-dependency groups named by activeExtras into pending work,
// tagging each item with the extra it came from so the lockfile can file
// the edge under the right list. Group keys are visited in sorted order so
// the pending queue, and with it the output, stays deterministic.
func collectDeps(from requirement.PackageId, meta Metadata, activeExtras []string) []pendingItem {
	items := make([]pendingItem, 0, len(meta.Requires))

	for _, d := range meta.Requires {
		items = append(items, pendingItem{from: from, req: d})
	}

	active := make(map[string]bool, len(activeExtras))
	for _, e := range activeExtras {
		active[e] = true
	}

	extras := make([]string, 0, len(meta.DependencyGroups))
	for extra := range meta.DependencyGroups {
		extras = append(extras, extra)
	}

	sort.Strings(extras)

	for _, extra := range extras {
		if !active[extra] {
			continue
		}

		for _, d := range meta.DependencyGroups[extra] {
			items = append(items, pendingItem{from: from, req: d, extra: extra})
		}
	}

	return items
}

// findSplit looks for a name requested more than once in the pending
// queue with pairwise-disjoint markers — the trigger for forking. The
// returned rest holds every item not in the group, in queue order.
func findSplit(items []pendingItem) (group, rest []pendingItem, ok bool) {
	byName := make(map[string][]pendingItem)

	var order []string

	for _, it := range items {
		if _, seen := byName[it.req.Name]; !seen {
			order = append(order, it.req.Name)
		}

		byName[it.req.Name] = append(byName[it.req.Name], it)
	}

	for _, n := range order {
		g := byName[n]
		if len(g) > 1 && pairwiseDisjoint(g) {
			for _, it := range items {
				if it.req.Name != n {
					rest = append(rest, it)
				}
			}

			return g, rest, true
		}
	}

	return nil, nil, false
}

func pairwiseDisjoint(items []pendingItem) bool {
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			if !marker.IsDisjoint(items[i].req.Marker, items[j].req.Marker) {
				return false
			}
		}
	}

	return true
}

// splitFork splits f into one child fork per entry in group (each
// intersected with f's marker), plus a remainder fork for the complement
// of their union, if that complement is satisfiable. Every pending item
// not in the group propagates to every child with its marker intersected
// with the child's.
func (s *solver) splitFork(f *forkState, group, rest []pendingItem) []*forkState {
	var union marker.Node = marker.False

	var children []*forkState

	for _, it := range group {
		childMarker := marker.Conjoin(f.marker, it.req.Marker)
		union = marker.Disjoin(union, it.req.Marker)

		child := f.clone()
		child.marker = childMarker
		child.pending = append([]pendingItem{it}, propagate(rest, childMarker)...)

		children = append(children, child)
	}

	remainderMarker := marker.Conjoin(f.marker, marker.Negate(union))
	if !marker.IsDisjoint(remainderMarker, marker.True) {
		remainder := f.clone()
		remainder.marker = remainderMarker
		remainder.pending = propagate(rest, remainderMarker)
		children = append(children, remainder)
	}

	return children
}

// propagate re-marks each pending item's requirement marker intersected
// with childMarker, so dependencies not involved in a split still apply
// correctly within each child fork.
func propagate(items []pendingItem, childMarker marker.Node) []pendingItem {
	out := make([]pendingItem, len(items))

	for i, it := range items {
		narrowed := it
		narrowed.req.Marker = marker.Conjoin(it.req.Marker, childMarker)
		out[i] = narrowed
	}

	return out
}

// orderCandidates filters candidates to those satisfying req (specifier,
// prerelease policy, exclude-newer cutoff) and sorts them per the
// resolution mode, biasing the order — never the filter — toward any
// version named in s.preferences for this package.
func (s *solver) orderCandidates(name string, candidates []Candidate, req requirement.Requirement, isDirect bool) []Candidate {
	cutoff, hasCutoff := s.opts.cutoffFor(name)

	var feasible []Candidate

	var anyStable bool

	for _, c := range candidates {
		v, err := version.Parse(c.Version)
		if err != nil {
			continue
		}

		if !req.Specifier.Contains(v) {
			continue
		}

		if hasCutoff && !c.PublishedAt.IsZero() && c.PublishedAt.After(cutoff) {
			continue
		}

		if !v.IsPreRelease() {
			anyStable = true
		}

		feasible = append(feasible, c)
	}

	feasible = filterPrerelease(feasible, s.opts.Prerelease, anyStable)

	ascending := s.opts.Mode == ModeLowest || (s.opts.Mode == ModeLowestDirect && isDirect)

	sort.SliceStable(feasible, func(i, j int) bool {
		vi, _ := version.Parse(feasible[i].Version)
		vj, _ := version.Parse(feasible[j].Version)

		if ascending {
			return vi.Less(vj)
		}

		return vj.Less(vi)
	})

	if preferred, ok := s.preferences[name]; ok {
		for i, c := range feasible {
			if c.Version == preferred {
				reordered := make([]Candidate, 0, len(feasible))
				reordered = append(reordered, c)
				reordered = append(reordered, feasible[:i]...)
				reordered = append(reordered, feasible[i+1:]...)
				feasible = reordered

				break
			}
		}
	}

	return feasible
}

func filterPrerelease(candidates []Candidate, mode PrereleaseMode, anyStable bool) []Candidate {
	if mode == PrereleaseAllow {
		return candidates
	}

	if mode == PrereleaseDisallow {
		return onlyStable(candidates)
	}

	// IfNecessary, IfNecessaryOrExplicit, and Explicit all reduce to
	// "stable if available" here; distinguishing an explicit pin from a
	// necessary fallback needs requirement-level provenance this filter
	// does not track.
	if anyStable {
		return onlyStable(candidates)
	}

	return candidates
}

func onlyStable(candidates []Candidate) []Candidate {
	var out []Candidate

	for _, c := range candidates {
		v, err := version.Parse(c.Version)
		if err == nil && v.IsPreRelease() {
			continue
		}

		out = append(out, c)
	}

	return out
}

// mergeForks unions the nodes and edges of every terminal fork into a
// single graph, per the completion rule: a package chosen identically in
// multiple forks is labeled with the disjunction of those forks' markers;
// a package chosen differently across forks keeps each version as its own
// node, each carrying only its own fork's marker. When resolution forked
// at all, the leaves' markers are recorded verbatim on the graph — the
// lockfile's resolution-markers come from here, including a remainder
// fork's marker even when that fork selected nothing.
func mergeForks(leaves []*forkState) *Graph {
	nodeMarkers := make(map[string]marker.Node) // PackageId.String() -> accumulated marker
	nodeForks := make(map[string][]marker.Node)
	nodeIDs := make(map[string]requirement.PackageId)

	var order []string

	var edges []Edge

	for _, f := range leaves {
		for _, id := range f.selected {
			key := id.String()
			if _, ok := nodeMarkers[key]; !ok {
				order = append(order, key)
				nodeIDs[key] = id
				nodeMarkers[key] = marker.False
			}

			nodeMarkers[key] = marker.Disjoin(nodeMarkers[key], f.marker)
			nodeForks[key] = appendMarkerOnce(nodeForks[key], f.marker)
		}

		edges = append(edges, f.edges...)
	}

	sort.Strings(order)

	g := &Graph{Edges: edges}
	for _, key := range order {
		g.Nodes = append(g.Nodes, Node{
			ID:          nodeIDs[key],
			Marker:      UniversalMarker{Pep508: nodeMarkers[key]},
			ForkMarkers: nodeForks[key],
		})
	}

	if len(leaves) > 1 {
		var forks []marker.Node
		for _, f := range leaves {
			forks = appendMarkerOnce(forks, f.marker)
		}

		for _, m := range forks {
			g.Forks = append(g.Forks, UniversalMarker{Pep508: m})
		}
	}

	return g
}

func appendMarkerOnce(markers []marker.Node, m marker.Node) []marker.Node {
	for _, existing := range markers {
		if marker.Equal(existing, m) {
			return markers
		}
	}

	return append(markers, m)
}
