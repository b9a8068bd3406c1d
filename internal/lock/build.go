package lock

import (
	"fmt"
	"sort"

	"github.com/kadirtech/pylock/internal/marker"
	"github.com/kadirtech/pylock/internal/resolve"
	"github.com/kadirtech/pylock/internal/version"
	"github.com/kadirtech/pylock/internal/wheel"
)

// WheelArtifact pairs a lockfile wheel entry with its parsed filename, so
// Build can prune entries unreachable under a node's marker without
// re-parsing every candidate's name.
type WheelArtifact struct {
	Entry  Wheel
	Parsed wheel.Filename
}

// PackageArtifacts is the sdist/wheel listing a collaborator supplies for
// one resolved distribution; Build consumes these to populate and prune
// each package entry's Sdist/Wheels fields. Index by PackageId.String().
type PackageArtifacts struct {
	Sdist  *Sdist
	Wheels []WheelArtifact
}

// Build constructs a Lock from a resolution graph, following
// from_resolution step for step: group by base package and detect
// fork-duplicated versions, attach and merge dependency edges by
// simplified marker, prune unreachable/incompatible wheels, then sort and
// index. Construction fails on any violated invariant.
func Build(g *resolve.Graph, rp version.Range, opts Options, manifest Manifest, artifacts map[string]PackageArtifacts) (*Lock, error) {
	rpFloor, _, hasFloor := rp.LowerBound()

	byName := make(map[string][]string) // name -> distinct package id keys
	nodeByKey := make(map[string]resolve.Node, len(g.Nodes))

	for _, n := range g.Nodes {
		key := n.ID.String()
		nodeByKey[key] = n

		if !containsStr(byName[n.ID.Name], key) {
			byName[n.ID.Name] = append(byName[n.ID.Name], key)
		}
	}

	packages := make(map[string]*Package, len(g.Nodes))

	for key, n := range nodeByKey {
		pkg := &Package{
			ID:                   n.ID,
			OptionalDependencies: make(map[string][]Dependency),
			DependencyGroups:     make(map[string][]Dependency),
		}

		if len(byName[n.ID.Name]) > 1 {
			pkg.ForkMarkers = n.ForkMarkers
		}

		if art, ok := artifacts[key]; ok {
			pkg.Sdist = art.Sdist
			pkg.Wheels = pruneWheels(art.Wheels, n.Marker.Pep508, rp)
		}

		pkg.RequiresHash = requiresHash(n.ID.Source.Kind)

		packages[key] = pkg
	}

	type depKey struct {
		from, list, target, markerKey string
	}

	merged := make(map[depKey]*Dependency)

	var order []depKey

	for _, e := range g.Edges {
		fromKey := e.From.String()

		if _, ok := packages[fromKey]; !ok {
			continue // root pseudo-edges have a zero-value From; nothing to attach to
		}

		simplified := e.Marker.Pep508
		complexified := e.Marker.Pep508

		if hasFloor {
			simplified = marker.Simplify(e.Marker.Pep508, rpFloor)
			complexified = marker.Complexify(simplified, rpFloor)
		}

		list := "deps"

		switch {
		case e.Extra != "":
			list = "extra:" + e.Extra
		case e.Group != "":
			list = "group:" + e.Group
		}

		dk := depKey{from: fromKey, list: list, target: e.To.String(), markerKey: simplified.String()}

		// Two edges to the same target under an equal simplified marker
		// merge by unioning their extras; the key is the simplified form,
		// since two complexified markers differing only by the envelope
		// describe the same edge.
		if existing, ok := merged[dk]; ok {
			existing.Extras = unionSorted(existing.Extras, e.Extras)
		} else {
			merged[dk] = &Dependency{
				PackageID:          e.To,
				Extras:             unionSorted(nil, e.Extras),
				SimplifiedMarker:   simplified,
				ComplexifiedMarker: complexified,
			}
			order = append(order, dk)
		}
	}

	for _, dk := range order {
		src := packages[dk.from]
		dep := *merged[dk]

		switch {
		case dk.list == "deps":
			src.Dependencies = append(src.Dependencies, dep)
		case len(dk.list) > 6 && dk.list[:6] == "extra:":
			extra := dk.list[6:]
			src.OptionalDependencies[extra] = append(src.OptionalDependencies[extra], dep)
		case len(dk.list) > 6 && dk.list[:6] == "group:":
			group := dk.list[6:]
			src.DependencyGroups[group] = append(src.DependencyGroups[group], dep)
		}
	}

	l := &Lock{
		Version:        CurrentVersion,
		Revision:       CurrentRevision,
		RequiresPython: rp,
		OptionsValue:   opts,
		ManifestValue:  manifest,
	}

	for _, p := range packages {
		p.Dependencies = dropUnprovidedExtras(sortDependencies(p.Dependencies), packages)

		for extra := range p.OptionalDependencies {
			p.OptionalDependencies[extra] = dropUnprovidedExtras(sortDependencies(p.OptionalDependencies[extra]), packages)
		}

		for group := range p.DependencyGroups {
			p.DependencyGroups[group] = dropUnprovidedExtras(sortDependencies(p.DependencyGroups[group]), packages)
		}

		l.Packages = append(l.Packages, *p)
	}

	sort.Slice(l.Packages, func(i, j int) bool {
		return l.Packages[i].ID.Compare(l.Packages[j].ID) < 0
	})

	l.rebuildIndex()

	l.ForkMarkers = g.Forks

	if err := validate(l); err != nil {
		return nil, err
	}

	return l, nil
}

func pruneWheels(wheels []WheelArtifact, nodeMarker marker.Node, rp version.Range) []Wheel {
	var out []Wheel

	for _, w := range wheels {
		if !wheelReachable(w.Parsed, nodeMarker) {
			continue
		}

		if !wheelPythonCompatible(w.Parsed, rp) {
			continue
		}

		out = append(out, w.Entry)
	}

	return out
}

// wheelReachable reports whether any of the wheel's encoded platform tags
// intersects the node's universal marker, per the §4.3 pruning contract.
func wheelReachable(f wheel.Filename, nodeMarker marker.Node) bool {
	if len(f.Tags) == 0 {
		return true
	}

	var plat marker.Node = marker.False

	for _, t := range f.Tags {
		pc, _ := wheel.Classify(t.Platform)
		plat = marker.Disjoin(plat, platformClassMarker(pc))
	}

	return !marker.IsDisjoint(plat, nodeMarker)
}

func platformClassMarker(pc wheel.PlatformClass) marker.Node {
	switch pc {
	case wheel.PlatformLinux:
		return marker.Expr(marker.SysPlatform, marker.OpEq, "linux")
	case wheel.PlatformWindows:
		return marker.Expr(marker.SysPlatform, marker.OpEq, "win32")
	case wheel.PlatformMacOS:
		return marker.Expr(marker.SysPlatform, marker.OpEq, "darwin")
	default:
		return marker.True
	}
}

// wheelPythonCompatible reports whether the wheel's encoded python tags
// admit at least one version also admitted by requires_python. Generic
// tags ("py2", "py3", "cp3") carry no minor version and are always treated
// as compatible, since there is nothing more specific to check.
func wheelPythonCompatible(f wheel.Filename, rp version.Range) bool {
	if rp.IsUnbounded() {
		return true
	}

	for _, t := range f.Tags {
		maj, min, ok := parsePythonTagVersion(t.Python)
		if !ok {
			return true
		}

		v, err := version.Parse(fmt.Sprintf("%d.%d.0", maj, min))
		if err != nil {
			return true
		}

		if rp.Contains(v) {
			return true
		}
	}

	return false
}

func parsePythonTagVersion(tag string) (major, minor int, ok bool) {
	if len(tag) < 3 {
		return 0, 0, false
	}

	kind := tag[:2]
	if kind != "cp" && kind != "py" {
		return 0, 0, false
	}

	digits := tag[2:]
	if len(digits) < 2 {
		return 0, 0, false
	}

	maj := int(digits[0] - '0')
	if maj < 0 || maj > 9 {
		return 0, 0, false
	}

	min := 0

	for _, c := range digits[1:] {
		if c < '0' || c > '9' {
			return 0, 0, false
		}

		min = min*10 + int(c-'0')
	}

	return maj, min, true
}

// unionSorted merges more into base, deduplicated and sorted, so merged
// edges stay byte-stable across runs.
func unionSorted(base, more []string) []string {
	if len(more) == 0 {
		return base
	}

	seen := make(map[string]bool, len(base)+len(more))
	out := make([]string, 0, len(base)+len(more))

	for _, s := range append(append([]string{}, base...), more...) {
		if seen[s] {
			continue
		}

		seen[s] = true

		out = append(out, s)
	}

	sort.Strings(out)

	return out
}

// dropUnprovidedExtras silently removes from each dependency any extra the
// target package does not actually provide as an optional-dependencies
// key.
func dropUnprovidedExtras(deps []Dependency, packages map[string]*Package) []Dependency {
	for i, d := range deps {
		if len(d.Extras) == 0 {
			continue
		}

		target, ok := packages[d.PackageID.String()]
		if !ok {
			continue
		}

		var kept []string

		for _, extra := range d.Extras {
			if _, provided := target.OptionalDependencies[extra]; provided {
				kept = append(kept, extra)
			}
		}

		deps[i].Extras = kept
	}

	return deps
}

func containsStr(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}

	return false
}

// validate enforces the Lock invariants that Build itself cannot rule out
// by construction. It also runs on every deserialized lock, so a
// hand-edited lockfile is held to the same rules as a freshly built one.
func validate(l *Lock) error {
	if err := validateForkCoverage(l); err != nil {
		return err
	}

	seen := make(map[string]bool, len(l.Packages))

	for _, p := range l.Packages {
		key := p.ID.String()
		if seen[key] {
			return newStructuralError(DuplicatePackage, p.ID.Name, key)
		}

		seen[key] = true
	}

	for _, p := range l.Packages {
		if err := validateDepList(l, p, p.Dependencies, ""); err != nil {
			return err
		}

		for extra, deps := range p.OptionalDependencies {
			if err := validateDepList(l, p, deps, "extra:"+extra); err != nil {
				return err
			}
		}

		for group, deps := range p.DependencyGroups {
			if err := validateDepList(l, p, deps, "group:"+group); err != nil {
				return err
			}
		}

		if requiresHashTrue(p.RequiresHash) {
			for _, w := range p.Wheels {
				if w.Hash == "" {
					return newStructuralError(MissingHash, p.ID.Name, w.Filename)
				}
			}
		} else if requiresHashFalse(p.RequiresHash) {
			for _, w := range p.Wheels {
				if w.Hash != "" {
					return newStructuralError(UnexpectedHash, p.ID.Name, w.Filename)
				}
			}
		}

		for _, w := range p.Wheels {
			if w.Filename == "" {
				continue
			}

			pf, err := wheel.ParseFilename(w.Filename)
			if err != nil {
				continue
			}

			if p.ID.Version != "" && pf.Version != "" {
				pv, perr := version.Parse(pf.Version)
				ev, eerr := version.Parse(p.ID.Version)

				if perr == nil && eerr == nil && !pv.EqualIgnoringLocal(ev) {
					return newStructuralError(InconsistentVersions, p.ID.Name, pf.Version+" != "+p.ID.Version)
				}
			}
		}
	}

	return nil
}

// validateForkCoverage enforces the fork-coverage invariant: when the
// lock records resolution markers, their union must cover the whole
// marker space implied by requires-python and any declared supported
// environments.
func validateForkCoverage(l *Lock) error {
	if len(l.ForkMarkers) == 0 {
		return nil
	}

	var union marker.Node = marker.False
	for _, m := range l.ForkMarkers {
		union = marker.Disjoin(union, m.Pep508)
	}

	scope := marker.True
	if len(l.SupportedEnvironments) > 0 {
		scope = marker.False
		for _, m := range l.SupportedEnvironments {
			scope = marker.Disjoin(scope, m)
		}
	}

	if rpFloor, _, ok := l.RequiresPython.LowerBound(); ok {
		scope = marker.Complexify(scope, rpFloor)
	}

	if !marker.IsDisjoint(marker.Negate(union), scope) {
		return newStructuralError(IncompleteForkMarkers, "", "resolution markers do not cover the declared marker space")
	}

	return nil
}

func requiresHashTrue(b *bool) bool  { return b != nil && *b }
func requiresHashFalse(b *bool) bool { return b != nil && !*b }

func validateDepList(l *Lock, p Package, deps []Dependency, list string) error {
	seen := make(map[string]bool, len(deps))

	for _, d := range deps {
		key := d.PackageID.String() + "\x00" + d.SimplifiedMarker.String()
		if seen[key] {
			kind := DuplicateDependency
			switch {
			case len(list) >= len("group:") && list[:len("group:")] == "group:":
				kind = DuplicateDependencyGroup
			case list != "":
				kind = DuplicateOptionalDependency
			}

			return newStructuralError(kind, p.ID.Name, d.PackageID.String())
		}

		seen[key] = true

		if _, ok := l.PackageByID(d.PackageID); !ok {
			return newStructuralError(UnrecognizedDependency, p.ID.Name, d.PackageID.String())
		}
	}

	return nil
}
