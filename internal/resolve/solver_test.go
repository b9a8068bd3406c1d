package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/kadirtech/pylock/internal/requirement"
)

// fakeOracle is an in-memory Oracle backed by a fixed package universe,
// keyed by normalized name -> version -> Metadata.
type fakeOracle struct {
	versions map[string][]string
	meta     map[string]map[string]Metadata
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{versions: map[string][]string{}, meta: map[string]map[string]Metadata{}}
}

func (o *fakeOracle) add(name, ver string, m Metadata) {
	o.versions[name] = append(o.versions[name], ver)
	if o.meta[name] == nil {
		o.meta[name] = map[string]Metadata{}
	}
	o.meta[name][ver] = m
}

func (o *fakeOracle) Candidates(_ context.Context, name string) ([]Candidate, error) {
	var out []Candidate
	for _, v := range o.versions[name] {
		out = append(out, Candidate{Version: v})
	}
	return out, nil
}

func (o *fakeOracle) MetadataFor(_ context.Context, id requirement.PackageId) (Metadata, error) {
	return o.meta[id.Name][id.Version], nil
}

func mustReq(t *testing.T, raw string) requirement.Requirement {
	t.Helper()
	req, err := requirement.Parse(raw)
	if err != nil {
		t.Fatalf("requirement.Parse(%q): %v", raw, err)
	}
	return req
}

func TestResolveSimpleChain(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("a", "1.0.0", Metadata{Requires: []requirement.Requirement{mustReq(t, "b>=1.0")}})
	oracle.add("b", "1.0.0", Metadata{})
	oracle.add("b", "2.0.0", Metadata{})

	manifest := ResolverManifest{RootRequirements: []requirement.Requirement{mustReq(t, "a")}}

	g, err := Resolve(context.Background(), manifest, oracle, ResolverOptions{}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(g.ByName("a")) != 1 || len(g.ByName("b")) != 1 {
		t.Fatalf("expected one node each for a and b, got graph %+v", g)
	}

	if g.ByName("b")[0].ID.Version != "2.0.0" {
		t.Fatalf("expected highest-mode to pick b 2.0.0, got %s", g.ByName("b")[0].ID.Version)
	}
}

func TestResolveLowestMode(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("a", "1.0.0", Metadata{Requires: []requirement.Requirement{mustReq(t, "b>=1.0")}})
	oracle.add("b", "1.0.0", Metadata{})
	oracle.add("b", "2.0.0", Metadata{})

	manifest := ResolverManifest{RootRequirements: []requirement.Requirement{mustReq(t, "a")}}

	g, err := Resolve(context.Background(), manifest, oracle, ResolverOptions{Mode: ModeLowest}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if g.ByName("b")[0].ID.Version != "1.0.0" {
		t.Fatalf("expected lowest-mode to pick b 1.0.0, got %s", g.ByName("b")[0].ID.Version)
	}
}

func TestResolveForksOnDisjointMarkers(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("a", "1.0.0", Metadata{Requires: []requirement.Requirement{
		mustReq(t, "b>=1.0; sys_platform == \"linux\""),
		mustReq(t, "b<1.0; sys_platform == \"win32\""),
	}})
	oracle.add("b", "0.9.0", Metadata{})
	oracle.add("b", "1.5.0", Metadata{})

	manifest := ResolverManifest{RootRequirements: []requirement.Requirement{mustReq(t, "a")}}

	g, err := Resolve(context.Background(), manifest, oracle, ResolverOptions{}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	bNodes := g.ByName("b")
	if len(bNodes) != 2 {
		t.Fatalf("expected two versions of b across forks, got %+v", bNodes)
	}

	versions := map[string]bool{}
	for _, n := range bNodes {
		versions[n.ID.Version] = true
	}

	if !versions["1.5.0"] || !versions["0.9.0"] {
		t.Fatalf("expected b 1.5.0 and b 0.9.0, got %+v", versions)
	}
}

func TestResolveNoForkOnOverlappingMarkers(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("a", "1.0.0", Metadata{Requires: []requirement.Requirement{
		mustReq(t, "b>=1.0; python_version >= \"3.8\""),
		mustReq(t, "b>=1.0; python_version >= \"3.9\""),
	}})
	oracle.add("b", "1.0.0", Metadata{})

	manifest := ResolverManifest{RootRequirements: []requirement.Requirement{mustReq(t, "a")}}

	g, err := Resolve(context.Background(), manifest, oracle, ResolverOptions{}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(g.ByName("b")) != 1 {
		t.Fatalf("expected a single b node when markers overlap, got %+v", g.ByName("b"))
	}
}

func TestResolveForksOnDisjointRootRequirements(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("a", "1.0.0", Metadata{})
	oracle.add("a", "2.0.0", Metadata{})

	manifest := ResolverManifest{RootRequirements: []requirement.Requirement{
		mustReq(t, "a>=2; sys_platform == \"linux\""),
		mustReq(t, "a<2; sys_platform == \"darwin\""),
	}}

	g, err := Resolve(context.Background(), manifest, oracle, ResolverOptions{}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	aNodes := g.ByName("a")
	if len(aNodes) != 2 {
		t.Fatalf("expected two versions of a across forks, got %+v", aNodes)
	}

	versions := map[string]bool{}
	for _, n := range aNodes {
		versions[n.ID.Version] = true
	}

	if !versions["2.0.0"] || !versions["1.0.0"] {
		t.Fatalf("expected a 2.0.0 and a 1.0.0, got %+v", versions)
	}

	// The linux fork, the darwin fork, and the remainder covering every
	// other platform.
	if len(g.Forks) != 3 {
		t.Fatalf("expected the three-way fork partition, got %d forks: %+v", len(g.Forks), g.Forks)
	}
}

func TestResolveDoesNotForkWithoutDisjointMarkers(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("a", "1.0.0", Metadata{})

	manifest := ResolverManifest{
		RootRequirements: []requirement.Requirement{mustReq(t, "a>=1"), mustReq(t, "a<2")},
	}

	g, err := Resolve(context.Background(), manifest, oracle, ResolverOptions{}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(g.Forks) != 0 {
		t.Fatalf("expected no forks for overlapping root requirements, got %+v", g.Forks)
	}

	if len(g.ByName("a")) != 1 {
		t.Fatalf("expected a single a node, got %+v", g.ByName("a"))
	}
}

func TestResolveBacktracksPastObsoleteVersions(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("a", "1.0.0", Metadata{})
	oracle.add("a", "2.0.0", Metadata{})

	for _, v := range []string{"2.0.0", "2.0.1", "2.0.2", "2.0.9"} {
		oracle.add("b", v, Metadata{Requires: []requirement.Requirement{mustReq(t, "a==1.0.0")}})
	}

	oracle.add("b", "1.0.0", Metadata{Requires: []requirement.Requirement{mustReq(t, "too-old>=1.0")}})

	manifest := ResolverManifest{
		RootRequirements: []requirement.Requirement{mustReq(t, "a"), mustReq(t, "b")},
	}

	g, err := Resolve(context.Background(), manifest, oracle, ResolverOptions{}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if got := g.ByName("a")[0].ID.Version; got != "1.0.0" {
		t.Fatalf("expected a==1.0.0, got %s", got)
	}

	if got := g.ByName("b")[0].ID.Version; got != "2.0.9" {
		t.Fatalf("expected b==2.0.9, got %s", got)
	}
}

func TestResolveUnsatisfiableFails(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("a", "1.0.0", Metadata{Requires: []requirement.Requirement{mustReq(t, "b>=2.0")}})
	oracle.add("b", "1.0.0", Metadata{})

	manifest := ResolverManifest{RootRequirements: []requirement.Requirement{mustReq(t, "a")}}

	_, err := Resolve(context.Background(), manifest, oracle, ResolverOptions{}, nil)
	if err == nil {
		t.Fatalf("expected Resolve to fail when no candidate satisfies b>=2.0")
	}
}

func TestResolvePreferencesBiasOrderNotOutcome(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("a", "1.0.0", Metadata{Requires: []requirement.Requirement{mustReq(t, "b>=1.0,<3.0")}})
	oracle.add("b", "1.0.0", Metadata{})
	oracle.add("b", "2.0.0", Metadata{})

	manifest := ResolverManifest{RootRequirements: []requirement.Requirement{mustReq(t, "a")}}

	g, err := Resolve(context.Background(), manifest, oracle, ResolverOptions{}, map[string]string{"b": "1.0.0"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if g.ByName("b")[0].ID.Version != "1.0.0" {
		t.Fatalf("expected preference for b 1.0.0 to win within the feasible set, got %s", g.ByName("b")[0].ID.Version)
	}
}

func TestResolveRejectsDeclaredConflictInOneFork(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("lib", "1.0.0", Metadata{
		ProvidesExtras: []string{"gpu", "cpu"},
		DependencyGroups: map[string][]requirement.Requirement{
			"gpu": {mustReq(t, "gpu-accel")},
			"cpu": {mustReq(t, "cpu-accel")},
		},
	})
	oracle.add("gpu-accel", "1.0.0", Metadata{})
	oracle.add("cpu-accel", "1.0.0", Metadata{})

	manifest := ResolverManifest{
		RootRequirements: []requirement.Requirement{mustReq(t, "lib[gpu,cpu]")},
		Conflicts: [][]ConflictItem{
			{{Package: "lib", Extra: "gpu"}, {Package: "lib", Extra: "cpu"}},
		},
	}

	_, err := Resolve(context.Background(), manifest, oracle, ResolverOptions{}, nil)

	var ce *ConflictingExtraError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a ConflictingExtraError, got %v", err)
	}
}

func TestResolveAllowsConflictSplitAcrossForks(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("lib", "1.0.0", Metadata{
		ProvidesExtras: []string{"gpu", "cpu"},
		DependencyGroups: map[string][]requirement.Requirement{
			"gpu": {mustReq(t, "gpu-accel")},
			"cpu": {mustReq(t, "cpu-accel")},
		},
	})
	oracle.add("gpu-accel", "1.0.0", Metadata{})
	oracle.add("cpu-accel", "1.0.0", Metadata{})

	manifest := ResolverManifest{
		RootRequirements: []requirement.Requirement{
			mustReq(t, "lib[gpu]; sys_platform == \"linux\""),
			mustReq(t, "lib[cpu]; sys_platform == \"darwin\""),
		},
		Conflicts: [][]ConflictItem{
			{{Package: "lib", Extra: "gpu"}, {Package: "lib", Extra: "cpu"}},
		},
	}

	if _, err := Resolve(context.Background(), manifest, oracle, ResolverOptions{}, nil); err != nil {
		t.Fatalf("conflicting extras in disjoint forks must resolve, got %v", err)
	}
}

func TestResolveIsStableAcrossRepeatedRuns(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("a", "1.0.0", Metadata{Requires: []requirement.Requirement{mustReq(t, "b>=1.0")}})
	oracle.add("b", "1.0.0", Metadata{})
	oracle.add("b", "2.0.0", Metadata{})

	manifest := ResolverManifest{RootRequirements: []requirement.Requirement{mustReq(t, "a")}}

	g1, err := Resolve(context.Background(), manifest, oracle, ResolverOptions{}, nil)
	if err != nil {
		t.Fatalf("Resolve (1): %v", err)
	}

	prefs := map[string]string{"b": g1.ByName("b")[0].ID.Version}

	g2, err := Resolve(context.Background(), manifest, oracle, ResolverOptions{}, prefs)
	if err != nil {
		t.Fatalf("Resolve (2): %v", err)
	}

	if g1.ByName("b")[0].ID.Version != g2.ByName("b")[0].ID.Version {
		t.Fatalf("expected resolving with own output as preferences to be a fixed point, got %s vs %s",
			g1.ByName("b")[0].ID.Version, g2.ByName("b")[0].ID.Version)
	}
}
