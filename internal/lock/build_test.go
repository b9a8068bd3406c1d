package lock

import (
	"context"
	"testing"

	"github.com/kadirtech/pylock/internal/marker"
	"github.com/kadirtech/pylock/internal/requirement"
	"github.com/kadirtech/pylock/internal/resolve"
	"github.com/kadirtech/pylock/internal/version"
)

// fakeOracle is an in-memory resolve.Oracle backed by a fixed package
// universe, mirroring internal/resolve's own test double.
type fakeOracle struct {
	versions map[string][]string
	meta     map[string]map[string]resolve.Metadata
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{versions: map[string][]string{}, meta: map[string]map[string]resolve.Metadata{}}
}

func (o *fakeOracle) add(name, ver string, m resolve.Metadata) {
	o.versions[name] = append(o.versions[name], ver)
	if o.meta[name] == nil {
		o.meta[name] = map[string]resolve.Metadata{}
	}
	o.meta[name][ver] = m
}

func (o *fakeOracle) Candidates(_ context.Context, name string) ([]resolve.Candidate, error) {
	var out []resolve.Candidate
	for _, v := range o.versions[name] {
		out = append(out, resolve.Candidate{Version: v})
	}

	return out, nil
}

func (o *fakeOracle) MetadataFor(_ context.Context, id requirement.PackageId) (resolve.Metadata, error) {
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

func TestBuildSerializeDeserializeRoundTrip(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("a", "1.0.0", resolve.Metadata{Requires: []requirement.Requirement{mustReq(t, "b>=1.0")}})
	oracle.add("b", "1.0.0", resolve.Metadata{})
	oracle.add("b", "2.0.0", resolve.Metadata{})

	manifest := resolve.ResolverManifest{RootRequirements: []requirement.Requirement{mustReq(t, "a")}}

	g, err := resolve.Resolve(context.Background(), manifest, oracle, resolve.ResolverOptions{}, nil)
	if err != nil {
		t.Fatalf("resolve.Resolve: %v", err)
	}

	rp, err := version.ParseRange(">=3.9")
	if err != nil {
		t.Fatalf("ParseRange: %v", err)
	}

	l, err := Build(g, rp, Options{}, Manifest{Requirements: manifest.RootRequirements}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(l.Packages) != 2 {
		t.Fatalf("expected 2 packages, got %d", len(l.Packages))
	}

	data, err := Serialize(l)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	l2, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v\n%s", err, data)
	}

	if len(l2.Packages) != len(l.Packages) {
		t.Fatalf("round trip changed package count: %d != %d", len(l2.Packages), len(l.Packages))
	}

	for i, p := range l.Packages {
		if p.ID.Name != l2.Packages[i].ID.Name || p.ID.Version != l2.Packages[i].ID.Version {
			t.Fatalf("round trip mismatch at %d: %v != %v", i, p.ID, l2.Packages[i].ID)
		}
	}

	data2, err := Serialize(l2)
	if err != nil {
		t.Fatalf("re-Serialize: %v", err)
	}

	if string(data) != string(data2) {
		t.Fatalf("serialization is not a fixed point:\n--- first ---\n%s\n--- second ---\n%s", data, data2)
	}
}

func TestBuildKeepsPythonVersionEdgeUnderPatchLevelFloor(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("app", "1.0.0", resolve.Metadata{Requires: []requirement.Requirement{
		mustReq(t, "a==1.0.0; python_version == \"3.10\""),
	}})
	oracle.add("a", "1.0.0", resolve.Metadata{})

	manifest := resolve.ResolverManifest{RootRequirements: []requirement.Requirement{mustReq(t, "app")}}

	g, err := resolve.Resolve(context.Background(), manifest, oracle, resolve.ResolverOptions{}, nil)
	if err != nil {
		t.Fatalf("resolve.Resolve: %v", err)
	}

	rp, err := version.ParseRange(">=3.10.1")
	if err != nil {
		t.Fatalf("ParseRange: %v", err)
	}

	l, err := Build(g, rp, Options{}, Manifest{Requirements: manifest.RootRequirements}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// The requires-python floor sits inside the 3.10 interval, so a must
	// be locked, not dropped as unreachable.
	if _, ok := l.PackageByID(requirement.PackageId{Name: "a", Version: "1.0.0"}); !ok {
		t.Fatalf("expected a==1.0.0 in the lock under requires-python >=3.10.1")
	}

	app, ok := l.PackageByID(requirement.PackageId{Name: "app", Version: "1.0.0"})
	if !ok {
		t.Fatalf("app missing from lock")
	}

	if len(app.Dependencies) != 1 {
		t.Fatalf("expected one app -> a edge, got %+v", app.Dependencies)
	}

	// The interval's lower half is implied by the floor; only the upper
	// bound survives simplification.
	want, err := marker.Parse(`python_full_version < "3.11"`)
	if err != nil {
		t.Fatalf("marker.Parse: %v", err)
	}

	if got := app.Dependencies[0].SimplifiedMarker; !marker.Equal(got, want) {
		t.Fatalf("edge marker = %s, want %s", got, want)
	}
}

func TestBuildFilesExtraEdgesUnderOptionalDependencies(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("app", "1.0.0", resolve.Metadata{Requires: []requirement.Requirement{mustReq(t, "lib[fast]>=1.0")}})
	oracle.add("lib", "1.0.0", resolve.Metadata{
		ProvidesExtras: []string{"fast"},
		DependencyGroups: map[string][]requirement.Requirement{
			"fast": {mustReq(t, "accel>=2.0")},
		},
	})
	oracle.add("accel", "2.1.0", resolve.Metadata{})

	manifest := resolve.ResolverManifest{RootRequirements: []requirement.Requirement{mustReq(t, "app")}}

	g, err := resolve.Resolve(context.Background(), manifest, oracle, resolve.ResolverOptions{}, nil)
	if err != nil {
		t.Fatalf("resolve.Resolve: %v", err)
	}

	l, err := Build(g, version.Range{}, Options{}, Manifest{}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	lib, ok := l.PackageByID(requirement.PackageId{Name: "lib", Version: "1.0.0"})
	if !ok {
		t.Fatalf("lib missing from lock")
	}

	fast, ok := lib.OptionalDependencies["fast"]
	if !ok || len(fast) != 1 || fast[0].PackageID.Name != "accel" {
		t.Fatalf("expected lib's fast extra to carry the accel edge, got %+v", lib.OptionalDependencies)
	}

	app, ok := l.PackageByID(requirement.PackageId{Name: "app", Version: "1.0.0"})
	if !ok {
		t.Fatalf("app missing from lock")
	}

	if len(app.Dependencies) != 1 || len(app.Dependencies[0].Extras) != 1 || app.Dependencies[0].Extras[0] != "fast" {
		t.Fatalf("expected app -> lib edge to request the fast extra, got %+v", app.Dependencies)
	}
}

func TestBuildForkedResolutionKeepsBothVersions(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("a", "1.0.0", resolve.Metadata{})
	oracle.add("a", "2.0.0", resolve.Metadata{})

	manifest := resolve.ResolverManifest{RootRequirements: []requirement.Requirement{
		mustReq(t, "a>=2; sys_platform == \"linux\""),
		mustReq(t, "a<2; sys_platform == \"darwin\""),
	}}

	g, err := resolve.Resolve(context.Background(), manifest, oracle, resolve.ResolverOptions{}, nil)
	if err != nil {
		t.Fatalf("resolve.Resolve: %v", err)
	}

	rp, err := version.ParseRange(">=3.9")
	if err != nil {
		t.Fatalf("ParseRange: %v", err)
	}

	l, err := Build(g, rp, Options{}, Manifest{Requirements: manifest.RootRequirements}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(l.Packages) != 2 {
		t.Fatalf("expected both forked versions of a in the lock, got %d packages", len(l.Packages))
	}

	for _, p := range l.Packages {
		if len(p.ForkMarkers) == 0 {
			t.Fatalf("expected fork markers on the duplicated package %s", p.ID)
		}
	}

	// The linux fork, the darwin fork, and the remainder.
	if len(l.ForkMarkers) != 3 {
		t.Fatalf("expected the three-way fork partition, got %d markers", len(l.ForkMarkers))
	}

	data, err := Serialize(l)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	l2, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v\n%s", err, data)
	}

	if len(l2.ForkMarkers) != 3 {
		t.Fatalf("round trip lost fork markers: got %d", len(l2.ForkMarkers))
	}

	data2, err := Serialize(l2)
	if err != nil {
		t.Fatalf("re-Serialize: %v", err)
	}

	if string(data) != string(data2) {
		t.Fatalf("forked lock serialization is not a fixed point:\n--- first ---\n%s\n--- second ---\n%s", data, data2)
	}
}

func TestBuildRejectsNothingForNonConflictingOverlap(t *testing.T) {
	oracle := newFakeOracle()
	oracle.add("a", "1.0.0", resolve.Metadata{})

	manifest := resolve.ResolverManifest{
		RootRequirements: []requirement.Requirement{mustReq(t, "a>=1"), mustReq(t, "a<2")},
	}

	g, err := resolve.Resolve(context.Background(), manifest, oracle, resolve.ResolverOptions{}, nil)
	if err != nil {
		t.Fatalf("resolve.Resolve: %v", err)
	}

	l, err := Build(g, version.Range{}, Options{}, Manifest{}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(l.Packages) != 1 {
		t.Fatalf("expected a single merged package entry, got %d", len(l.Packages))
	}

	if len(l.Packages[0].ForkMarkers) != 0 {
		t.Fatalf("expected no fork markers for a non-conflicting overlap, got %v", l.Packages[0].ForkMarkers)
	}
}
