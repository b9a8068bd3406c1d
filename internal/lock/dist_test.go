package lock

import (
	"testing"

	"github.com/kadirtech/pylock/internal/requirement"
	"github.com/kadirtech/pylock/internal/wheel"
)

func registryPkg(name, ver string, wheels []Wheel, sdist *Sdist) *Package {
	return &Package{
		ID:     requirement.PackageId{Name: name, Version: ver, Source: requirement.Source{Kind: requirement.SourceRegistry}},
		Wheels: wheels,
		Sdist:  sdist,
	}
}

var linuxTags = []wheel.Tag{{Python: "cp312", ABI: "cp312", Platform: "manylinux_2_17_x86_64"}}

func TestToDistPrefersCompatibleWheel(t *testing.T) {
	pkg := registryPkg("a", "1.0.0", []Wheel{
		{Filename: "a-1.0.0-cp312-cp312-manylinux_2_17_x86_64.whl"},
	}, &Sdist{URL: "https://example.com/a-1.0.0.tar.gz"})

	dist, err := ToDist(pkg, BuildPolicy{}, linuxTags)
	if err != nil {
		t.Fatalf("ToDist: %v", err)
	}

	if dist.Kind != DistWheel {
		t.Fatalf("expected DistWheel, got %v", dist.Kind)
	}
}

func TestToDistFallsBackToSdistWhenNoBinary(t *testing.T) {
	pkg := registryPkg("a", "1.0.0", []Wheel{
		{Filename: "a-1.0.0-cp312-cp312-manylinux_2_17_x86_64.whl"},
	}, &Sdist{URL: "https://example.com/a-1.0.0.tar.gz"})

	dist, err := ToDist(pkg, BuildPolicy{NoBinary: true}, linuxTags)
	if err != nil {
		t.Fatalf("ToDist: %v", err)
	}

	if dist.Kind != DistSdist {
		t.Fatalf("expected DistSdist, got %v", dist.Kind)
	}
}

func TestToDistNoBinaryNoBuild(t *testing.T) {
	pkg := registryPkg("a", "1.0.0", []Wheel{
		{Filename: "a-1.0.0-cp312-cp312-manylinux_2_17_x86_64.whl"},
	}, &Sdist{URL: "https://example.com/a-1.0.0.tar.gz"})

	_, err := ToDist(pkg, BuildPolicy{NoBinary: true, NoBuild: true}, linuxTags)

	ie, ok := AsInstallabilityError(err)
	if !ok {
		t.Fatalf("expected *InstallabilityError, got %v", err)
	}

	if ie.Kind != NoBinaryNoBuild {
		t.Fatalf("expected NoBinaryNoBuild, got %v", ie.Kind)
	}
}

func TestToDistIncompatibleWheelOnlyCarriesHint(t *testing.T) {
	pkg := registryPkg("a", "1.0.0", []Wheel{
		{Filename: "a-1.0.0-cp39-cp39-win_amd64.whl"},
	}, nil)

	_, err := ToDist(pkg, BuildPolicy{}, linuxTags)

	ie, ok := AsInstallabilityError(err)
	if !ok {
		t.Fatalf("expected *InstallabilityError, got %v", err)
	}

	if ie.Kind != IncompatibleWheelOnly {
		t.Fatalf("expected IncompatibleWheelOnly, got %v", ie.Kind)
	}

	if ie.Hint == nil {
		t.Fatal("expected a wheel-tag hint")
	}
}

func TestToDistNeitherSourceDistNorWheel(t *testing.T) {
	pkg := registryPkg("a", "1.0.0", nil, nil)

	_, err := ToDist(pkg, BuildPolicy{}, linuxTags)

	ie, ok := AsInstallabilityError(err)
	if !ok {
		t.Fatalf("expected *InstallabilityError, got %v", err)
	}

	if ie.Kind != NeitherSourceDistNorWheel {
		t.Fatalf("expected NeitherSourceDistNorWheel, got %v", ie.Kind)
	}
}

func TestToDistRejectsWheelFromSourceTree(t *testing.T) {
	pkg := &Package{
		ID: requirement.PackageId{Name: "a", Version: "1.0.0", Source: requirement.Source{Kind: requirement.SourceGit, URL: "https://example.com/a.git"}},
		Wheels: []Wheel{
			{Filename: "a-1.0.0-cp312-cp312-manylinux_2_17_x86_64.whl"},
		},
	}

	_, err := ToDist(pkg, BuildPolicy{}, linuxTags)

	se, ok := AsStructuralError(err)
	if !ok {
		t.Fatalf("expected *StructuralError, got %v", err)
	}

	if se.Kind != InvalidWheelSource {
		t.Fatalf("expected InvalidWheelSource, got %v", se.Kind)
	}
}

func TestToDistVirtualPackagePermitsSourceFallback(t *testing.T) {
	pkg := &Package{
		ID:      requirement.PackageId{Name: "workspace-member", Source: requirement.Source{Kind: requirement.SourceVirtual, Path: "."}},
		Virtual: true,
		Sdist:   &Sdist{Path: "."},
	}

	dist, err := ToDist(pkg, BuildPolicy{NoBuild: true}, linuxTags)
	if err != nil {
		t.Fatalf("ToDist: %v", err)
	}

	if dist.Kind != DistSdist {
		t.Fatalf("expected DistSdist, got %v", dist.Kind)
	}
}
