package wheel

import "testing"

func TestParseFilenameNoBuildTag(t *testing.T) {
	f, err := ParseFilename("numpy-1.26.0-cp311-cp311-manylinux_2_17_x86_64.whl")
	if err != nil {
		t.Fatalf("ParseFilename: %v", err)
	}

	if f.Name != "numpy" || f.Version != "1.26.0" {
		t.Errorf("Name/Version = %q/%q", f.Name, f.Version)
	}

	if f.HasBuild {
		t.Error("expected no build tag")
	}

	if len(f.Tags) != 1 || f.Tags[0] != (Tag{"cp311", "cp311", "manylinux_2_17_x86_64"}) {
		t.Errorf("Tags = %+v", f.Tags)
	}
}

func TestParseFilenameWithBuildTag(t *testing.T) {
	f, err := ParseFilename("somepkg-1.0-2-py3-none-any.whl")
	if err != nil {
		t.Fatalf("ParseFilename: %v", err)
	}

	if !f.HasBuild || f.Build.Num != 2 || f.Build.Label != "" {
		t.Errorf("Build = %+v", f.Build)
	}
}

func TestParseFilenameExpandsCompressedTags(t *testing.T) {
	f, err := ParseFilename("somepkg-1.0-py2.py3-none-any.whl")
	if err != nil {
		t.Fatalf("ParseFilename: %v", err)
	}

	if len(f.Tags) != 2 {
		t.Fatalf("expected 2 expanded tags, got %d: %+v", len(f.Tags), f.Tags)
	}
}

func TestParseFilenameRejectsBadInput(t *testing.T) {
	if _, err := ParseFilename("not-a-wheel.tar.gz"); err == nil {
		t.Error("expected an error for a non-wheel filename")
	}

	if _, err := ParseFilename("too-few-parts.whl"); err == nil {
		t.Error("expected an error for too few dash-separated parts")
	}
}

func TestComputeCompatible(t *testing.T) {
	target := []Tag{
		{"cp311", "cp311", "manylinux_2_17_x86_64"},
		{"py3", "none", "any"},
	}

	comp := Compute([]Tag{{"py3", "none", "any"}}, target)
	if !comp.Compatible || comp.Priority != 1 {
		t.Errorf("Compute() = %+v, want Compatible priority 1", comp)
	}
}

func TestComputeReasonPrecedence(t *testing.T) {
	target := []Tag{{"cp311", "cp311", "manylinux_2_17_x86_64"}}

	pythonMismatch := Compute([]Tag{{"cp39", "cp39", "manylinux_2_17_x86_64"}}, target)
	if pythonMismatch.Compatible || pythonMismatch.Reason != ReasonPython {
		t.Errorf("expected ReasonPython, got %+v", pythonMismatch)
	}

	abiMismatch := Compute([]Tag{{"cp311", "cp39", "manylinux_2_17_x86_64"}}, target)
	if abiMismatch.Compatible || abiMismatch.Reason != ReasonABI {
		t.Errorf("expected ReasonABI, got %+v", abiMismatch)
	}

	platformMismatch := Compute([]Tag{{"cp311", "cp311", "win_amd64"}}, target)
	if platformMismatch.Compatible || platformMismatch.Reason != ReasonPlatform {
		t.Errorf("expected ReasonPlatform, got %+v", platformMismatch)
	}
}

func TestSelectPrefersHighestPriorityThenBuildTag(t *testing.T) {
	target := []Tag{{"py3", "none", "any"}}

	low, _ := ParseFilename("pkg-1.0-1-py3-none-any.whl")
	high, _ := ParseFilename("pkg-1.0-2-py3-none-any.whl")

	candidates := []Candidate{{Filename: low, Index: 0}, {Filename: high, Index: 1}}

	best, _, err := Select(candidates, target, ModeRequired)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if best.Index != 1 {
		t.Errorf("expected the higher build-tag wheel to win, got index %d", best.Index)
	}
}

func TestSelectRequiredFailsWithoutMatch(t *testing.T) {
	target := []Tag{{"cp311", "cp311", "manylinux_2_17_x86_64"}}

	f, _ := ParseFilename("pkg-1.0-py3-none-any.whl")
	candidates := []Candidate{{Filename: f, Index: 0}}

	if _, _, err := Select(candidates, target, ModeRequired); err == nil {
		t.Error("expected an error in ModeRequired with no compatible wheel")
	}
}

func TestSelectPreferredFallsBackToFirst(t *testing.T) {
	target := []Tag{{"cp311", "cp311", "manylinux_2_17_x86_64"}}

	f0, _ := ParseFilename("pkg-1.0-py3-none-any.whl")
	f1, _ := ParseFilename("pkg-1.0-py2-none-any.whl")

	candidates := []Candidate{{Filename: f0, Index: 0}, {Filename: f1, Index: 1}}

	best, _, err := Select(candidates, target, ModePreferred)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if best.Index != 0 {
		t.Errorf("expected fallback to the first candidate by index, got %d", best.Index)
	}
}

func TestClassifyPlatform(t *testing.T) {
	cases := []struct {
		tag      string
		platform PlatformClass
		arch     ArchClass
	}{
		{"any", PlatformAny, ArchAny},
		{"manylinux_2_17_x86_64", PlatformLinux, ArchX86_64},
		{"win_amd64", PlatformWindows, ArchX86_64},
		{"macosx_11_0_arm64", PlatformMacOS, ArchArm},
		{"musllinux_1_2_aarch64", PlatformLinux, ArchArm},
	}

	for _, c := range cases {
		p, a := Classify(c.tag)
		if p != c.platform || a != c.arch {
			t.Errorf("Classify(%q) = (%v, %v), want (%v, %v)", c.tag, p, a, c.platform, c.arch)
		}
	}
}

func TestCompareMacOSVersion(t *testing.T) {
	cmp, err := CompareMacOSVersion("11_0", "10_9")
	if err != nil {
		t.Fatalf("CompareMacOSVersion: %v", err)
	}

	if cmp <= 0 {
		t.Errorf("expected 11_0 > 10_9, got cmp=%d", cmp)
	}
}

func TestComputeMacOSDeploymentTargetCompatible(t *testing.T) {
	target := []Tag{{"cp311", "cp311", "macosx_11_0_arm64"}}

	// A wheel built for an older deployment target than the running
	// environment's must still be selectable.
	older := Compute([]Tag{{"cp311", "cp311", "macosx_10_9_arm64"}}, target)
	if !older.Compatible {
		t.Errorf("expected macosx_10_9 wheel to be compatible with a macosx_11_0 target, got %+v", older)
	}

	newer := Compute([]Tag{{"cp311", "cp311", "macosx_12_0_arm64"}}, target)
	if newer.Compatible {
		t.Errorf("expected macosx_12_0 wheel to be incompatible with a macosx_11_0 target, got %+v", newer)
	}

	archMismatch := Compute([]Tag{{"cp311", "cp311", "macosx_10_9_x86_64"}}, target)
	if archMismatch.Compatible {
		t.Errorf("expected architecture mismatch to stay incompatible, got %+v", archMismatch)
	}
}

func TestComputeManylinuxGlibcCompatible(t *testing.T) {
	target := []Tag{{"cp311", "cp311", "manylinux_2_28_x86_64"}}

	older := Compute([]Tag{{"cp311", "cp311", "manylinux_2_17_x86_64"}}, target)
	if !older.Compatible {
		t.Errorf("expected manylinux_2_17 wheel to be compatible with a manylinux_2_28 target, got %+v", older)
	}

	newer := Compute([]Tag{{"cp311", "cp311", "manylinux_2_31_x86_64"}}, target)
	if newer.Compatible {
		t.Errorf("expected manylinux_2_31 wheel to be incompatible with a manylinux_2_28 target, got %+v", newer)
	}

	legacy := Compute([]Tag{{"cp311", "cp311", "manylinux2014_x86_64"}}, target)
	if !legacy.Compatible {
		t.Errorf("expected legacy manylinux2014 (glibc 2_17) wheel to be compatible with a manylinux_2_28 target, got %+v", legacy)
	}

	family := Compute([]Tag{{"cp311", "cp311", "musllinux_1_2_x86_64"}}, target)
	if family.Compatible {
		t.Errorf("expected musllinux wheel to never match a manylinux target, got %+v", family)
	}
}
