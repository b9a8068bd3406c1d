// Package wheel implements PEP 425/427 wheel filename parsing and the
// wheel tag compatibility matcher: scoring a wheel's encoded
// (python, abi, platform) triples against a target environment's ordered
// tag list, and classifying a wheel's platform/architecture for the
// lockfile's unreachable-wheel pruning pass.
package wheel

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	goversion "github.com/aquasecurity/go-version/pkg/version"

	"github.com/kadirtech/pylock/internal/version"
)

// Tag is a single PEP 425 compatibility triple.
type Tag struct {
	Python   string
	ABI      string
	Platform string
}

func (t Tag) String() string { return t.Python + "-" + t.ABI + "-" + t.Platform }

// BuildTag is a wheel's optional build tag: a leading numeric component
// and a trailing string label, e.g. "2" or "2linux".
type BuildTag struct {
	Num   int
	Label string
}

// Less orders build tags by numeric component, then label; wheel
// selection breaks compatibility ties toward the higher build tag.
func (b BuildTag) Less(o BuildTag) bool {
	if b.Num != o.Num {
		return b.Num < o.Num
	}

	return b.Label < o.Label
}

// Filename is a parsed wheel filename.
type Filename struct {
	Name     string
	Version  string
	HasBuild bool
	Build    BuildTag
	Tags     []Tag
}

// ParseFilename parses a wheel filename of the form
// {name}-{version}(-{build tag})?-{python tag}-{abi tag}-{platform tag}.whl,
// expanding any compressed tag sets (e.g. "py2.py3-none-any") into the full
// cross product of encoded triples.
func ParseFilename(filename string) (Filename, error) {
	trimmed := strings.TrimSuffix(filename, ".whl")
	if trimmed == filename {
		return Filename{}, fmt.Errorf("not a wheel filename: %q", filename)
	}

	parts := strings.Split(trimmed, "-")
	if len(parts) != 5 && len(parts) != 6 {
		return Filename{}, fmt.Errorf("invalid wheel filename %q: expected 5 or 6 dash-separated parts, got %d", filename, len(parts))
	}

	f := Filename{Name: parts[0], Version: parts[1]}

	if len(parts) == 6 {
		build, err := parseBuildTag(parts[2])
		if err != nil {
			return Filename{}, fmt.Errorf("invalid wheel filename %q: %w", filename, err)
		}

		f.HasBuild = true
		f.Build = build
	}

	raw := Tag{
		Python:   parts[len(parts)-3],
		ABI:      parts[len(parts)-2],
		Platform: parts[len(parts)-1],
	}

	f.Tags = expandCompressedTag(raw)

	return f, nil
}

func parseBuildTag(s string) (BuildTag, error) {
	split := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	if split == 0 {
		return BuildTag{}, fmt.Errorf("build tag %q does not start with a digit", s)
	}

	if split < 0 {
		split = len(s)
	}

	num, err := strconv.Atoi(s[:split])
	if err != nil {
		return BuildTag{}, fmt.Errorf("build tag %q: %w", s, err)
	}

	return BuildTag{Num: num, Label: s[split:]}, nil
}

// expandCompressedTag expands PEP 425 compressed tag sets ("py2.py3-none-
// any") into the cross product of every encoded (python, abi, platform)
// triple.
func expandCompressedTag(t Tag) []Tag {
	var out []Tag

	for _, py := range strings.Split(t.Python, ".") {
		for _, abi := range strings.Split(t.ABI, ".") {
			for _, plat := range strings.Split(t.Platform, ".") {
				out = append(out, Tag{Python: py, ABI: abi, Platform: plat})
			}
		}
	}

	return out
}

// Reason classifies why a wheel was not selected, in the precedence order
// the contract specifies: a wheel is python-incompatible only if no
// encoded python tag is known to the target at all; abi-incompatible if
// some encoded python tag matched but no abi did; platform-incompatible
// if python and abi both matched but no platform did.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonPython
	ReasonABI
	ReasonPlatform
)

func (r Reason) String() string {
	switch r {
	case ReasonPython:
		return "python"
	case ReasonABI:
		return "abi"
	case ReasonPlatform:
		return "platform"
	default:
		return "none"
	}
}

// Compatibility is the result of scoring a wheel against a target tag
// list.
type Compatibility struct {
	Compatible bool
	// Priority is the index into the target list of the best-matching
	// triple; lower is better. Only meaningful when Compatible.
	Priority int
	Reason   Reason
}

// Compute scores a wheel's encoded tags against an ordered, deduplicated
// target tag list (most preferred first).
func Compute(tags []Tag, target []Tag) Compatibility {
	bestPriority := -1

	for _, wt := range tags {
		for i, t := range target {
			if bestPriority >= 0 && i >= bestPriority {
				break
			}

			if tagMatches(wt, t) {
				bestPriority = i

				break
			}
		}
	}

	if bestPriority >= 0 {
		return Compatibility{Compatible: true, Priority: bestPriority}
	}

	return Compatibility{Reason: classifyMismatch(tags, target)}
}

// tagMatches reports whether a wheel-encoded tag satisfies a target tag:
// either an exact triple match, or (since a macOS wheel's platform tag
// declares only its *minimum* deployment target) a macOS platform tag
// whose architecture matches and whose deployment-target version is no
// newer than the target's.
func tagMatches(wt, t Tag) bool {
	if wt.Python != t.Python || wt.ABI != t.ABI {
		return false
	}

	if wt.Platform == t.Platform {
		return true
	}

	if macOSCompatible(wt.Platform, t.Platform) {
		return true
	}

	return linuxLibcCompatible(wt.Platform, t.Platform)
}

// macOSCompatible reports whether a wheel built for deployment target
// wheelPlatform (e.g. "macosx_10_9_x86_64") can run under targetPlatform
// (e.g. "macosx_11_0_x86_64"): same architecture, and a deployment target
// at or below the one the target environment advertises.
func macOSCompatible(wheelPlatform, targetPlatform string) bool {
	wArch, wVer, ok := splitMacOSPlatformTag(wheelPlatform)
	if !ok {
		return false
	}

	tArch, tVer, ok := splitMacOSPlatformTag(targetPlatform)
	if !ok {
		return false
	}

	if wArch != tArch {
		return false
	}

	cmp, err := CompareMacOSVersion(wVer, tVer)
	if err != nil {
		return false
	}

	return cmp <= 0
}

// splitMacOSPlatformTag splits a "macosx_MAJOR_MINOR_ARCH" platform tag
// into its architecture and "MAJOR_MINOR" version components.
func splitMacOSPlatformTag(tag string) (arch, version string, ok bool) {
	if !strings.HasPrefix(tag, "macosx_") {
		return "", "", false
	}

	parts := strings.SplitN(strings.TrimPrefix(tag, "macosx_"), "_", 3)
	if len(parts) != 3 {
		return "", "", false
	}

	return parts[2], parts[0] + "_" + parts[1], true
}

// legacyManylinuxGlibc maps the PEP 600-superseded manylinux aliases to
// the glibc version they are defined to mean, so they compare on the same
// scale as the "manylinux_MAJOR_MINOR_ARCH" tags that replaced them.
var legacyManylinuxGlibc = map[string]string{
	"manylinux1":    "2_5",
	"manylinux2010": "2_12",
	"manylinux2014": "2_17",
}

// linuxLibcCompatible reports whether a wheel's manylinux/musllinux
// platform tag can run under a target's tag of the same libc family: same
// architecture, and a libc version no newer than the target's.
func linuxLibcCompatible(wheelPlatform, targetPlatform string) bool {
	wFamily, wArch, wVer, ok := splitLinuxPlatformTag(wheelPlatform)
	if !ok {
		return false
	}

	tFamily, tArch, tVer, ok := splitLinuxPlatformTag(targetPlatform)
	if !ok {
		return false
	}

	if wFamily != tFamily || wArch != tArch {
		return false
	}

	return version.CompareGeneric(wVer, tVer) <= 0
}

// splitLinuxPlatformTag splits a manylinux/musllinux platform tag into its
// libc family, architecture, and dotted libc version components,
// resolving the legacy "manylinux1"/"manylinux2010"/"manylinux2014"
// aliases to their equivalent glibc version.
func splitLinuxPlatformTag(tag string) (family, arch, ver string, ok bool) {
	switch {
	case strings.HasPrefix(tag, "manylinux_"):
		parts := strings.SplitN(strings.TrimPrefix(tag, "manylinux_"), "_", 3)
		if len(parts) != 3 {
			return "", "", "", false
		}

		return "manylinux", parts[2], parts[0] + "_" + parts[1], true
	case strings.HasPrefix(tag, "musllinux_"):
		parts := strings.SplitN(strings.TrimPrefix(tag, "musllinux_"), "_", 3)
		if len(parts) != 3 {
			return "", "", "", false
		}

		return "musllinux", parts[2], parts[0] + "_" + parts[1], true
	default:
		for alias, glibc := range legacyManylinuxGlibc {
			if arch, ok := strings.CutPrefix(tag, alias+"_"); ok {
				return "manylinux", arch, glibc, true
			}
		}

		return "", "", "", false
	}
}

func classifyMismatch(tags []Tag, target []Tag) Reason {
	pythonKnown := false
	abiKnown := false

	for _, wt := range tags {
		for _, t := range target {
			if wt.Python != t.Python {
				continue
			}

			pythonKnown = true

			if wt.ABI == t.ABI {
				abiKnown = true
			}
		}
	}

	switch {
	case !pythonKnown:
		return ReasonPython
	case !abiKnown:
		return ReasonABI
	default:
		return ReasonPlatform
	}
}

// Mode selects between requiring a compatible wheel or falling back to
// the first available one when metadata alone is needed.
type Mode int

const (
	ModeRequired Mode = iota
	ModePreferred
)

// Candidate pairs a wheel filename with its source index, for the
// earlier-index tie-break the selection contract requires.
type Candidate struct {
	Filename Filename
	Index    int
}

// Select picks the best wheel from candidates for the given target tag
// list and mode. Ties are broken by higher build tag, then by earlier
// index. In ModeRequired, an error is returned if nothing is compatible;
// in ModePreferred, the first candidate (by index) is returned instead.
func Select(candidates []Candidate, target []Tag, mode Mode) (Candidate, Compatibility, error) {
	var (
		best     Candidate
		bestComp Compatibility
		found    bool
	)

	for _, c := range candidates {
		comp := Compute(c.Filename.Tags, target)
		if !comp.Compatible {
			continue
		}

		if !found || better(c, comp, best, bestComp) {
			best, bestComp, found = c, comp, true
		}
	}

	if found {
		return best, bestComp, nil
	}

	if mode == ModePreferred && len(candidates) > 0 {
		first := candidates[0]
		for _, c := range candidates[1:] {
			if c.Index < first.Index {
				first = c
			}
		}

		return first, Compatibility{}, nil
	}

	return Candidate{}, Compatibility{}, fmt.Errorf("no compatible wheel found among %d candidates", len(candidates))
}

func better(c Candidate, comp Compatibility, best Candidate, bestComp Compatibility) bool {
	if comp.Priority != bestComp.Priority {
		return comp.Priority < bestComp.Priority
	}

	if c.Filename.Build.Less(best.Filename.Build) {
		return false
	}

	if best.Filename.Build.Less(c.Filename.Build) {
		return true
	}

	return c.Index < best.Index
}

// PlatformClass is the coarse OS family a wheel platform tag targets.
type PlatformClass string

const (
	PlatformLinux   PlatformClass = "linux"
	PlatformWindows PlatformClass = "windows"
	PlatformMacOS   PlatformClass = "macos"
	PlatformAndroid PlatformClass = "android"
	PlatformAny     PlatformClass = "any"
)

// ArchClass is the coarse CPU architecture family a wheel platform tag
// targets.
type ArchClass string

const (
	ArchX86    ArchClass = "x86"
	ArchX86_64 ArchClass = "x86_64"
	ArchArm    ArchClass = "arm"
	ArchAny    ArchClass = "any"
)

// Classify derives the platform and architecture class implied by a raw
// PEP 425 platform tag, such as "manylinux_2_17_x86_64", "win_amd64",
// "macosx_11_0_arm64", or "any".
func Classify(platformTag string) (PlatformClass, ArchClass) {
	switch {
	case platformTag == "any":
		return PlatformAny, ArchAny
	case strings.HasPrefix(platformTag, "win"):
		return PlatformWindows, classifyArch(platformTag)
	case strings.HasPrefix(platformTag, "macosx"):
		return PlatformMacOS, classifyArch(platformTag)
	case strings.Contains(platformTag, "android"):
		return PlatformAndroid, classifyArch(platformTag)
	case strings.HasPrefix(platformTag, "linux") || strings.HasPrefix(platformTag, "manylinux") || strings.HasPrefix(platformTag, "musllinux"):
		return PlatformLinux, classifyArch(platformTag)
	default:
		return PlatformAny, ArchAny
	}
}

func classifyArch(tag string) ArchClass {
	switch {
	case strings.Contains(tag, "x86_64"), strings.Contains(tag, "amd64"):
		return ArchX86_64
	case strings.Contains(tag, "i686"), strings.Contains(tag, "win32"), strings.Contains(tag, "x86"):
		return ArchX86
	case strings.Contains(tag, "arm"), strings.Contains(tag, "aarch64"):
		return ArchArm
	default:
		return ArchAny
	}
}

// CompareMacOSVersion orders two "MAJOR_MINOR"-style macOS deployment
// target components (as embedded in tags like "macosx_11_0_arm64"),
// deferring to a general-purpose version comparator since these are not
// PEP 440 versions.
func CompareMacOSVersion(a, b string) (int, error) {
	av, err := goversion.Parse(strings.ReplaceAll(a, "_", "."))
	if err != nil {
		return 0, fmt.Errorf("parsing macOS version %q: %w", a, err)
	}

	bv, err := goversion.Parse(strings.ReplaceAll(b, "_", "."))
	if err != nil {
		return 0, fmt.Errorf("parsing macOS version %q: %w", b, err)
	}

	return av.Compare(bv), nil
}
