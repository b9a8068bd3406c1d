package lock

import (
	"github.com/kadirtech/pylock/internal/requirement"
	"github.com/kadirtech/pylock/internal/wheel"
	"golang.org/x/xerrors"
)

// BuildPolicy gates whether a wheel or an sdist may be used to install a
// given package, globally and per package name, mirroring the
// --no-binary/--no-build flag pair.
type BuildPolicy struct {
	NoBinary     bool
	NoBuild      bool
	NoBinaryPkgs map[string]bool
	NoBuildPkgs  map[string]bool
}

func (p BuildPolicy) noBinaryFor(name string) bool {
	return p.NoBinary || p.NoBinaryPkgs[name]
}

func (p BuildPolicy) noBuildFor(name string) bool {
	return p.NoBuild || p.NoBuildPkgs[name]
}

// DistKind names which artifact a Dist was reconstructed from.
type DistKind int

const (
	DistWheel DistKind = iota
	DistSdist
)

// Dist is the concrete artifact to install for one locked package,
// reconstructed by ToDist from the package's recorded source and
// artifacts.
type Dist struct {
	Package requirement.PackageId
	Kind    DistKind
	Wheel   *Wheel
	Sdist   *Sdist
}

// InstallabilityErrorKind enumerates the ways ToDist can fail to produce
// an installable artifact.
type InstallabilityErrorKind int

const (
	NoBinaryNoBuild InstallabilityErrorKind = iota
	NoBinary
	NoBinaryWheelOnly
	NoBuild
	IncompatibleWheelOnly
	NeitherSourceDistNorWheel
)

func (k InstallabilityErrorKind) String() string {
	switch k {
	case NoBinaryNoBuild:
		return "no binary, no build"
	case NoBinary:
		return "no binary"
	case NoBinaryWheelOnly:
		return "no binary, wheel only"
	case NoBuild:
		return "no build"
	case IncompatibleWheelOnly:
		return "incompatible wheel only"
	case NeitherSourceDistNorWheel:
		return "neither source dist nor wheel"
	default:
		return "installability error"
	}
}

// InstallabilityError reports why ToDist could not reconstruct an
// installable artifact for a package. Hint is populated only for
// IncompatibleWheelOnly and NeitherSourceDistNorWheel, naming the
// dominant wheel-tag mismatch dimension.
type InstallabilityError struct {
	Kind    InstallabilityErrorKind
	Package string
	Hint    *WheelTagHint
}

func (e *InstallabilityError) Error() string {
	if e.Hint != nil {
		return e.Kind.String() + " (" + e.Package + "): " + e.Hint.String()
	}

	return e.Kind.String() + " (" + e.Package + ")"
}

// AsInstallabilityError reports whether err is, or wraps, an
// *InstallabilityError.
func AsInstallabilityError(err error) (*InstallabilityError, bool) {
	var ie *InstallabilityError

	ok := xerrors.As(err, &ie)

	return ie, ok
}

// ToDist reconstructs the concrete artifact to install for pkg: prefer a
// tag-compatible wheel unless no_binary is active for this package,
// otherwise fall back to the sdist unless no_build is active (virtual
// packages always permit a source fallback, since they are never built,
// only resolved against), otherwise classify the failure.
func ToDist(pkg *Package, policy BuildPolicy, tags []wheel.Tag) (*Dist, error) {
	name := pkg.ID.Name
	noBinary := policy.noBinaryFor(name)
	noBuild := policy.noBuildFor(name)

	if !noBinary && len(pkg.Wheels) > 0 {
		switch pkg.ID.Source.Kind {
		case requirement.SourceGit, requirement.SourceDirectory, requirement.SourceEditable, requirement.SourceVirtual:
			return nil, newStructuralError(InvalidWheelSource, name,
				"built wheels cannot originate from a "+pkg.ID.Source.Kind.String()+" source")
		}

		candidates, err := wheelCandidates(pkg.Wheels)
		if err == nil {
			best, _, selErr := wheel.Select(candidates, tags, wheel.ModeRequired)
			if selErr == nil {
				w := pkg.Wheels[best.Index]

				return &Dist{Package: pkg.ID, Kind: DistWheel, Wheel: &w}, nil
			}
		}
	}

	if pkg.Sdist != nil && (!noBuild || pkg.Virtual) {
		return &Dist{Package: pkg.ID, Kind: DistSdist, Sdist: pkg.Sdist}, nil
	}

	return nil, classifyInstallFailure(pkg, policy, tags)
}

func classifyInstallFailure(pkg *Package, policy BuildPolicy, tags []wheel.Tag) error {
	name := pkg.ID.Name
	noBinary := policy.noBinaryFor(name)
	noBuild := policy.noBuildFor(name)
	hasWheels := len(pkg.Wheels) > 0
	hasSdist := pkg.Sdist != nil

	var hint *WheelTagHint
	if candidates, err := wheelCandidates(pkg.Wheels); err == nil {
		hint = buildWheelTagHint(candidates, tags)
	}

	switch {
	case noBinary && noBuild:
		return &InstallabilityError{Kind: NoBinaryNoBuild, Package: name}
	case noBinary && !hasSdist:
		return &InstallabilityError{Kind: NoBinaryWheelOnly, Package: name}
	case noBinary:
		return &InstallabilityError{Kind: NoBinary, Package: name}
	case noBuild && !hasWheels:
		return &InstallabilityError{Kind: NoBuild, Package: name}
	case !hasWheels && !hasSdist:
		return &InstallabilityError{Kind: NeitherSourceDistNorWheel, Package: name, Hint: hint}
	case hasWheels && !hasSdist:
		return &InstallabilityError{Kind: IncompatibleWheelOnly, Package: name, Hint: hint}
	default:
		return &InstallabilityError{Kind: NoBuild, Package: name, Hint: hint}
	}
}

// wheelCandidates parses every wheel entry's filename into a
// wheel.Candidate for tag matching; malformed filenames are skipped
// rather than failing the whole selection.
func wheelCandidates(wheels []Wheel) ([]wheel.Candidate, error) {
	var out []wheel.Candidate

	for i, w := range wheels {
		name := w.Filename
		if name == "" {
			continue
		}

		parsed, err := wheel.ParseFilename(name)
		if err != nil {
			continue
		}

		out = append(out, wheel.Candidate{Filename: parsed, Index: i})
	}

	if len(out) == 0 {
		return nil, xerrors.New("no parseable wheel filenames")
	}

	return out, nil
}
