package lock

import (
	"fmt"

	"golang.org/x/xerrors"
)

// StructuralErrorKind enumerates the ways a Lock can fail to satisfy the
// invariants enforced at construction and deserialization time.
type StructuralErrorKind int

const (
	DuplicatePackage StructuralErrorKind = iota
	DuplicateDependency
	DuplicateOptionalDependency
	DuplicateDependencyGroup
	UnrecognizedDependency
	MissingExtraBase
	MissingDevBase
	InvalidWheelSource
	MissingURL
	MissingPath
	MissingFilename
	InconsistentVersions
	UnexpectedHash
	MissingHash
	MissingDependencyVersion
	MissingDependencySource
	IncompleteForkMarkers
)

func (k StructuralErrorKind) String() string {
	switch k {
	case DuplicatePackage:
		return "duplicate package"
	case DuplicateDependency:
		return "duplicate dependency"
	case DuplicateOptionalDependency:
		return "duplicate optional dependency"
	case DuplicateDependencyGroup:
		return "duplicate dependency-group dependency"
	case UnrecognizedDependency:
		return "unrecognized dependency"
	case MissingExtraBase:
		return "missing extra base package"
	case MissingDevBase:
		return "missing dependency-group base package"
	case InvalidWheelSource:
		return "invalid wheel source"
	case MissingURL:
		return "missing url"
	case MissingPath:
		return "missing path"
	case MissingFilename:
		return "missing filename"
	case InconsistentVersions:
		return "inconsistent versions"
	case UnexpectedHash:
		return "unexpected hash"
	case MissingHash:
		return "missing hash"
	case MissingDependencyVersion:
		return "missing dependency version"
	case MissingDependencySource:
		return "missing dependency source"
	case IncompleteForkMarkers:
		return "incomplete fork markers"
	default:
		return "structural error"
	}
}

// StructuralError reports a violation of one of the Lock invariants,
// found either during construction (Build) or during deserialization's
// unwiring pass. Package is empty when the violation is not attributable
// to one entry (e.g. a cross-package duplicate).
type StructuralError struct {
	Kind    StructuralErrorKind
	Package string
	Detail  string
}

func (e *StructuralError) Error() string {
	if e.Package == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}

	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Package, e.Detail)
}

func newStructuralError(kind StructuralErrorKind, pkg, detail string) error {
	return xerrors.Errorf("lock: %w", &StructuralError{Kind: kind, Package: pkg, Detail: detail})
}

// AsStructuralError reports whether err is, or wraps, a *StructuralError,
// returning it via xerrors.As so callers can branch on Kind.
func AsStructuralError(err error) (*StructuralError, bool) {
	var se *StructuralError

	ok := xerrors.As(err, &se)

	return se, ok
}
