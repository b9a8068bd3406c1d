// Package requirement parses PEP 508 dependency specifiers and defines the
// PackageId identity used throughout the resolver and lockfile engine to
// distinguish a registry distribution from a git checkout, a direct URL, a
// local path, or a workspace member.
package requirement

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kadirtech/pylock/internal/marker"
	"github.com/kadirtech/pylock/internal/normalize"
	"github.com/kadirtech/pylock/internal/version"
)

// SourceKind enumerates where a requirement's distribution comes from. The
// numeric order below is load-bearing: it is the fixed total order used to
// break ties in PackageId.Compare, and lockfile format stability depends on
// it never changing across format revisions.
type SourceKind int

const (
	SourceRegistry SourceKind = iota
	SourceGit
	SourceDirect
	SourcePath
	SourceDirectory
	SourceEditable
	SourceVirtual
)

func (k SourceKind) String() string {
	switch k {
	case SourceRegistry:
		return "registry"
	case SourceGit:
		return "git"
	case SourceDirect:
		return "direct"
	case SourcePath:
		return "path"
	case SourceDirectory:
		return "directory"
	case SourceEditable:
		return "editable"
	case SourceVirtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// Source describes a requirement's origin beyond a bare registry lookup.
type Source struct {
	Kind SourceKind

	// URL is the direct-download or git remote URL; empty for registry,
	// path, directory, editable, and virtual sources.
	URL string

	// Reference is a git ref (branch, tag, or commit); empty otherwise.
	Reference string

	// ReferenceKind disambiguates Reference as a "tag", "branch", or "rev",
	// mirroring internal/lock's GitSourceKind without importing it (lock
	// imports requirement, so the dependency cannot run the other way).
	// Empty means no reference was requested. PEP 508 direct references
	// cannot tell a tag from a branch, so parsing such a reference into a
	// kind defaults to "rev", the same fallback uv's GitReference-to-
	// GitSourceKind conversion uses for its ambiguous BranchOrTag variants.
	ReferenceKind string

	// PinnedCommit is the exact commit a git source resolved to; empty
	// until resolution has pinned it.
	PinnedCommit string

	// Path is a filesystem path, for Path/Directory/Editable/Virtual.
	Path string

	// Subdirectory locates a project within a larger checkout or archive.
	Subdirectory string
}

// IsSourceTree reports whether the source must be re-read for metadata
// rather than trusted as immutable, per the lockfile engine's satisfies
// check (registry and git are immutable; everything else is a source tree).
func (s Source) IsSourceTree() bool {
	switch s.Kind {
	case SourceRegistry, SourceGit:
		return false
	default:
		return true
	}
}

// PackageId identifies a single resolved distribution: its normalized
// name, the source it comes from, and (for version-bearing sources) its
// version. Source-tree variants with dynamic versioning carry no version.
type PackageId struct {
	Name    string
	Version string
	Source  Source
}

// Compare imposes the fixed total order the lockfile format depends on for
// stable serialization: by name, then by source kind in the declared
// enumeration order, then by version, then by any distinguishing source
// detail (URL, path, git reference).
func (id PackageId) Compare(other PackageId) int {
	if c := strings.Compare(id.Name, other.Name); c != 0 {
		return c
	}

	if id.Source.Kind != other.Source.Kind {
		return int(id.Source.Kind) - int(other.Source.Kind)
	}

	if id.Version != other.Version {
		av, aerr := version.Parse(id.Version)
		bv, berr := version.Parse(other.Version)

		if aerr == nil && berr == nil {
			return av.Compare(bv)
		}

		return strings.Compare(id.Version, other.Version)
	}

	if c := strings.Compare(id.Source.URL, other.Source.URL); c != 0 {
		return c
	}

	if c := strings.Compare(id.Source.Path, other.Source.Path); c != 0 {
		return c
	}

	return strings.Compare(id.Source.Reference, other.Source.Reference)
}

// Less reports whether id sorts strictly before other under Compare.
func (id PackageId) Less(other PackageId) bool { return id.Compare(other) < 0 }

// String renders a PackageId for diagnostics and fork-failure reporting.
func (id PackageId) String() string {
	if id.Version == "" {
		return fmt.Sprintf("%s (%s)", id.Name, id.Source.Kind)
	}

	return fmt.Sprintf("%s==%s (%s)", id.Name, id.Version, id.Source.Kind)
}

// SortPackageIds sorts ids in place per Compare, for the lockfile's
// PackageId -> index map construction.
func SortPackageIds(ids []PackageId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

// Requirement is a single parsed PEP 508 dependency specifier.
type Requirement struct {
	Name      string
	Extras    []string
	Specifier version.Range
	Marker    marker.Node
	Source    Source
}

// Parse parses a PEP 508 requirement string, such as:
//
//	flask
//	flask[async]>=3.0,<4.0
//	importlib-metadata>=3.6.0; python_version < "3.10"
//	my-pkg @ https://example.com/my-pkg-1.0.tar.gz
//	my-pkg @ git+https://example.com/my-pkg.git@v1.0
func Parse(raw string) (Requirement, error) {
	nameSpec, markerText := splitMarker(raw)

	nameSpec, directSource, hasDirect := splitDirectReference(nameSpec)

	name, extras, specText := splitNameExtrasSpecifier(nameSpec)
	if name == "" {
		return Requirement{}, fmt.Errorf("requirement %q has no package name", raw)
	}

	spec, err := version.ParseRange(specText)
	if err != nil {
		return Requirement{}, fmt.Errorf("requirement %q: %w", raw, err)
	}

	var m marker.Node = marker.True

	if markerText != "" {
		m, err = marker.Parse(markerText)
		if err != nil {
			return Requirement{}, fmt.Errorf("requirement %q: parsing marker: %w", raw, err)
		}
	}

	src := Source{Kind: SourceRegistry}
	if hasDirect {
		src = directSource
	}

	return Requirement{
		Name:      normalize.Name(name),
		Extras:    extras,
		Specifier: spec,
		Marker:    m,
		Source:    src,
	}, nil
}

// splitMarker splits "name-spec ; marker" at the first semicolon that is
// not nested inside parentheses or quotes.
func splitMarker(raw string) (nameSpec, markerText string) {
	parts := splitOutside(raw, ";")
	if len(parts) == 1 {
		return strings.TrimSpace(parts[0]), ""
	}

	return strings.TrimSpace(parts[0]), strings.TrimSpace(strings.Join(parts[1:], ";"))
}

// splitDirectReference recognizes PEP 508's "name @ url" direct-reference
// form, classifying the URL as a git or plain direct source.
func splitDirectReference(nameSpec string) (rest string, src Source, ok bool) {
	idx := strings.Index(nameSpec, "@")
	if idx < 0 {
		return nameSpec, Source{}, false
	}

	// Guard against an "@" inside a version specifier context, which PEP
	// 508 does not use, so any "@" here is the direct-reference marker.
	name := strings.TrimSpace(nameSpec[:idx])
	url := strings.TrimSpace(nameSpec[idx+1:])

	if strings.HasPrefix(url, "git+") {
		trimmed := strings.TrimPrefix(url, "git+")

		ref := ""
		refKind := ""
		if at := strings.LastIndex(trimmed, "@"); at >= 0 {
			ref = trimmed[at+1:]
			trimmed = trimmed[:at]

			if ref != "" {
				refKind = "rev"
			}
		}

		return name, Source{Kind: SourceGit, URL: trimmed, Reference: ref, ReferenceKind: refKind}, true
	}

	if strings.HasPrefix(url, "file://") {
		return name, Source{Kind: SourcePath, Path: strings.TrimPrefix(url, "file://")}, true
	}

	return name, Source{Kind: SourceDirect, URL: url}, true
}

// splitNameExtrasSpecifier splits "name[extra1,extra2]specifier" into its
// three parts.
func splitNameExtrasSpecifier(nameSpec string) (name string, extras []string, specifier string) {
	rest := nameSpec

	if idx := strings.Index(rest, "["); idx >= 0 {
		end := strings.Index(rest, "]")
		if end > idx {
			for _, e := range strings.Split(rest[idx+1:end], ",") {
				e = strings.TrimSpace(e)
				if e != "" {
					extras = append(extras, normalize.Name(e))
				}
			}

			rest = rest[:idx] + rest[end+1:]
		}
	}

	rest = strings.NewReplacer("(", "", ")", "").Replace(rest)
	rest = strings.TrimSpace(rest)

	specStart := strings.IndexAny(rest, "><=!~")
	if specStart < 0 {
		return strings.TrimSpace(rest), extras, ""
	}

	return strings.TrimSpace(rest[:specStart]), extras, strings.TrimSpace(rest[specStart:])
}

// splitOutside splits s on sep, ignoring occurrences nested inside
// parentheses or quotes.
func splitOutside(s, sep string) []string {
	var parts []string

	depth := 0

	var inQuote byte

	start := 0

	for i := 0; i < len(s); i++ {
		switch {
		case inQuote != 0:
			if s[i] == inQuote {
				inQuote = 0
			}
		case s[i] == '"' || s[i] == '\'':
			inQuote = s[i]
		case s[i] == '(':
			depth++
		case s[i] == ')':
			depth--
		case depth == 0 && i+len(sep) <= len(s) && s[i:i+len(sep)] == sep:
			parts = append(parts, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}

	parts = append(parts, s[start:])

	return parts
}
