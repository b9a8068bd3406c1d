package lock

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kadirtech/pylock/internal/marker"
	"github.com/kadirtech/pylock/internal/requirement"
)

// Serialize renders l as canonical TOML, per the format's determinism
// rule: field order is fixed, arrays are one element per line with a
// trailing comma, and markers are written in simplified form. The writer
// is hand-rolled rather than built on a struct marshaler, since a
// marshaler cannot guarantee this array layout or field ordering.
func Serialize(l *Lock) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("version = %d\n", l.Version))

	if l.Revision != 0 {
		buf.WriteString(fmt.Sprintf("revision = %d\n", l.Revision))
	}

	if !l.RequiresPython.IsUnbounded() {
		buf.WriteString(fmt.Sprintf("requires-python = %q\n", l.RequiresPython.String()))
	}

	if len(l.ForkMarkers) > 0 {
		buf.WriteString("resolution-markers = [\n")

		for _, m := range l.ForkMarkers {
			buf.WriteString(fmt.Sprintf("    %q,\n", m.Pep508.String()))
		}

		buf.WriteString("]\n")
	}

	writeMarkerArray(&buf, "supported-markers", l.SupportedEnvironments)
	writeMarkerArray(&buf, "required-markers", l.RequiredEnvironments)

	writeConflicts(&buf, l.ConflictsValue)
	writeOptions(&buf, l.OptionsValue)
	writeManifest(&buf, l.ManifestValue)

	names := unambiguousNames(l.Packages)

	for _, p := range l.Packages {
		if err := writePackage(&buf, p, names); err != nil {
			return nil, fmt.Errorf("package %q: %w", p.ID.Name, err)
		}
	}

	return buf.Bytes(), nil
}

func writeMarkerArray(buf *bytes.Buffer, key string, nodes []marker.Node) {
	if len(nodes) == 0 {
		return
	}

	buf.WriteString(key + " = [\n")

	for _, n := range nodes {
		buf.WriteString(fmt.Sprintf("    %q,\n", n.String()))
	}

	buf.WriteString("]\n")
}

func writeConflicts(buf *bytes.Buffer, c Conflicts) {
	if len(c.Sets) == 0 {
		return
	}

	for _, set := range c.Sets {
		buf.WriteString("\n[[conflicts]]\n")
		buf.WriteString("set = [\n")

		for _, item := range set {
			buf.WriteString("    { ")
			buf.WriteString(fmt.Sprintf("package = %q", item.Package))

			if item.Extra != "" {
				buf.WriteString(fmt.Sprintf(", extra = %q", item.Extra))
			}

			if item.Group != "" {
				buf.WriteString(fmt.Sprintf(", group = %q", item.Group))
			}

			buf.WriteString(" },\n")
		}

		buf.WriteString("]\n")
	}
}

func writeOptions(buf *bytes.Buffer, o Options) {
	buf.WriteString("\n[options]\n")
	buf.WriteString(fmt.Sprintf("resolution-mode = %q\n", o.Mode.String()))
	buf.WriteString(fmt.Sprintf("prerelease-mode = %q\n", o.Prerelease.String()))
	buf.WriteString(fmt.Sprintf("fork-strategy = %q\n", o.ForkStrategy.String()))

	if !o.ExcludeNewer.IsZero() {
		buf.WriteString(fmt.Sprintf("exclude-newer = %q\n", o.ExcludeNewer.UTC().Format(time.RFC3339)))
	}

	if len(o.ExcludeNewerByPkg) > 0 {
		buf.WriteString("\n[options.exclude-newer-package]\n")

		names := make([]string, 0, len(o.ExcludeNewerByPkg))
		for n := range o.ExcludeNewerByPkg {
			names = append(names, n)
		}

		sort.Strings(names)

		for _, n := range names {
			buf.WriteString(fmt.Sprintf("%q = %q\n", n, o.ExcludeNewerByPkg[n].UTC().Format(time.RFC3339)))
		}
	}
}

func writeManifest(buf *bytes.Buffer, m Manifest) {
	if len(m.Members) == 0 && len(m.Requirements) == 0 {
		return
	}

	buf.WriteString("\n[manifest]\n")

	if len(m.Members) > 0 {
		members := append([]string{}, m.Members...)
		sort.Strings(members)
		writeStringArray(buf, "members", members)
	}

	if len(m.Requirements) > 0 {
		buf.WriteString("requirements = [\n")

		for _, r := range m.Requirements {
			buf.WriteString(fmt.Sprintf("    %q,\n", requirementText(r)))
		}

		buf.WriteString("]\n")
	}
}

func requirementText(r requirement.Requirement) string {
	s := r.Name
	if len(r.Extras) > 0 {
		s += "[" + strings.Join(r.Extras, ",") + "]"
	}

	if !r.Specifier.IsUnbounded() {
		s += r.Specifier.String()
	}

	if !marker.Equal(r.Marker, marker.True) {
		s += "; " + r.Marker.String()
	}

	return s
}

func writeStringArray(buf *bytes.Buffer, key string, values []string) {
	buf.WriteString(key + " = [\n")

	for _, v := range values {
		buf.WriteString(fmt.Sprintf("    %q,\n", v))
	}

	buf.WriteString("]\n")
}

// unambiguousNames returns the set of package names appearing exactly
// once in the lock, for which dependency edges may omit version/source.
func unambiguousNames(packages []Package) map[string]bool {
	count := make(map[string]int, len(packages))
	for _, p := range packages {
		count[p.ID.Name]++
	}

	out := make(map[string]bool, len(packages))
	for name, n := range count {
		out[name] = n == 1
	}

	return out
}

func writePackage(buf *bytes.Buffer, p Package, unambiguous map[string]bool) error {
	buf.WriteString("\n[[package]]\n")
	buf.WriteString(fmt.Sprintf("name = %q\n", p.ID.Name))

	if p.ID.Version != "" {
		buf.WriteString(fmt.Sprintf("version = %q\n", p.ID.Version))
	}

	if err := writeSourceTable(buf, p.ID.Source); err != nil {
		return err
	}

	if len(p.ForkMarkers) > 0 {
		buf.WriteString("resolution-markers = [\n")

		for _, m := range p.ForkMarkers {
			buf.WriteString(fmt.Sprintf("    %q,\n", m.String()))
		}

		buf.WriteString("]\n")
	}

	if p.Sdist != nil {
		writeSdist(buf, *p.Sdist)
	}

	if len(p.Wheels) > 0 {
		buf.WriteString("wheels = [\n")

		for _, w := range p.Wheels {
			buf.WriteString("    " + wheelEntryTOML(w) + ",\n")
		}

		buf.WriteString("]\n")
	}

	writeDepArray(buf, "dependencies", p.Dependencies, unambiguous)

	extraNames := sortedKeys(p.OptionalDependencies)
	for _, extra := range extraNames {
		writeDepArray(buf, fmt.Sprintf("optional-dependencies.%s", extra), p.OptionalDependencies[extra], unambiguous)
	}

	groupNames := sortedKeys(p.DependencyGroups)
	for _, group := range groupNames {
		writeDepArray(buf, fmt.Sprintf("dev-dependencies.%s", group), p.DependencyGroups[group], unambiguous)
	}

	writePackageMetadata(buf, p.Metadata)

	return nil
}

func sortedKeys[T any](m map[string][]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// writeSourceTable writes a package's source inline table. Git sources are
// encoded per the format's fragment/query convention (pinned commit in the
// fragment, reference kind in the query string, via EncodeGitURL); git and
// direct-URL sources both have credentials stripped before the URL is ever
// written to disk.
func writeSourceTable(buf *bytes.Buffer, s requirement.Source) error {
	kind := sourceTableKind(s.Kind)

	buf.WriteString("source = { " + kind)

	switch s.Kind {
	case requirement.SourceRegistry:
		buf.WriteString(" = true")
	case requirement.SourceGit:
		encoded, err := EncodeGitURL(s.URL, s.PinnedCommit, parseGitSourceKind(s.ReferenceKind), s.Reference)
		if err != nil {
			return fmt.Errorf("encoding git source: %w", err)
		}

		buf.WriteString(fmt.Sprintf(" = %q", encoded))
	case requirement.SourceDirect:
		stripped, err := StripCredentials(s.URL)
		if err != nil {
			return fmt.Errorf("stripping credentials from direct source: %w", err)
		}

		buf.WriteString(fmt.Sprintf(" = %q", stripped))
	case requirement.SourcePath, requirement.SourceDirectory, requirement.SourceEditable, requirement.SourceVirtual:
		buf.WriteString(fmt.Sprintf(" = %q", s.Path))
	}

	if s.Subdirectory != "" {
		buf.WriteString(fmt.Sprintf(", subdirectory = %q", s.Subdirectory))
	}

	buf.WriteString(" }\n")

	return nil
}

func writeSdist(buf *bytes.Buffer, s Sdist) {
	buf.WriteString("sdist = { ")
	buf.WriteString(artifactFields(s.URL, s.Path, "", s.Hash, s.Size, s.UploadTime))
	buf.WriteString(" }\n")
}

func wheelEntryTOML(w Wheel) string {
	return "{ " + artifactFields(w.URL, w.Path, w.Filename, w.Hash, w.Size, w.UploadTime) + " }"
}

func artifactFields(url, path, filename, hash string, size int64, uploadTime time.Time) string {
	var parts []string

	switch {
	case url != "":
		parts = append(parts, fmt.Sprintf("url = %q", url))
	case path != "":
		parts = append(parts, fmt.Sprintf("path = %q", path))
	case filename != "":
		parts = append(parts, fmt.Sprintf("filename = %q", filename))
	}

	if hash != "" {
		parts = append(parts, fmt.Sprintf("hash = %q", hash))
	}

	if size > 0 {
		parts = append(parts, fmt.Sprintf("size = %d", size))
	}

	if !uploadTime.IsZero() {
		parts = append(parts, fmt.Sprintf("upload-time = %q", uploadTime.UTC().Format(time.RFC3339)))
	}

	return strings.Join(parts, ", ")
}

func writeDepArray(buf *bytes.Buffer, key string, deps []Dependency, unambiguous map[string]bool) {
	if len(deps) == 0 {
		return
	}

	buf.WriteString(key + " = [\n")

	for _, d := range deps {
		buf.WriteString("    " + dependencyTOML(d, unambiguous) + ",\n")
	}

	buf.WriteString("]\n")
}

func dependencyTOML(d Dependency, unambiguous map[string]bool) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("name = %q", d.PackageID.Name))

	if !unambiguous[d.PackageID.Name] {
		if d.PackageID.Version != "" {
			parts = append(parts, fmt.Sprintf("version = %q", d.PackageID.Version))
		}

		parts = append(parts, fmt.Sprintf("source = %q", sourceTableKind(d.PackageID.Source.Kind)))
	}

	if len(d.Extras) > 0 {
		parts = append(parts, fmt.Sprintf("extra = [%s]", quotedJoin(d.Extras)))
	}

	if !marker.Equal(d.SimplifiedMarker, marker.True) {
		parts = append(parts, fmt.Sprintf("marker = %q", d.SimplifiedMarker.String()))
	}

	return "{ " + strings.Join(parts, ", ") + " }"
}

func quotedJoin(values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%q", v)
	}

	return strings.Join(parts, ", ")
}

func writePackageMetadata(buf *bytes.Buffer, m PackageMetadata) {
	if len(m.RequiresDist) == 0 && len(m.ProvidesExtras) == 0 && len(m.DependencyGroups) == 0 {
		return
	}

	buf.WriteString("\n[package.metadata]\n")

	if len(m.RequiresDist) > 0 {
		buf.WriteString("requires-dist = [\n")

		for _, r := range m.RequiresDist {
			buf.WriteString(fmt.Sprintf("    %q,\n", requirementText(r)))
		}

		buf.WriteString("]\n")
	}

	if len(m.ProvidesExtras) > 0 {
		writeStringArray(buf, "provides-extras", m.ProvidesExtras)
	}

	if len(m.DependencyGroups) > 0 {
		buf.WriteString("\n[package.metadata.requires-dev]\n")

		for _, group := range sortedKeys(m.DependencyGroups) {
			buf.WriteString(fmt.Sprintf("%s = [\n", group))

			for _, r := range m.DependencyGroups[group] {
				buf.WriteString(fmt.Sprintf("    %q,\n", requirementText(r)))
			}

			buf.WriteString("]\n")
		}
	}
}
