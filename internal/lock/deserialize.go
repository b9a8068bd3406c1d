package lock

import (
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kadirtech/pylock/internal/marker"
	"github.com/kadirtech/pylock/internal/normalize"
	"github.com/kadirtech/pylock/internal/requirement"
	"github.com/kadirtech/pylock/internal/resolve"
	"github.com/kadirtech/pylock/internal/version"
)

// lockVersionWire is the forward-compatible probe: it reads only the
// integer version field, so a newer-revision lockfile with unknown fields
// can be rejected on version mismatch without failing on the rest of the
// parse.
type lockVersionWire struct {
	Version int `toml:"version"`
}

// ProbeVersion reads only data's version field, per the two-phase
// deserialization contract.
func ProbeVersion(data []byte) (int, error) {
	var v lockVersionWire
	if _, err := toml.Decode(string(data), &v); err != nil {
		return 0, fmt.Errorf("probing lockfile version: %w", err)
	}

	return v.Version, nil
}

type sourceWire struct {
	Registry     *bool   `toml:"registry"`
	Git          *string `toml:"git"`
	URL          *string `toml:"url"`
	Path         *string `toml:"path"`
	Directory    *string `toml:"directory"`
	Editable     *string `toml:"editable"`
	Virtual      *string `toml:"virtual"`
	Subdirectory string  `toml:"subdirectory"`
}

func (s sourceWire) toSource() (requirement.Source, error) {
	switch {
	case s.Registry != nil:
		return requirement.Source{Kind: requirement.SourceRegistry, Subdirectory: s.Subdirectory}, nil
	case s.Git != nil:
		repo, pinnedCommit, kind, ref, err := DecodeGitURL(*s.Git)
		if err != nil {
			return requirement.Source{}, fmt.Errorf("decoding git source: %w", err)
		}

		return requirement.Source{
			Kind:          requirement.SourceGit,
			URL:           repo,
			Reference:     ref,
			ReferenceKind: kind.queryKey(),
			PinnedCommit:  pinnedCommit,
			Subdirectory:  s.Subdirectory,
		}, nil
	case s.URL != nil:
		return requirement.Source{Kind: requirement.SourceDirect, URL: *s.URL, Subdirectory: s.Subdirectory}, nil
	case s.Path != nil:
		return requirement.Source{Kind: requirement.SourcePath, Path: *s.Path, Subdirectory: s.Subdirectory}, nil
	case s.Directory != nil:
		return requirement.Source{Kind: requirement.SourceDirectory, Path: *s.Directory, Subdirectory: s.Subdirectory}, nil
	case s.Editable != nil:
		return requirement.Source{Kind: requirement.SourceEditable, Path: *s.Editable, Subdirectory: s.Subdirectory}, nil
	case s.Virtual != nil:
		return requirement.Source{Kind: requirement.SourceVirtual, Path: *s.Virtual, Subdirectory: s.Subdirectory}, nil
	default:
		return requirement.Source{}, fmt.Errorf("source table names no known kind")
	}
}

type artifactWire struct {
	URL        string `toml:"url"`
	Path       string `toml:"path"`
	Filename   string `toml:"filename"`
	Hash       string `toml:"hash"`
	Size       int64  `toml:"size"`
	UploadTime string `toml:"upload-time"`
}

func (a artifactWire) uploadTime() (time.Time, error) {
	if a.UploadTime == "" {
		return time.Time{}, nil
	}

	return time.Parse(time.RFC3339, a.UploadTime)
}

// wheelFilename recovers a wheel entry's filename: the format stores an
// explicit filename only for plain local-path wheels; remote and
// local-registry entries derive it from the URL or path basename, which
// wheel selection needs for tag matching.
func wheelFilename(aw artifactWire) string {
	switch {
	case aw.Filename != "":
		return aw.Filename
	case aw.URL != "":
		u, err := url.Parse(aw.URL)
		if err != nil {
			return ""
		}

		return path.Base(u.Path)
	case aw.Path != "":
		return path.Base(aw.Path)
	default:
		return ""
	}
}

type dependencyWire struct {
	Name    string   `toml:"name"`
	Version string   `toml:"version"`
	Source  string   `toml:"source"`
	Extra   []string `toml:"extra"`
	Marker  string   `toml:"marker"`
}

type metadataWire struct {
	RequiresDist   []string            `toml:"requires-dist"`
	ProvidesExtras []string            `toml:"provides-extras"`
	RequiresDev    map[string][]string `toml:"requires-dev"`
}

type packageWire struct {
	Name                 string                      `toml:"name"`
	Version              string                      `toml:"version"`
	Source               sourceWire                  `toml:"source"`
	ResolutionMarkers    []string                    `toml:"resolution-markers"`
	Sdist                *artifactWire               `toml:"sdist"`
	Wheels               []artifactWire              `toml:"wheels"`
	Dependencies         []dependencyWire            `toml:"dependencies"`
	OptionalDependencies map[string][]dependencyWire `toml:"optional-dependencies"`
	DevDependencies      map[string][]dependencyWire `toml:"dev-dependencies"`
	Metadata             metadataWire                `toml:"metadata"`
}

type optionsWire struct {
	ResolutionMode         string            `toml:"resolution-mode"`
	PrereleaseMode         string            `toml:"prerelease-mode"`
	ForkStrategy           string            `toml:"fork-strategy"`
	ExcludeNewer           string            `toml:"exclude-newer"`
	ExcludeNewerPerPackage map[string]string `toml:"exclude-newer-package"`
}

type manifestWire struct {
	Members      []string `toml:"members"`
	Requirements []string `toml:"requirements"`
}

type conflictSetWire struct {
	Package string `toml:"package"`
	Extra   string `toml:"extra"`
	Group   string `toml:"group"`
}

type conflictsWire struct {
	Set []conflictSetWire `toml:"set"`
}

type lockWire struct {
	Version           int             `toml:"version"`
	Revision          int             `toml:"revision"`
	RequiresPython    string          `toml:"requires-python"`
	ResolutionMarkers []string        `toml:"resolution-markers"`
	SupportedMarkers  []string        `toml:"supported-markers"`
	RequiredMarkers   []string        `toml:"required-markers"`
	Conflicts         []conflictsWire `toml:"conflicts"`
	Options           optionsWire     `toml:"options"`
	Manifest          manifestWire    `toml:"manifest"`
	Package           []packageWire   `toml:"package"`
}

// Deserialize parses data into a Lock: a full TOML decode into the wire
// representation, then "unwiring" — complexifying every dependency-edge
// marker against requires-python (resolution, supported and required
// markers are read as written) and resolving ambiguity-suppressed
// dependency edges by looking up the package's unambiguous identity in
// the lock itself.
func Deserialize(data []byte) (*Lock, error) {
	v, err := ProbeVersion(data)
	if err != nil {
		return nil, err
	}

	if v != CurrentVersion {
		return nil, fmt.Errorf("lockfile version %d is not supported (expected %d)", v, CurrentVersion)
	}

	var w lockWire
	if _, err := toml.Decode(string(data), &w); err != nil {
		return nil, fmt.Errorf("parsing lockfile: %w", err)
	}

	rp, err := version.ParseRange(w.RequiresPython)
	if err != nil {
		return nil, fmt.Errorf("parsing requires-python %q: %w", w.RequiresPython, err)
	}

	rpFloor, _, hasFloor := rp.LowerBound()

	l := &Lock{
		Version:        w.Version,
		Revision:       w.Revision,
		RequiresPython: rp,
	}

	for _, raw := range w.SupportedMarkers {
		m, err := marker.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing supported-markers entry %q: %w", raw, err)
		}

		l.SupportedEnvironments = append(l.SupportedEnvironments, m)
	}

	for _, raw := range w.RequiredMarkers {
		m, err := marker.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing required-markers entry %q: %w", raw, err)
		}

		l.RequiredEnvironments = append(l.RequiredEnvironments, m)
	}

	opts, err := parseOptions(w.Options)
	if err != nil {
		return nil, err
	}

	l.OptionsValue = opts
	l.ConflictsValue = parseConflicts(w.Conflicts)

	manifest, err := parseManifest(w.Manifest)
	if err != nil {
		return nil, err
	}

	l.ManifestValue = manifest

	// A package name is unambiguous when this lockfile carries only one
	// entry for it; dependency edges for such names may have omitted
	// version/source on write, so the lookup table must exist before any
	// edge is unwired.
	nameCount := make(map[string]int, len(w.Package))
	for _, pw := range w.Package {
		nameCount[normalize.Name(pw.Name)]++
	}

	byUnambiguousName := make(map[string]requirement.PackageId, len(w.Package))

	for _, p := range w.Package {
		src, err := p.Source.toSource()
		if err != nil {
			return nil, fmt.Errorf("package %q: %w", p.Name, err)
		}

		id := requirement.PackageId{Name: normalize.Name(p.Name), Version: p.Version, Source: src}
		if nameCount[id.Name] == 1 {
			byUnambiguousName[id.Name] = id
		}
	}

	for _, pw := range w.Package {
		pkg, err := unwirePackage(pw, rpFloor, hasFloor, byUnambiguousName)
		if err != nil {
			return nil, err
		}

		l.Packages = append(l.Packages, pkg)
	}

	l.rebuildIndex()

	for _, raw := range w.ResolutionMarkers {
		m, err := marker.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing resolution-markers entry %q: %w", raw, err)
		}

		l.ForkMarkers = append(l.ForkMarkers, resolve.UniversalMarker{Pep508: m})
	}

	if err := validate(l); err != nil {
		return nil, err
	}

	return l, nil
}

func unwirePackage(pw packageWire, rpFloor version.Version, hasFloor bool, byUnambiguousName map[string]requirement.PackageId) (Package, error) {
	src, err := pw.Source.toSource()
	if err != nil {
		return Package{}, fmt.Errorf("package %q: %w", pw.Name, err)
	}

	p := Package{
		ID:                   requirement.PackageId{Name: normalize.Name(pw.Name), Version: pw.Version, Source: src},
		OptionalDependencies: make(map[string][]Dependency),
		DependencyGroups:     make(map[string][]Dependency),
		RequiresHash:         requiresHash(src.Kind),
	}

	for _, raw := range pw.ResolutionMarkers {
		m, err := marker.Parse(raw)
		if err != nil {
			return Package{}, fmt.Errorf("package %q: parsing resolution-markers entry %q: %w", pw.Name, raw, err)
		}

		p.ForkMarkers = append(p.ForkMarkers, m)
	}

	if pw.Sdist != nil {
		ut, err := pw.Sdist.uploadTime()
		if err != nil {
			return Package{}, fmt.Errorf("package %q: sdist upload-time: %w", pw.Name, err)
		}

		p.Sdist = &Sdist{URL: pw.Sdist.URL, Path: pw.Sdist.Path, Hash: pw.Sdist.Hash, Size: pw.Sdist.Size, UploadTime: ut}
	}

	for _, aw := range pw.Wheels {
		ut, err := aw.uploadTime()
		if err != nil {
			return Package{}, fmt.Errorf("package %q: wheel upload-time: %w", pw.Name, err)
		}

		p.Wheels = append(p.Wheels, Wheel{URL: aw.URL, Path: aw.Path, Filename: wheelFilename(aw), Hash: aw.Hash, Size: aw.Size, UploadTime: ut})
	}

	deps, err := unwireDeps(pw.Dependencies, rpFloor, hasFloor, byUnambiguousName)
	if err != nil {
		return Package{}, fmt.Errorf("package %q: dependencies: %w", pw.Name, err)
	}

	p.Dependencies = deps

	for extra, raw := range pw.OptionalDependencies {
		deps, err := unwireDeps(raw, rpFloor, hasFloor, byUnambiguousName)
		if err != nil {
			return Package{}, fmt.Errorf("package %q: optional-dependencies.%s: %w", pw.Name, extra, err)
		}

		p.OptionalDependencies[extra] = deps
	}

	for group, raw := range pw.DevDependencies {
		deps, err := unwireDeps(raw, rpFloor, hasFloor, byUnambiguousName)
		if err != nil {
			return Package{}, fmt.Errorf("package %q: dev-dependencies.%s: %w", pw.Name, group, err)
		}

		p.DependencyGroups[group] = deps
	}

	meta, err := unwireMetadata(pw.Metadata)
	if err != nil {
		return Package{}, fmt.Errorf("package %q: metadata: %w", pw.Name, err)
	}

	p.Metadata = meta

	return p, nil
}

func unwireDeps(raw []dependencyWire, rpFloor version.Version, hasFloor bool, byUnambiguousName map[string]requirement.PackageId) ([]Dependency, error) {
	var out []Dependency

	for _, d := range raw {
		name := normalize.Name(d.Name)

		var id requirement.PackageId

		if d.Version == "" && d.Source == "" {
			unambiguous, ok := byUnambiguousName[name]
			if !ok {
				return nil, newStructuralError(MissingDependencyVersion, name, "dependency name is ambiguous in this lockfile but version/source were omitted")
			}

			id = unambiguous
		} else {
			kind, ok := sourceKindFromTable(d.Source)
			if !ok {
				return nil, newStructuralError(MissingDependencySource, name, fmt.Sprintf("unrecognized source %q", d.Source))
			}

			id = requirement.PackageId{Name: name, Version: d.Version, Source: requirement.Source{Kind: kind}}
		}

		simplified := marker.True
		if d.Marker != "" {
			m, err := marker.Parse(d.Marker)
			if err != nil {
				return nil, fmt.Errorf("parsing marker %q: %w", d.Marker, err)
			}

			simplified = m
		}

		complexified := simplified
		if hasFloor {
			complexified = marker.Complexify(simplified, rpFloor)
		}

		out = append(out, Dependency{
			PackageID:          id,
			Extras:             d.Extra,
			SimplifiedMarker:   simplified,
			ComplexifiedMarker: complexified,
		})
	}

	return out, nil
}

func unwireMetadata(m metadataWire) (PackageMetadata, error) {
	out := PackageMetadata{ProvidesExtras: m.ProvidesExtras}

	for _, raw := range m.RequiresDist {
		r, err := requirement.Parse(raw)
		if err != nil {
			return PackageMetadata{}, fmt.Errorf("parsing requires-dist entry %q: %w", raw, err)
		}

		out.RequiresDist = append(out.RequiresDist, r)
	}

	if len(m.RequiresDev) > 0 {
		out.DependencyGroups = make(map[string][]requirement.Requirement, len(m.RequiresDev))

		for group, raws := range m.RequiresDev {
			for _, raw := range raws {
				r, err := requirement.Parse(raw)
				if err != nil {
					return PackageMetadata{}, fmt.Errorf("parsing requires-dev.%s entry %q: %w", group, raw, err)
				}

				out.DependencyGroups[group] = append(out.DependencyGroups[group], r)
			}
		}
	}

	return out, nil
}

func parseOptions(w optionsWire) (Options, error) {
	var o Options

	switch w.ResolutionMode {
	case "lowest":
		o.Mode = resolve.ModeLowest
	case "lowest-direct":
		o.Mode = resolve.ModeLowestDirect
	default:
		o.Mode = resolve.ModeHighest
	}

	switch w.PrereleaseMode {
	case "allow":
		o.Prerelease = resolve.PrereleaseAllow
	case "if-necessary":
		o.Prerelease = resolve.PrereleaseIfNecessary
	case "if-necessary-or-explicit":
		o.Prerelease = resolve.PrereleaseIfNecessaryOrExplicit
	case "explicit":
		o.Prerelease = resolve.PrereleaseExplicit
	default:
		o.Prerelease = resolve.PrereleaseDisallow
	}

	if w.ForkStrategy == "requires-python" {
		o.ForkStrategy = resolve.ForkRequiresPython
	}

	if w.ExcludeNewer != "" {
		t, err := time.Parse(time.RFC3339, w.ExcludeNewer)
		if err != nil {
			return Options{}, fmt.Errorf("parsing exclude-newer %q: %w", w.ExcludeNewer, err)
		}

		o.ExcludeNewer = t
	}

	if len(w.ExcludeNewerPerPackage) > 0 {
		o.ExcludeNewerByPkg = make(map[string]time.Time, len(w.ExcludeNewerPerPackage))

		for name, raw := range w.ExcludeNewerPerPackage {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return Options{}, fmt.Errorf("parsing exclude-newer-package.%s %q: %w", name, raw, err)
			}

			o.ExcludeNewerByPkg[name] = t
		}
	}

	return o, nil
}

func parseConflicts(w []conflictsWire) Conflicts {
	var c Conflicts

	for _, set := range w {
		var items []ConflictItem

		for _, item := range set.Set {
			items = append(items, ConflictItem{Package: item.Package, Extra: item.Extra, Group: item.Group})
		}

		c.Sets = append(c.Sets, items)
	}

	return c
}

func parseManifest(w manifestWire) (Manifest, error) {
	m := Manifest{Members: w.Members}

	for _, raw := range w.Requirements {
		r, err := requirement.Parse(raw)
		if err != nil {
			return Manifest{}, fmt.Errorf("parsing manifest requirement %q: %w", raw, err)
		}

		m.Requirements = append(m.Requirements, r)
	}

	return m, nil
}
