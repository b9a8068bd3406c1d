// Package version wraps PEP 440 version parsing and comparison for use by
// the marker algebra, the resolver, and the lockfile engine. It is a thin
// layer over github.com/aquasecurity/go-pep440-version that adds the
// local-label-insensitive equality required by the lockfile's registry
// invariants and the specifier-range arithmetic needed for the
// requires-python envelope.
package version

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// Version is a parsed PEP 440 version.
type Version struct {
	raw string
	v   pep440.Version
}

// Parse parses a PEP 440 version string.
func Parse(s string) (Version, error) {
	v, err := pep440.Parse(s)
	if err != nil {
		return Version{}, fmt.Errorf("parsing version %q: %w", s, err)
	}

	return Version{raw: s, v: v}, nil
}

// MustParse parses s, panicking on error. Intended for static test fixtures
// and literal constants, never for data from a collaborator.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return v
}

// String returns the original, un-normalized version text.
func (v Version) String() string { return v.raw }

// IsZero reports whether v is the unparsed zero value.
func (v Version) IsZero() bool { return v.raw == "" }

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int { return v.v.Compare(o.v) }

// Less reports whether v sorts strictly before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// IsPreRelease reports whether v carries a PEP 440 pre-release segment.
func (v Version) IsPreRelease() bool { return v.v.IsPreRelease() }

// EqualIgnoringLocal reports whether v and o are equal once their PEP 440
// local version labels (the "+cpu", "+cu121"-style suffix) are stripped.
// This backs the lockfile's invariant that a wheel filename's embedded
// version must equal the package entry's version "modulo local label".
func (v Version) EqualIgnoringLocal(o Version) bool {
	av, aerr := Parse(stripLocal(v.raw))
	bv, berr := Parse(stripLocal(o.raw))
	if aerr != nil || berr != nil {
		return stripLocal(v.raw) == stripLocal(o.raw)
	}

	return av.Compare(bv) == 0
}

func stripLocal(s string) string {
	if i := strings.IndexByte(s, '+'); i >= 0 {
		return s[:i]
	}

	return s
}

// Range is an intersection of PEP 440 specifier clauses, such as the
// requirement ">=3.0,<4.0" or a project's "requires-python" declaration.
type Range struct {
	clauses []string
	specs   pep440.Specifiers
}

// ParseRange parses zero or more specifier clauses as a single intersected
// range. A nil/empty input matches every version.
func ParseRange(clauses ...string) (Range, error) {
	var flat []string

	for _, c := range clauses {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}

		flat = append(flat, c)
	}

	if len(flat) == 0 {
		return Range{}, nil
	}

	ss, err := pep440.NewSpecifiers(strings.Join(flat, ","))
	if err != nil {
		return Range{}, fmt.Errorf("parsing specifier %q: %w", strings.Join(flat, ","), err)
	}

	return Range{clauses: flat, specs: ss}, nil
}

// Contains reports whether v satisfies every clause in the range.
func (r Range) Contains(v Version) bool {
	if len(r.clauses) == 0 {
		return true
	}

	return r.specs.Check(v.v)
}

// Intersect returns the range that requires both r and o to hold.
func (r Range) Intersect(o Range) (Range, error) {
	return ParseRange(append(append([]string{}, r.clauses...), o.clauses...)...)
}

// String renders the range in its original clause order, comma-joined.
func (r Range) String() string {
	return strings.Join(r.clauses, ",")
}

// IsUnbounded reports whether the range admits every version.
func (r Range) IsUnbounded() bool { return len(r.clauses) == 0 }

var lowerBoundRe = regexp.MustCompile(`^(>=|>)\s*(.+)$`)

// LowerBound returns the tightest inclusive-or-exclusive lower bound implied
// by the range's ">=" and ">" clauses, used by the marker algebra to build
// the requires-python envelope conjunct (python_full_version >= rp). Returns
// ok=false if the range has no lower-bounding clause.
func (r Range) LowerBound() (bound Version, inclusive bool, ok bool) {
	var (
		best     Version
		bestIncl bool
		foundAny bool
	)

	for _, c := range r.clauses {
		m := lowerBoundRe.FindStringSubmatch(c)
		if m == nil {
			continue
		}

		v, err := Parse(strings.TrimSpace(m[2]))
		if err != nil {
			continue
		}

		incl := m[1] == ">="

		if !foundAny || v.Compare(best) > 0 {
			best, bestIncl, foundAny = v, incl, true
		}
	}

	return best, bestIncl, foundAny
}

// SortDescending sorts version strings from highest to lowest, dropping any
// that fail to parse as PEP 440.
func SortDescending(raw []string) []string {
	return sortBy(raw, func(a, b Version) bool { return a.Compare(b) > 0 })
}

// SortAscending sorts version strings from lowest to highest, dropping any
// that fail to parse as PEP 440.
func SortAscending(raw []string) []string {
	return sortBy(raw, func(a, b Version) bool { return a.Compare(b) < 0 })
}

func sortBy(raw []string, less func(a, b Version) bool) []string {
	type parsed struct {
		raw string
		v   Version
	}

	valid := make([]parsed, 0, len(raw))

	for _, s := range raw {
		v, err := Parse(s)
		if err != nil {
			continue
		}

		valid = append(valid, parsed{raw: s, v: v})
	}

	sort.SliceStable(valid, func(i, j int) bool { return less(valid[i].v, valid[j].v) })

	out := make([]string, len(valid))
	for i, p := range valid {
		out[i] = p.raw
	}

	return out
}

// ParseGenericComponents splits a dotted numeric tag such as a manylinux
// glibc version ("2_17" or "2.17") into its integer components, for
// ordering comparisons that fall outside PEP 440 (the wheel tag matcher's
// platform-class compatibility check). Non-numeric components parse as 0.
func ParseGenericComponents(tag string) []int {
	tag = strings.NewReplacer("_", ".").Replace(tag)
	parts := strings.Split(tag, ".")
	out := make([]int, len(parts))

	for i, p := range parts {
		n, _ := strconv.Atoi(p)
		out[i] = n
	}

	return out
}

// CompareGeneric compares two dotted numeric tags component-wise, per
// ParseGenericComponents. Used by internal/wheel to order manylinux/macOS
// platform tags that are not PEP 440 versions.
func CompareGeneric(a, b string) int {
	ca, cb := ParseGenericComponents(a), ParseGenericComponents(b)

	for i := 0; i < len(ca) || i < len(cb); i++ {
		var x, y int
		if i < len(ca) {
			x = ca[i]
		}

		if i < len(cb) {
			y = cb[i]
		}

		if x != y {
			if x < y {
				return -1
			}

			return 1
		}
	}

	return 0
}
