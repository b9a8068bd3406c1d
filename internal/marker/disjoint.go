package marker

import (
	"fmt"

	"github.com/kadirtech/pylock/internal/version"
)

// IsDisjoint reports whether no environment can satisfy both a and b.
//
// Both sides are expanded to disjunctive normal form (a disjunction of
// conjunctions of atoms); a and b are disjoint iff every pairing of one
// conjunction from each side is internally contradictory. Contradiction
// between two atoms is decided exactly for the version variables
// (python_version, python_full_version) via PEP 440 specifier-range
// intersection, and by direct equality/inequality for the finite-domain
// string variables (sys_platform, os_name, platform_machine,
// platform_python_implementation, implementation_name, platform_system).
func IsDisjoint(a, b Node) bool {
	dnfA := toDNF(a)
	dnfB := toDNF(b)

	// An empty disjunction means the side is unsatisfiable; vacuously
	// disjoint from anything.
	if len(dnfA) == 0 || len(dnfB) == 0 {
		return true
	}

	for _, ca := range dnfA {
		for _, cb := range dnfB {
			if !conjunctionContradicts(ca, cb) {
				return false
			}
		}
	}

	return true
}

// toDNF expands n into a list of conjunctions (each a list of atom nodes).
// An empty outer slice means n is unsatisfiable (False); a slice containing
// a single empty conjunction means n is a tautology (True).
func toDNF(n Node) [][]Node {
	switch n.kind {
	case KindFalse:
		return nil
	case KindTrue:
		return [][]Node{{}}
	case KindExpr:
		return [][]Node{{n}}
	case KindOr:
		var out [][]Node
		for _, c := range n.children {
			out = append(out, toDNF(c)...)
		}

		return out
	case KindAnd:
		result := [][]Node{{}}

		for _, c := range n.children {
			childDNF := toDNF(c)
			if len(childDNF) == 0 {
				return nil
			}

			var next [][]Node

			for _, r := range result {
				for _, cd := range childDNF {
					merged := make([]Node, 0, len(r)+len(cd))
					merged = append(merged, r...)
					merged = append(merged, cd...)
					next = append(next, merged)
				}
			}

			result = next
		}

		return result
	default:
		return nil
	}
}

// conjunctionContradicts reports whether any atom in ca contradicts any
// atom in cb (or, for safety, within the same conjunction).
func conjunctionContradicts(ca, cb []Node) bool {
	for _, x := range ca {
		for _, y := range cb {
			if atomsContradict(x, y) {
				return true
			}
		}
	}

	for _, pair := range [][]Node{ca, cb} {
		for i := 0; i < len(pair); i++ {
			for j := i + 1; j < len(pair); j++ {
				if atomsContradict(pair[i], pair[j]) {
					return true
				}
			}
		}
	}

	return false
}

// atomsContradict treats python_version and python_full_version as one
// dimension: both are projected onto python_full_version specifier
// clauses before the intersection test, so a python_version atom is
// reconciled with a python_full_version bound rather than ignored.
func atomsContradict(x, y Node) bool {
	if versionVariables[x.variable] && versionVariables[y.variable] {
		return versionAtomsContradict(x, y)
	}

	if x.variable != y.variable {
		return false
	}

	return stringAtomsContradict(x, y)
}

// versionAtomsContradict tests contradiction by turning each atom into
// PEP 440 specifier clauses over python_full_version and checking whether
// their intersection is empty. Atoms that can't be expressed as clauses
// (~=, ===, or a negated clause with no direct complement) are treated as
// non contradictory — conservative, since a missed fork is a correctness
// bug but a spurious one is only a missed optimization.
func versionAtomsContradict(x, y Node) bool {
	cx, okX := atomToClauses(x)
	cy, okY := atomToClauses(y)

	if !okX || !okY {
		return false
	}

	r, err := version.ParseRange(append(cx, cy...)...)
	if err != nil {
		return false
	}

	return rangeIsEmpty(r)
}

// atomToClauses renders an atom as python_full_version specifier clauses.
// A python_version value of the form "X.Y" denotes the half-open interval
// [X.Y.0, X.(Y+1).0), so ==, <=, and > translate to interval bounds
// rather than naive single-clause comparisons.
func atomToClauses(n Node) ([]string, bool) {
	op := n.op
	neg := n.negated

	if negOp, ok := op.negated(); neg && ok {
		op, neg = negOp, false
	}

	if n.variable == PythonVersion && !neg {
		if major, minor, ok := majorMinor(n.value); ok {
			next := fmt.Sprintf("%d.%d", major, minor+1)

			switch op {
			case OpEq:
				return []string{">=" + n.value, "<" + next}, true
			case OpLe:
				return []string{"<" + next}, true
			case OpGt:
				return []string{">=" + next}, true
			case OpLt:
				return []string{"<" + n.value}, true
			case OpGe:
				return []string{">=" + n.value}, true
			default:
				return nil, false
			}
		}
	}

	if neg {
		if op == OpEq {
			return []string{"!=" + n.value}, true
		}

		return nil, false
	}

	switch op {
	case OpEq, OpLt, OpLe, OpGt, OpGe:
		return []string{op.String() + n.value}, true
	default:
		return nil, false
	}
}

// rangeIsEmpty decides whether r admits no version at all: an
// exact-equality clause pins the range to a single version, which either
// satisfies every other clause or empties the range; otherwise the
// tightest lower and upper bounds implied by the clauses are compared
// against each other.
func rangeIsEmpty(r version.Range) bool {
	for _, c := range splitClauses(r.String()) {
		if !hasPrefix(c, "==") || hasPrefix(c, "===") {
			continue
		}

		pinned, err := version.Parse(c[2:])
		if err != nil {
			continue
		}

		return !r.Contains(pinned)
	}

	lower, lowerIncl, hasLower := r.LowerBound()

	upper, upperIncl, hasUpper := upperBound(r)
	if !hasUpper || !hasLower {
		return false
	}

	switch lower.Compare(upper) {
	case 1:
		return true
	case 0:
		return !(lowerIncl && upperIncl)
	default:
		return false
	}
}

// upperBound finds the tightest ("<"/"<=") upper bound among r's clauses:
// the minimum of the bounding versions, since each such clause independently
// restricts the range from above.
func upperBound(r version.Range) (bound version.Version, inclusive bool, ok bool) {
	for _, c := range splitClauses(r.String()) {
		var (
			raw  string
			incl bool
		)

		switch {
		case hasPrefix(c, "<="):
			raw, incl = c[2:], true
		case hasPrefix(c, "<"):
			raw, incl = c[1:], false
		default:
			continue
		}

		v, err := version.Parse(raw)
		if err != nil {
			continue
		}

		if !ok || v.Compare(bound) < 0 {
			bound, inclusive, ok = v, incl, true
		}
	}

	return bound, inclusive, ok
}

func splitClauses(s string) []string {
	var out []string

	start := 0

	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}

			start = i + 1
		}
	}

	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func stringAtomsContradict(x, y Node) bool {
	if x.op != OpEq || y.op != OpEq {
		return false
	}

	switch {
	case !x.negated && !y.negated:
		return x.value != y.value
	case x.negated && !y.negated:
		return x.value == y.value
	case !x.negated && y.negated:
		return x.value == y.value
	default:
		return false
	}
}
