package marker

import (
	"fmt"

	"github.com/kadirtech/pylock/internal/version"
)

// envelopeAtom builds the "python_full_version >= rp" conjunct used as the
// requires-python envelope.
func envelopeAtom(rp version.Version) Node {
	return Expr(PythonFullVersion, OpGe, rp.String())
}

// Simplify returns the marker equivalent to m AND (python_full_version >=
// rp), but with the envelope conjunct pruned wherever it is implied by the
// project's requires-python floor and therefore redundant to restate. It is
// the inverse of Complexify and is idempotent: simplifying an
// already-simplified marker is a no-op, because a marker with the envelope
// conjunct already removed has nothing left to prune.
func Simplify(m Node, rp version.Version) Node {
	if rp.IsZero() {
		return m
	}

	return pruneEnvelope(m, rp)
}

// pruneEnvelope walks m removing any atom that is implied by "version >=
// rp" on python_full_version (or the equivalent python_version form). A
// bare atom is pruned the same way an atom nested under And/Or is.
func pruneEnvelope(m Node, rp version.Version) Node {
	if isImpliedByEnvelope(m, rp) {
		return True
	}

	switch m.kind {
	case KindAnd:
		var kept []Node

		for _, c := range m.children {
			pruned := pruneEnvelope(c, rp)
			if Equal(pruned, True) {
				continue
			}

			kept = append(kept, pruned)
		}

		if len(kept) == 0 {
			return True
		}

		acc := kept[0]
		for _, k := range kept[1:] {
			acc = Conjoin(acc, k)
		}

		return acc
	case KindOr:
		children := make([]Node, len(m.children))
		for i, c := range m.children {
			children[i] = pruneEnvelope(c, rp)
		}

		acc := children[0]
		for _, c := range children[1:] {
			acc = Disjoin(acc, c)
		}

		return acc
	case KindExpr:
		return prunePythonVersionInterval(m, rp)
	default:
		return m
	}
}

// prunePythonVersionInterval rewrites a python_version atom whose PEP 440
// meaning is the half-open interval [X.Y.0, X.(Y+1).0) on
// python_full_version, dropping the interval half the requires-python
// floor already guarantees. The canonical case: python_version == "3.10"
// under a floor of 3.10.1 keeps only python_full_version < "3.11".
func prunePythonVersionInterval(atom Node, rp version.Version) Node {
	if atom.negated || atom.variable != PythonVersion || atom.op != OpEq {
		return atom
	}

	major, minor, ok := majorMinor(atom.value)
	if !ok {
		return atom
	}

	lower, err := version.Parse(fmt.Sprintf("%d.%d", major, minor))
	if err != nil {
		return atom
	}

	if rp.Compare(lower) >= 0 {
		return Expr(PythonFullVersion, OpLt, fmt.Sprintf("%d.%d", major, minor+1))
	}

	return atom
}

// isImpliedByEnvelope reports whether atom is a python_full_version (or
// python_version) lower-bound check that the requires-python floor already
// guarantees, e.g. "python_full_version >= 3.8" when rp is 3.9. A strict
// python_version bound excludes the whole named minor release, so its
// effective floor is the next minor, not the stated one.
func isImpliedByEnvelope(atom Node, rp version.Version) bool {
	if atom.kind != KindExpr || atom.negated {
		return false
	}

	if atom.variable != PythonFullVersion && atom.variable != PythonVersion {
		return false
	}

	bound, err := version.Parse(atom.value)
	if err != nil {
		return false
	}

	switch atom.op {
	case OpGe:
		return rp.Compare(bound) >= 0
	case OpGt:
		if atom.variable == PythonVersion {
			if major, minor, ok := majorMinor(atom.value); ok {
				next, err := version.Parse(fmt.Sprintf("%d.%d", major, minor+1))
				if err == nil {
					return rp.Compare(next) >= 0
				}
			}
		}

		return rp.Compare(bound) > 0
	default:
		return false
	}
}

// Complexify re-adds the requires-python envelope conjunct that Simplify
// may have pruned, so the marker is once again equivalent to
// m AND (python_full_version >= rp). It is idempotent in the sense required
// by the contract: Complexify(Complexify(m, rp), rp) is equivalent to
// Complexify(m, rp), because conjoining the same envelope atom twice
// canonicalizes (via Conjoin's deduplication) to conjoining it once.
func Complexify(m Node, rp version.Version) Node {
	if rp.IsZero() {
		return m
	}

	return Conjoin(m, envelopeAtom(rp))
}
