package marker

import (
	"strconv"
	"strings"

	"github.com/kadirtech/pylock/internal/version"
)

// majorMinor parses an "X.Y" python_version literal into its integer
// components; any other shape reports ok=false so callers fall back to
// plain version comparison.
func majorMinor(s string) (major, minor int, ok bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return 0, 0, false
	}

	major, err1 := strconv.Atoi(parts[0])

	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}

	return major, minor, true
}

// majorMinorOf truncates a full version string to its first two dotted
// components, deriving python_version from python_full_version.
func majorMinorOf(full string) string {
	parts := strings.SplitN(full, ".", 3)
	if len(parts) < 2 {
		return full
	}

	return parts[0] + "." + parts[1]
}

// evalVersionOp evaluates a comparison atom whose variable is
// python_version or python_full_version, per PEP 440 ordering semantics
// rather than lexical string comparison.
func evalVersionOp(actual string, op Op, value string) bool {
	av, err := version.Parse(actual)
	if err != nil {
		return false
	}

	clause := op.String() + value
	if op == OpIn {
		// "in"/"not in" compare against a whitespace-separated list of
		// literal versions, per PEP 508's use for python_version.
		return containsVersion(actual, value)
	}

	r, err := version.ParseRange(clause)
	if err != nil {
		return false
	}

	return r.Contains(av)
}

func containsVersion(actual, list string) bool {
	for _, v := range splitFields(list) {
		if v == actual {
			return true
		}
	}

	return false
}

func splitFields(s string) []string {
	var out []string

	start := -1

	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != ' ' && s[i] != '\t' {
			if start < 0 {
				start = i
			}

			continue
		}

		if start >= 0 {
			out = append(out, s[start:i])
			start = -1
		}
	}

	return out
}
