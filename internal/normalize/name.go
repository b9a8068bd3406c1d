// Package normalize implements PEP 503 package name normalization.
package normalize

import "strings"

// Name normalizes a Python package name per PEP 503: lowercase, with runs of
// '-', '_', and '.' collapsed to a single hyphen.
func Name(name string) string {
	name = strings.ToLower(name)

	var b strings.Builder
	b.Grow(len(name))

	prevHyphen := false

	for i := range len(name) {
		switch name[i] {
		case '-', '_', '.':
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		default:
			b.WriteByte(name[i])
			prevHyphen = false
		}
	}

	return b.String()
}

// Equal reports whether two package names are equal once normalized.
func Equal(a, b string) bool {
	return Name(a) == Name(b)
}
