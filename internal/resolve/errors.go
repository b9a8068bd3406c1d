package resolve

import (
	"fmt"

	"github.com/kadirtech/pylock/internal/marker"
)

// ForkError reports that a fork could not be satisfied: no candidate
// version of Package works under Marker given the constraints collected
// so far. An unsatisfiable fork fails the whole resolution.
type ForkError struct {
	Marker  marker.Node
	Package string
	Reason  string
}

func (e *ForkError) Error() string {
	return fmt.Sprintf("no version of %q satisfies the fork %s: %s", e.Package, e.Marker, e.Reason)
}

// ConflictingExtraError reports that two members of a declared conflict
// set were both activated within the same fork.
type ConflictingExtraError struct {
	Marker  marker.Node
	Package string
	Extra   string
	Group   string
}

func (e *ConflictingExtraError) Error() string {
	item := e.Package + "[" + e.Extra + "]"
	if e.Group != "" {
		item = e.Package + ":" + e.Group
	}

	return fmt.Sprintf("conflicting extra: %s is declared to conflict with another activated extra or group in fork %s", item, e.Marker)
}
