package lock

import (
	"fmt"

	"github.com/kadirtech/pylock/internal/wheel"
)

// WheelTagHint names the single dominant mismatched tag dimension across a
// set of incompatible wheel candidates, and the best candidate's value for
// it — e.g. "the only wheel available has abi3 but your interpreter needs
// cp312". Attached to IncompatibleWheelOnly and NeitherSourceDistNorWheel
// installability errors.
type WheelTagHint struct {
	Dimension wheel.Reason
	Got       string
	Want      string
}

func (h WheelTagHint) String() string {
	if h.Dimension == wheel.ReasonNone {
		return ""
	}

	return fmt.Sprintf("the only wheel available has %s %q but the target needs %s %q", h.Dimension, h.Got, h.Dimension, h.Want)
}

// buildWheelTagHint picks the best (highest-priority) incompatible
// candidate and reports its mismatch dimension against the first triple in
// target, which is the environment's most-preferred tag and therefore the
// most informative "what did you need" value to surface.
func buildWheelTagHint(candidates []wheel.Candidate, target []wheel.Tag) *WheelTagHint {
	if len(candidates) == 0 || len(target) == 0 {
		return nil
	}

	var (
		best     wheel.Candidate
		bestComp wheel.Compatibility
		found    bool
	)

	for _, c := range candidates {
		comp := wheel.Compute(c.Filename.Tags, target)
		if comp.Compatible {
			continue
		}

		if !found || comp.Reason > bestComp.Reason {
			best, bestComp, found = c, comp, true
		}
	}

	if !found || len(best.Filename.Tags) == 0 {
		return nil
	}

	got := best.Filename.Tags[0]
	want := target[0]

	switch bestComp.Reason {
	case wheel.ReasonPython:
		return &WheelTagHint{Dimension: wheel.ReasonPython, Got: got.Python, Want: want.Python}
	case wheel.ReasonABI:
		return &WheelTagHint{Dimension: wheel.ReasonABI, Got: got.ABI, Want: want.ABI}
	case wheel.ReasonPlatform:
		return &WheelTagHint{Dimension: wheel.ReasonPlatform, Got: got.Platform, Want: want.Platform}
	default:
		return nil
	}
}
