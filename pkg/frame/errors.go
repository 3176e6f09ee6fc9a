package frame

import (
	"errors"
	"fmt"
)

// ErrUnknownTag reports an event kind this package does not know. It
// means the tagger and the classifier are out of step and the run
// cannot be trusted; it is never skipped over.
var ErrUnknownTag = errors.New("unknown stack tag kind")

// BaselineUnsatError reports that a function's baseline constraint set
// has no model. The baseline only encodes the function's own
// allocation and deallocation behavior, so an unsatisfiable baseline
// is an internal modeling defect, not an input problem.
type BaselineUnsatError struct {
	FuncAddr uint64
}

func (e *BaselineUnsatError) Error() string {
	return fmt.Sprintf("baseline constraints unsatisfiable for function %#x: allocation model is self-contradictory", e.FuncAddr)
}
