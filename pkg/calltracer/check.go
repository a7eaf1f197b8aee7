package calltracer

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// checkInvariant verifies that the number of open frames is either depth-1
// (executing inside the innermost frame) or depth (that frame just returned).
// Anything else means the step stream skipped a return; the tracer does not
// try to repair it.
func (t *Tracer) checkInvariant(depth int) {
	open := len(t.stack)
	if open == depth || open == depth-1 {
		return
	}

	if strictInvariants {
		panic(fmt.Sprintf("calltracer: %d open frames at depth %d", open, depth))
	}

	if t.log == nil || t.warned {
		return
	}

	t.warned = true

	t.log.WithFields(logrus.Fields{
		"open_frames": open,
		"depth":       depth,
	}).Warn("Call stack out of step with execution depth")
}
