package calltracer

import "errors"

// ErrResultConsumed is returned when Result is called more than once on the same tracer.
var ErrResultConsumed = errors.New("call trace result already consumed")
