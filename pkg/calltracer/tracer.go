// Package calltracer rebuilds the call tree of a transaction from the stream
// of per-opcode steps emitted by the EVM.
//
// A Tracer is fed one Step at a time. CALL-family and CREATE opcodes open a
// pending frame, the first subsequent step whose depth equals the number of
// open frames closes the innermost one, and SELFDESTRUCT is recorded on the
// spot. Completed frames are collected in resolution order, so a nested call
// always appears before the call that contains it.
package calltracer

import (
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// Option configures a Tracer.
type Option func(*Tracer)

// WithLogger makes the tracer report call stack inconsistencies.
func WithLogger(log logrus.FieldLogger) Option {
	return func(t *Tracer) {
		t.log = log
	}
}

// Tracer reconstructs call frames for a single transaction. It is not safe for
// concurrent use; the VM drives it from one goroutine in program order.
type Tracer struct {
	log logrus.FieldLogger

	stack []pendingFrame
	trace []Frame

	consumed bool
	warned   bool
}

// NewTracer creates a tracer for one transaction.
func NewTracer(opts ...Option) *Tracer {
	t := &Tracer{
		stack: make([]pendingFrame, 0, 8),
		trace: make([]Frame, 0, 16),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Step consumes one execution step. It never fails: malformed input produces
// best-effort frames rather than errors.
func (t *Tracer) Step(step Step, state StateReader) {
	if t.consumed {
		return
	}

	t.checkInvariant(step.Depth())

	switch classify(step.Op()) {
	case opSelfDestruct:
		t.captureSelfDestruct(step)
	case opCreate:
		t.captureCreate(step)
	case opCall:
		t.captureCall(step)
	case opDelegate:
		t.captureDelegateCall(step)
	default:
		if depth := step.Depth(); depth == len(t.stack) && depth > 0 {
			t.resolve(step, state)
		}
	}
}

// Fault is invoked when the VM reports an execution fault. Nothing is popped
// or emitted: frames still open above the fault stay pending and never reach
// the result.
func (t *Tracer) Fault(_ Step, _ StateReader) {}

// Result returns the completed frames in resolution order. It may only be
// called once; later calls return ErrResultConsumed.
func (t *Tracer) Result() ([]Frame, error) {
	if t.consumed {
		return nil, ErrResultConsumed
	}

	t.consumed = true

	if len(t.stack) > 0 && t.log != nil {
		t.log.WithField("pending_frames", len(t.stack)).Debug("Dropping call frames that never returned")
	}

	return t.trace, nil
}

// Pending returns the number of frames entered but not yet resolved. After the
// last step this is the number of frames that will be dropped.
func (t *Tracer) Pending() int {
	return len(t.stack)
}

func (t *Tracer) captureSelfDestruct(step Step) {
	to := toAddress(step.Stack().Peek(0))
	gasCost, gasIn := step.Cost(), step.Gas()

	t.trace = append(t.trace, Frame{
		CallType: CallType(step.Op()),
		From:     step.Address(),
		To:       &to,
		Depth:    step.Depth(),
		Error:    errString(step.Err()),
		Result:   StatusFailure,
		GasCost:  &gasCost,
		GasIn:    &gasIn,
	})
}

func (t *Tracer) captureCreate(step Step) {
	stack := step.Stack()

	t.stack = append(t.stack, pendingFrame{
		callType: CallType(step.Op()),
		from:     step.Address(),
		input:    copyMemory(step.Memory(), stack.Peek(1), stack.Peek(2)),
		value:    new(uint256.Int).Set(stack.Peek(0)),
		depth:    step.Depth(),
		err:      errString(step.Err()),
	})
}

// captureCall handles CALL and CALLCODE:
// gas, addr, value, argsOffset, argsLength, retOffset, retLength.
func (t *Tracer) captureCall(step Step) {
	stack := step.Stack()
	to := toAddress(stack.Peek(1))

	frame := pendingFrame{
		callType: CallType(step.Op()),
		from:     step.Address(),
		to:       &to,
		input:    copyMemory(step.Memory(), stack.Peek(3), stack.Peek(4)),
		value:    new(uint256.Int).Set(stack.Peek(2)),
		depth:    step.Depth(),
		err:      errString(step.Err()),
	}
	frame.outOffset.Set(stack.Peek(5))
	frame.outSize.Set(stack.Peek(6))

	t.stack = append(t.stack, frame)
}

// captureDelegateCall handles DELEGATECALL and STATICCALL, which carry no value:
// gas, addr, argsOffset, argsLength, retOffset, retLength.
func (t *Tracer) captureDelegateCall(step Step) {
	stack := step.Stack()
	to := toAddress(stack.Peek(1))

	frame := pendingFrame{
		callType: CallType(step.Op()),
		from:     step.Address(),
		to:       &to,
		input:    copyMemory(step.Memory(), stack.Peek(2), stack.Peek(3)),
		value:    new(uint256.Int),
		depth:    step.Depth(),
		err:      errString(step.Err()),
	}
	frame.outOffset.Set(stack.Peek(4))
	frame.outSize.Set(stack.Peek(5))

	t.stack = append(t.stack, frame)
}

// resolve pops the innermost pending frame. The step is the first one executed
// in the caller after the callee returned, so the call's result word is on top
// of the stack.
func (t *Tracer) resolve(step Step, state StateReader) {
	last := len(t.stack) - 1
	pending := t.stack[last]
	t.stack[last] = pendingFrame{}
	t.stack = t.stack[:last]

	ret := step.Stack().Peek(0)

	var frame Frame

	switch {
	case ret.IsZero():
		// A failed create never learned its address, so To stays nil.
		frame = pending.complete(StatusFailure, pending.to, nil)
	case pending.callType.IsCreate():
		addr := toAddress(ret)

		output := []byte{}
		if state != nil {
			output = append(output, state.GetCode(addr)...)
		}

		frame = pending.complete(StatusSuccess, &addr, output)
	default:
		frame = pending.complete(StatusSuccess, pending.to, copyMemory(step.Memory(), &pending.outOffset, &pending.outSize))
	}

	t.trace = append(t.trace, frame)
}
