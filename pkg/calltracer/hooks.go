package calltracer

import (
	"encoding/json"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
)

// opcodeStrings is a pre-computed lookup table of opcode mnemonics so the hot
// path does not go through vm.OpCode.String() for every step.
var opcodeStrings [256]string

func init() {
	for i := 0; i < 256; i++ {
		opcodeStrings[i] = vm.OpCode(i).String()
	}
}

// HookTracer drives a Tracer from go-ethereum's live tracing hooks.
type HookTracer struct {
	tracer *Tracer
	state  StateReader
	step   opStep

	interrupt atomic.Bool
	reason    error
}

// NewHookTracer creates a hook-driven tracer for one transaction.
func NewHookTracer(opts ...Option) *HookTracer {
	return &HookTracer{
		tracer: NewTracer(opts...),
	}
}

// Hooks returns the tracing hooks to install on the EVM.
func (h *HookTracer) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnTxStart: h.OnTxStart,
		OnOpcode:  h.OnOpcode,
		OnFault:   h.OnFault,
	}
}

// OnTxStart captures the state database used to resolve deployed code.
func (h *HookTracer) OnTxStart(env *tracing.VMContext, _ *types.Transaction, _ common.Address) {
	if env != nil && env.StateDB != nil {
		h.state = env.StateDB
	}
}

// OnOpcode feeds one step to the tracer.
func (h *HookTracer) OnOpcode(_ uint64, op byte, gas, cost uint64, scope tracing.OpContext, _ []byte, depth int, err error) {
	if h.interrupt.Load() {
		return
	}

	h.step.reset(op, gas, cost, scope, depth, err)
	h.tracer.Step(&h.step, h.state)
}

// OnFault forwards an execution fault to the tracer.
func (h *HookTracer) OnFault(_ uint64, op byte, gas, cost uint64, scope tracing.OpContext, depth int, err error) {
	if h.interrupt.Load() {
		return
	}

	h.step.reset(op, gas, cost, scope, depth, err)
	h.tracer.Fault(&h.step, h.state)
}

// Frames returns the completed frames. See Tracer.Result.
func (h *HookTracer) Frames() ([]Frame, error) {
	return h.tracer.Result()
}

// Pending returns the number of frames that have not returned.
func (h *HookTracer) Pending() int {
	return h.tracer.Pending()
}

// GetResult returns the JSON encoded trace.
func (h *HookTracer) GetResult() (json.RawMessage, error) {
	frames, err := h.tracer.Result()
	if err != nil {
		return nil, err
	}

	res, err := json.Marshal(frames)
	if err != nil {
		return nil, err
	}

	return res, h.reason
}

// Stop terminates tracing at the next step.
func (h *HookTracer) Stop(err error) {
	h.reason = err
	h.interrupt.Store(true)
}

// opStep exposes a hook invocation as a Step. A single instance is reused for
// every opcode to keep the per-step path allocation free.
type opStep struct {
	op    byte
	gas   uint64
	cost  uint64
	depth int
	err   error
	scope tracing.OpContext
}

func (s *opStep) reset(op byte, gas, cost uint64, scope tracing.OpContext, depth int, err error) {
	s.op = op
	s.gas = gas
	s.cost = cost
	s.scope = scope
	s.depth = depth
	s.err = err
}

func (s *opStep) Op() string              { return opcodeStrings[s.op] }
func (s *opStep) Depth() int              { return s.depth }
func (s *opStep) Address() common.Address { return s.scope.Address() }
func (s *opStep) Stack() Stack            { return WordStack(s.scope.StackData()) }
func (s *opStep) Memory() []byte          { return s.scope.MemoryData() }
func (s *opStep) Cost() uint64            { return s.cost }
func (s *opStep) Gas() uint64             { return s.gas }
func (s *opStep) Err() error              { return s.err }
