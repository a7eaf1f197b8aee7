package execution

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/ethpandaops/call-tracer/pkg/calltracer"
)

// Replay rebuilds the call frames of a transaction from its struct log trace.
// entry is the address executing at depth 1: the transaction recipient, or the
// created contract for a deployment. It returns the frames and the number of
// frames that were entered but never returned.
func Replay(trace *TraceTransaction, entry common.Address, state calltracer.StateReader, opts ...calltracer.Option) ([]calltracer.Frame, int, error) {
	if trace == nil {
		return nil, 0, errors.New("nil trace")
	}

	logs := trace.Structlogs
	created := computeCreateAddresses(logs)
	tracer := calltracer.NewTracer(opts...)
	deployed := newDeployedCode(state)

	var (
		step     structLogStep
		contexts = make([]frameContext, 1, 16)
		child    frameContext
	)

	contexts[0] = frameContext{address: entry}

	for i := range logs {
		log := &logs[i]

		SanitizeGasCost(log)

		if log.Stack == nil && opensFrame(log.Op) {
			return nil, 0, fmt.Errorf("struct log %d (%s): %w", i, log.Op, ErrMissingStack)
		}

		for len(contexts) > 1 && len(contexts) > log.Depth {
			contexts = contexts[:len(contexts)-1]
		}

		if log.Depth > len(contexts) {
			contexts = append(contexts, child)
		}

		current := contexts[len(contexts)-1]
		step.reset(log, current.address)

		// The init code's RETURN carries the deployed code. State read after the
		// block may no longer hold it if the contract self-destructed.
		if current.create && log.Op == opReturn && log.Error == nil && len(log.Stack) >= 2 {
			offset, size := step.Stack().Peek(0), step.Stack().Peek(1)
			if log.Memory != nil || size.IsZero() {
				deployed.set(current.address, calltracer.CopyMemory(step.Memory(), offset, size))
			}
		}

		tracer.Step(&step, deployed)

		if log.Error != nil {
			tracer.Fault(&step, deployed)
		}

		if step.failure != nil {
			return nil, 0, fmt.Errorf("struct log %d (%s): %w", i, log.Op, step.failure)
		}

		switch calltracer.CallType(log.Op) {
		case calltracer.CallTypeCall, calltracer.CallTypeStaticCall:
			child = frameContext{address: toAddress(step.Stack().Peek(1))}
		case calltracer.CallTypeDelegateCall, calltracer.CallTypeCallCode:
			child = frameContext{address: current.address}
		case calltracer.CallTypeCreate, calltracer.CallTypeCreate2:
			child = frameContext{address: created[i], create: true}
		}
	}

	pending := tracer.Pending()

	frames, err := tracer.Result()
	if err != nil {
		return nil, 0, err
	}

	return frames, pending, nil
}

const opReturn = "RETURN"

// frameContext is the executing address of one call depth.
type frameContext struct {
	address common.Address
	create  bool
}

// deployedCode answers GetCode with the code a create returned during the
// replay, falling back to the node's state for every other address.
type deployedCode struct {
	state calltracer.StateReader
	code  map[common.Address][]byte
}

func newDeployedCode(state calltracer.StateReader) *deployedCode {
	return &deployedCode{state: state, code: make(map[common.Address][]byte)}
}

func (d *deployedCode) set(addr common.Address, code []byte) {
	d.code[addr] = code
}

// GetCode implements calltracer.StateReader.
func (d *deployedCode) GetCode(addr common.Address) []byte {
	if code, ok := d.code[addr]; ok {
		return code
	}

	if d.state == nil {
		return nil
	}

	return d.state.GetCode(addr)
}

func opensFrame(op string) bool {
	switch calltracer.CallType(op) {
	case calltracer.CallTypeCall, calltracer.CallTypeCallCode, calltracer.CallTypeDelegateCall,
		calltracer.CallTypeStaticCall, calltracer.CallTypeCreate, calltracer.CallTypeCreate2,
		calltracer.CallTypeSelfDestruct, calltracer.CallTypeSuicide:
		return true
	}

	return false
}

// computeCreateAddresses finds the address each CREATE/CREATE2 deployed to by
// reading the stack top of the first step back at the creating depth.
// Failed creates map to the zero address.
func computeCreateAddresses(logs []StructLog) map[int]common.Address {
	result := make(map[int]common.Address)

	type pendingCreate struct {
		index int
		depth int
	}

	var pending []pendingCreate

	for i := range logs {
		log := &logs[i]

		for len(pending) > 0 {
			last := pending[len(pending)-1]
			if log.Depth > last.depth {
				break
			}

			if n := len(log.Stack); n > 0 {
				if word, err := parseWord(log.Stack[n-1]); err == nil {
					result[last.index] = toAddress(&word)
				}
			}

			pending = pending[:len(pending)-1]
		}

		if log.Op == string(calltracer.CallTypeCreate) || log.Op == string(calltracer.CallTypeCreate2) {
			pending = append(pending, pendingCreate{index: i, depth: log.Depth})
		}
	}

	return result
}

// structLogStep exposes a StructLog as a calltracer.Step. Stack and memory are
// decoded on first access; most opcodes never need them.
type structLogStep struct {
	log     *StructLog
	address common.Address

	stack       calltracer.WordStack
	stackParsed bool

	memory       []byte
	memoryParsed bool

	failure error
}

func (s *structLogStep) reset(log *StructLog, address common.Address) {
	s.log = log
	s.address = address
	s.stack = s.stack[:0]
	s.stackParsed = false
	s.memory = s.memory[:0]
	s.memoryParsed = false
	s.failure = nil
}

func (s *structLogStep) Op() string              { return s.log.Op }
func (s *structLogStep) Depth() int              { return s.log.Depth }
func (s *structLogStep) Address() common.Address { return s.address }
func (s *structLogStep) Cost() uint64            { return s.log.GasCost }
func (s *structLogStep) Gas() uint64             { return s.log.Gas }

func (s *structLogStep) Err() error {
	if s.log.Error == nil || *s.log.Error == "" {
		return nil
	}

	return errors.New(*s.log.Error)
}

func (s *structLogStep) Stack() calltracer.Stack {
	if s.stackParsed {
		return s.stack
	}

	s.stackParsed = true

	for _, item := range s.log.Stack {
		word, err := parseWord(item)
		if err != nil {
			s.failure = err

			break
		}

		s.stack = append(s.stack, word)
	}

	return s.stack
}

func (s *structLogStep) Memory() []byte {
	if s.memoryParsed {
		return s.memory
	}

	s.memoryParsed = true

	for _, word := range s.log.Memory {
		decoded, err := hex.DecodeString(strings.TrimPrefix(word, "0x"))
		if err != nil {
			s.failure = fmt.Errorf("invalid memory word %q: %w", word, err)

			break
		}

		s.memory = append(s.memory, decoded...)
	}

	return s.memory
}

// parseWord decodes a stack item. Clients differ on the 0x prefix and on
// leading zeros, so both are accepted.
func parseWord(item string) (uint256.Int, error) {
	var word uint256.Int

	digits := strings.TrimPrefix(strings.TrimPrefix(item, "0x"), "0X")
	if digits == "" {
		return word, nil
	}

	if len(digits)%2 == 1 {
		digits = "0" + digits
	}

	raw, err := hex.DecodeString(digits)
	if err != nil {
		return word, fmt.Errorf("invalid stack word %q: %w", item, err)
	}

	if len(raw) > 32 {
		trimmed := strings.TrimLeft(digits, "0")
		if len(trimmed) > 64 {
			return word, fmt.Errorf("stack word %q exceeds 256 bits", item)
		}

		raw = raw[len(raw)-32:]
	}

	word.SetBytes(raw)

	return word, nil
}

func toAddress(v *uint256.Int) common.Address {
	return common.Address(v.Bytes20())
}

// EntryAddress returns the address executing at depth 1 of a transaction.
func EntryAddress(tx *types.Transaction, receipt *types.Receipt) common.Address {
	if to := tx.To(); to != nil {
		return *to
	}

	if receipt != nil {
		return receipt.ContractAddress
	}

	return common.Address{}
}
