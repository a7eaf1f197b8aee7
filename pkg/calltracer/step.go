package calltracer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// memoryPadLimit caps how far past the end of memory a slice request may be
// zero-padded. Mirrors the limit go-ethereum applies to tracer memory reads.
const memoryPadLimit = 1024 * 1024

// Step is a single execution step reported by the VM, observed just before the
// opcode executes.
type Step interface {
	// Op returns the opcode mnemonic, e.g. "CALL".
	Op() string
	// Depth returns the call depth. The outermost frame of a transaction is depth 1.
	Depth() int
	// Address returns the address of the executing contract.
	Address() common.Address
	// Stack returns the operand stack.
	Stack() Stack
	// Memory returns the current memory contents. The tracer never retains the slice.
	Memory() []byte
	// Cost returns the gas charged for the opcode.
	Cost() uint64
	// Gas returns the gas available before the opcode executes.
	Gas() uint64
	// Err returns the error reported by the VM for this step, if any.
	Err() error
}

// Stack gives positional access to the operand stack.
type Stack interface {
	// Peek returns the n-th value from the top (0 = top).
	Peek(n int) *uint256.Int
}

// StateReader gives read access to account code.
type StateReader interface {
	GetCode(addr common.Address) []byte
}

// WordStack is an operand stack stored bottom-first, the layout used by both
// go-ethereum's OpContext and struct logs.
type WordStack []uint256.Int

// Peek implements Stack. Out of range reads yield zero.
func (s WordStack) Peek(n int) *uint256.Int {
	if n < 0 || n >= len(s) {
		return new(uint256.Int)
	}

	return &s[len(s)-1-n]
}

// CopyMemory is copyMemory for callers outside the tracer, such as struct log
// replays that need a RETURN step's data.
func CopyMemory(mem []byte, offset, size *uint256.Int) []byte {
	return copyMemory(mem, offset, size)
}

// copyMemory returns a copy of memory in [offset, offset+size), zero-padded past
// the end of memory. Requests that overflow or exceed the pad limit yield an
// empty slice. The result is never nil.
func copyMemory(mem []byte, offset, size *uint256.Int) []byte {
	if !offset.IsUint64() || !size.IsUint64() {
		return []byte{}
	}

	start, length := offset.Uint64(), size.Uint64()
	if length == 0 {
		return []byte{}
	}

	end := start + length
	if end < start {
		return []byte{}
	}

	memLen := uint64(len(mem))
	if end > memLen && end-memLen > memoryPadLimit {
		return []byte{}
	}

	out := make([]byte, length)

	if start < memLen {
		copy(out, mem[start:min(end, memLen)])
	}

	return out
}

// toAddress converts a stack word to an address, keeping the low 20 bytes.
func toAddress(v *uint256.Int) common.Address {
	return common.Address(v.Bytes20())
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
