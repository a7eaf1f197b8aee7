package calltracer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CallType is the kind of frame, named after the opcode that opened it.
type CallType string

const (
	CallTypeCall         CallType = opcodeCALL
	CallTypeCallCode     CallType = opcodeCALLCODE
	CallTypeDelegateCall CallType = opcodeDELEGATECALL
	CallTypeStaticCall   CallType = opcodeSTATICCALL
	CallTypeCreate       CallType = opcodeCREATE
	CallTypeCreate2      CallType = opcodeCREATE2
	CallTypeSelfDestruct CallType = opcodeSELFDESTRUCT
	// CallTypeSuicide is the pre-EIP-6049 mnemonic some clients still report.
	CallTypeSuicide CallType = opcodeSUICIDE
)

// IsCreate reports whether the frame deploys a contract.
func (c CallType) IsCreate() bool {
	return c == CallTypeCreate || c == CallTypeCreate2
}

// Status is the outcome of a frame. The polarity is inverted on purpose:
// 0 means success and 1 means failure.
type Status uint8

const (
	StatusSuccess Status = 0
	StatusFailure Status = 1
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}

	return "failure"
}

// Frame is a completed call frame.
//
// Nil byte slices and nil pointers encode as JSON null: Input is nil only for
// self-destructs, Output is nil unless the frame succeeded, To is nil for a
// CREATE that did not deploy and Value is nil for self-destructs.
type Frame struct {
	CallType CallType
	From     common.Address
	To       *common.Address
	Input    []byte
	Output   []byte
	Value    *uint256.Int
	Depth    int
	Error    string
	Result   Status

	// GasCost and GasIn are only recorded for self-destructs.
	GasCost *uint64
	GasIn   *uint64
}

// Succeeded reports whether the frame resolved with StatusSuccess.
func (f *Frame) Succeeded() bool {
	return f.Result == StatusSuccess
}

// pendingFrame is a call or create that has been entered but not yet returned.
type pendingFrame struct {
	callType CallType
	from     common.Address
	to       *common.Address
	input    []byte
	value    *uint256.Int
	depth    int
	err      string

	// Where the callee's return data will be copied to. CALL family only.
	outOffset uint256.Int
	outSize   uint256.Int
}

// complete converts the pending frame into a Frame with the given outcome.
// The output location stays behind.
func (p *pendingFrame) complete(result Status, to *common.Address, output []byte) Frame {
	return Frame{
		CallType: p.callType,
		From:     p.from,
		To:       to,
		Input:    p.input,
		Output:   output,
		Value:    p.value,
		Depth:    p.depth,
		Error:    p.err,
		Result:   result,
	}
}
