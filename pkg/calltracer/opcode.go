package calltracer

// opKind is the routing class of an opcode as seen by the tracer.
type opKind uint8

const (
	opOther opKind = iota
	opSelfDestruct
	opCreate
	opCall
	opDelegate
)

// Opcode mnemonics the tracer reacts to.
const (
	opcodeCALL         = "CALL"
	opcodeCALLCODE     = "CALLCODE"
	opcodeDELEGATECALL = "DELEGATECALL"
	opcodeSTATICCALL   = "STATICCALL"
	opcodeCREATE       = "CREATE"
	opcodeCREATE2      = "CREATE2"
	opcodeSELFDESTRUCT = "SELFDESTRUCT"
	opcodeSUICIDE      = "SUICIDE"
)

// classify maps an opcode mnemonic to its routing class.
// Anything unknown falls through to opOther and only takes part in exit detection.
func classify(op string) opKind {
	switch op {
	case opcodeSELFDESTRUCT, opcodeSUICIDE:
		return opSelfDestruct
	case opcodeCREATE, opcodeCREATE2:
		return opCreate
	case opcodeCALL, opcodeCALLCODE:
		return opCall
	case opcodeDELEGATECALL, opcodeSTATICCALL:
		return opDelegate
	default:
		return opOther
	}
}
