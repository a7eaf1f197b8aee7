package execution

// SanitizeGasCost detects and corrects corrupted gasCost values from Erigon's
// debug_traceTransaction RPC.
//
// Erigon has an unsigned integer underflow in callGas() where
// `availableGas - base` wraps when availableGas < base, producing values such
// as 18158513697557845033. A gasCost can never exceed the gas available at
// that opcode, so such values are clamped to Gas. Self-destruct frames carry
// gasCost through to their output.
func SanitizeGasCost(log *StructLog) {
	if log.GasCost > log.Gas {
		log.GasCost = log.Gas
	}
}
