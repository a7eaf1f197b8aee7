package execution

// TraceTransaction is the result of debug_traceTransaction with the default
// struct logger.
type TraceTransaction struct {
	Gas         uint64      `json:"gas"`
	Failed      bool        `json:"failed"`
	ReturnValue *string     `json:"returnValue"`
	Structlogs  []StructLog `json:"structLogs"`
}

// StructLog is one executed opcode. Stack holds hex words bottom first and
// Memory holds 32-byte hex words; both are only present when the trace was
// requested with them enabled.
type StructLog struct {
	PC      uint64   `json:"pc"`
	Op      string   `json:"op"`
	Gas     uint64   `json:"gas"`
	GasCost uint64   `json:"gasCost"`
	Depth   int      `json:"depth"`
	Error   *string  `json:"error,omitempty"`
	Stack   []string `json:"stack,omitempty"`
	Memory  []string `json:"memory,omitempty"`
	Refund  *uint64  `json:"refund,omitempty"`
}
