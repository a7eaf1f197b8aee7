package execution

// TraceOptions configures debug_traceTransaction parameters.
type TraceOptions struct {
	DisableStorage   bool
	DisableStack     bool
	EnableMemory     bool
	EnableReturnData bool
}

// CallTraceOptions returns the options call frame reconstruction needs:
// stack and memory on, storage and return data off.
func CallTraceOptions() TraceOptions {
	return TraceOptions{
		DisableStorage:   true,
		DisableStack:     false,
		EnableMemory:     true,
		EnableReturnData: false,
	}
}

// Params returns the struct logger configuration object. Both the current
// enableMemory and the legacy disableMemory keys are set so older clients
// agree.
func (o TraceOptions) Params() map[string]any {
	return map[string]any{
		"disableStorage":   o.DisableStorage,
		"disableStack":     o.DisableStack,
		"enableMemory":     o.EnableMemory,
		"disableMemory":    !o.EnableMemory,
		"enableReturnData": o.EnableReturnData,
	}
}
