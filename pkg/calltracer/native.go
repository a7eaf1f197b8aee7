package calltracer

import (
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/eth/tracers"
	"github.com/ethereum/go-ethereum/params"
)

// TracerName is the name the tracer is registered under in go-ethereum's
// tracer directory, usable as the "tracer" option of debug_traceTransaction.
const TracerName = "frameCallTracer"

var registerOnce sync.Once

// Register adds the tracer to go-ethereum's default tracer directory. It is
// meant for geth-based binaries that embed this package; the call-tracer
// service itself replays struct logs and never serves debug_traceTransaction.
func Register() {
	registerOnce.Do(func() {
		tracers.DefaultDirectory.Register(TracerName, newNativeTracer, false)
	})
}

func newNativeTracer(_ *tracers.Context, _ json.RawMessage, _ *params.ChainConfig) (*tracers.Tracer, error) {
	t := NewHookTracer()

	return &tracers.Tracer{
		Hooks:     t.Hooks(),
		GetResult: t.GetResult,
		Stop:      t.Stop,
	}, nil
}
