package call_trace

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// ProcessBlockTaskType is the task type for tracing every transaction of a block.
const ProcessBlockTaskType = "call_trace_process_block"

// ProcessPayload represents the payload for processing a block.
//
//nolint:tagliatelle // snake_case matches the other queued task payloads
type ProcessPayload struct {
	BlockNumber uint64 `json:"block_number"`
	NetworkName string `json:"network_name"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p *ProcessPayload) MarshalBinary() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *ProcessPayload) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, p)
}

// NewProcessBlockTask creates a new block task.
func NewProcessBlockTask(payload *ProcessPayload) (*asynq.Task, error) {
	if payload.NetworkName == "" {
		return nil, fmt.Errorf("network name is required")
	}

	data, err := payload.MarshalBinary()
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(ProcessBlockTaskType, data), nil
}
