package calltracer

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// frameJSON is the wire shape of a Frame. Keys follow the original call trace
// format consumed by downstream tooling.
type frameJSON struct {
	CallType CallType        `json:"call_type"`
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	GasCost  *uint64         `json:"gasCost,omitempty"`
	GasIn    *uint64         `json:"gasIn,omitempty"`
	Input    *hexutil.Bytes  `json:"input"`
	Output   *hexutil.Bytes  `json:"output"`
	Value    *json.Number    `json:"value"`
	Depth    int             `json:"depth"`
	Error    *string         `json:"error"`
	Result   Status          `json:"result"`
}

// MarshalJSON implements json.Marshaler.
func (f Frame) MarshalJSON() ([]byte, error) {
	enc := frameJSON{
		CallType: f.CallType,
		From:     f.From,
		To:       f.To,
		GasCost:  f.GasCost,
		GasIn:    f.GasIn,
		Depth:    f.Depth,
		Result:   f.Result,
	}

	if f.Input != nil {
		input := hexutil.Bytes(f.Input)
		enc.Input = &input
	}

	if f.Output != nil {
		output := hexutil.Bytes(f.Output)
		enc.Output = &output
	}

	if f.Value != nil {
		value := json.Number(f.Value.Dec())
		enc.Value = &value
	}

	if f.Error != "" {
		enc.Error = &f.Error
	}

	return json.Marshal(&enc)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var dec frameJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}

	*f = Frame{
		CallType: dec.CallType,
		From:     dec.From,
		To:       dec.To,
		GasCost:  dec.GasCost,
		GasIn:    dec.GasIn,
		Depth:    dec.Depth,
		Result:   dec.Result,
	}

	if dec.Input != nil {
		f.Input = []byte(*dec.Input)
	}

	if dec.Output != nil {
		f.Output = []byte(*dec.Output)
	}

	if dec.Value != nil {
		value, err := uint256.FromDecimal(dec.Value.String())
		if err != nil {
			return fmt.Errorf("invalid frame value %q: %w", dec.Value.String(), err)
		}

		f.Value = value
	}

	if dec.Error != nil {
		f.Error = *dec.Error
	}

	return nil
}
