package call_trace

import (
	"time"

	"github.com/ClickHouse/ch-go/proto"
	"github.com/holiman/uint256"
)

// FrameRow is one reconstructed call frame as stored in ClickHouse.
type FrameRow struct {
	UpdatedDateTime  time.Time
	BlockNumber      uint64
	TransactionHash  string
	TransactionIndex uint32
	FrameIndex       uint32
	CallType         string
	From             string
	To               *string
	Input            *string
	Output           *string
	Value            *uint256.Int
	Depth            uint32
	Error            *string
	Result           uint8
	GasCost          *uint64
	GasIn            *uint64
	MetaNetworkName  string
}

// Columns holds all columns for call frame batch insert using ch-go columnar protocol.
type Columns struct {
	UpdatedDateTime  proto.ColDateTime
	BlockNumber      proto.ColUInt64
	TransactionHash  proto.ColStr
	TransactionIndex proto.ColUInt32
	FrameIndex       proto.ColUInt32
	CallType         *proto.ColLowCardinality[string]
	From             proto.ColStr
	To               *proto.ColNullable[string]
	CallData         *proto.ColNullable[string]
	ReturnData       *proto.ColNullable[string]
	Value            *proto.ColNullable[proto.UInt256]
	Depth            proto.ColUInt32
	Error            *proto.ColNullable[string]
	Result           proto.ColUInt8
	GasCost          *proto.ColNullable[uint64]
	GasIn            *proto.ColNullable[uint64]
	MetaNetworkName  *proto.ColLowCardinality[string]
}

// NewColumns creates a new Columns instance with all nullable columns initialized.
func NewColumns() *Columns {
	return &Columns{
		CallType:        new(proto.ColStr).LowCardinality(),
		To:              new(proto.ColStr).Nullable(),
		CallData:        new(proto.ColStr).Nullable(),
		ReturnData:      new(proto.ColStr).Nullable(),
		Value:           new(proto.ColUInt256).Nullable(),
		Error:           new(proto.ColStr).Nullable(),
		GasCost:         new(proto.ColUInt64).Nullable(),
		GasIn:           new(proto.ColUInt64).Nullable(),
		MetaNetworkName: new(proto.ColStr).LowCardinality(),
	}
}

// Append adds a row to all columns.
func (c *Columns) Append(row *FrameRow) {
	c.UpdatedDateTime.Append(row.UpdatedDateTime)
	c.BlockNumber.Append(row.BlockNumber)
	c.TransactionHash.Append(row.TransactionHash)
	c.TransactionIndex.Append(row.TransactionIndex)
	c.FrameIndex.Append(row.FrameIndex)
	c.CallType.Append(row.CallType)
	c.From.Append(row.From)
	c.To.Append(nullable(row.To))
	c.CallData.Append(nullable(row.Input))
	c.ReturnData.Append(nullable(row.Output))
	c.Value.Append(nullableUInt256(row.Value))
	c.Depth.Append(row.Depth)
	c.Error.Append(nullable(row.Error))
	c.Result.Append(row.Result)
	c.GasCost.Append(nullable(row.GasCost))
	c.GasIn.Append(nullable(row.GasIn))
	c.MetaNetworkName.Append(row.MetaNetworkName)
}

// Reset clears all columns for reuse.
func (c *Columns) Reset() {
	c.UpdatedDateTime.Reset()
	c.BlockNumber.Reset()
	c.TransactionHash.Reset()
	c.TransactionIndex.Reset()
	c.FrameIndex.Reset()
	c.CallType.Reset()
	c.From.Reset()
	c.To.Reset()
	c.CallData.Reset()
	c.ReturnData.Reset()
	c.Value.Reset()
	c.Depth.Reset()
	c.Error.Reset()
	c.Result.Reset()
	c.GasCost.Reset()
	c.GasIn.Reset()
	c.MetaNetworkName.Reset()
}

// Input returns the proto.Input for inserting data.
func (c *Columns) Input() proto.Input {
	return proto.Input{
		{Name: "updated_date_time", Data: &c.UpdatedDateTime},
		{Name: "block_number", Data: &c.BlockNumber},
		{Name: "transaction_hash", Data: &c.TransactionHash},
		{Name: "transaction_index", Data: &c.TransactionIndex},
		{Name: "frame_index", Data: &c.FrameIndex},
		{Name: "call_type", Data: c.CallType},
		{Name: "from", Data: &c.From},
		{Name: "to", Data: c.To},
		{Name: "input", Data: c.CallData},
		{Name: "output", Data: c.ReturnData},
		{Name: "value", Data: c.Value},
		{Name: "depth", Data: &c.Depth},
		{Name: "error", Data: c.Error},
		{Name: "result", Data: &c.Result},
		{Name: "gas_cost", Data: c.GasCost},
		{Name: "gas_in", Data: c.GasIn},
		{Name: "meta_network_name", Data: c.MetaNetworkName},
	}
}

// Rows returns the number of rows in the columns.
func (c *Columns) Rows() int {
	return c.BlockNumber.Rows()
}

func nullable[T any](v *T) proto.Nullable[T] {
	if v == nil {
		return proto.Null[T]()
	}

	return proto.NewNullable(*v)
}

// nullableUInt256 maps the four little-endian limbs of a uint256 onto ClickHouse UInt256.
func nullableUInt256(v *uint256.Int) proto.Nullable[proto.UInt256] {
	if v == nil {
		return proto.Null[proto.UInt256]()
	}

	return proto.NewNullable(proto.UInt256{
		Low:  proto.UInt128{Low: v[0], High: v[1]},
		High: proto.UInt128{Low: v[2], High: v[3]},
	})
}
