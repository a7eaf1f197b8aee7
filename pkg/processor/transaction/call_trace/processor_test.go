package call_trace

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ClickHouse/ch-go/proto"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/hibiken/asynq"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/call-tracer/internal/testutil"
	"github.com/ethpandaops/call-tracer/pkg/cache"
	"github.com/ethpandaops/call-tracer/pkg/calltracer"
	"github.com/ethpandaops/call-tracer/pkg/clickhouse"
	"github.com/ethpandaops/call-tracer/pkg/ethereum"
	"github.com/ethpandaops/call-tracer/pkg/ethereum/execution"
)

var (
	recipient   = ethcommon.HexToAddress("0x00000000000000000000000000000000000000bb")
	callee      = ethcommon.HexToAddress("0x00000000000000000000000000000000000000cc")
	beneficiary = ethcommon.HexToAddress("0x00000000000000000000000000000000000000ee")
)

// wordStack lists words top first and returns them in struct log order.
func wordStack(top ...string) []string {
	out := make([]string, len(top))
	for i, w := range top {
		out[len(top)-1-i] = w
	}

	return out
}

// callTrace calls callee, which self-destructs, then returns.
func callTrace() *execution.TraceTransaction {
	return &execution.TraceTransaction{
		Structlogs: []execution.StructLog{
			{Op: "CALL", Gas: 90000, GasCost: 2600, Depth: 1, Stack: wordStack("0x5208", "0xcc", "0x7", "0x0", "0x0", "0x0", "0x0")},
			{Op: "SELFDESTRUCT", Gas: 5000, GasCost: 5000, Depth: 2, Stack: wordStack("0xee")},
			{Op: "STOP", Gas: 60000, Depth: 1, Stack: wordStack("0x1")},
		},
	}
}

type fakeNode struct {
	execution.Node

	mu          sync.Mutex
	txs         map[ethcommon.Hash]*types.Transaction
	receipts    map[ethcommon.Hash]*types.Receipt
	traces      map[ethcommon.Hash]*execution.TraceTransaction
	block       *types.Block
	code        map[ethcommon.Address][]byte
	codeErr     error
	traceCalls  int
	traceParams []execution.TraceOptions
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		txs:      make(map[ethcommon.Hash]*types.Transaction),
		receipts: make(map[ethcommon.Hash]*types.Receipt),
		traces:   make(map[ethcommon.Hash]*execution.TraceTransaction),
		code:     make(map[ethcommon.Address][]byte),
	}
}

// addTx registers a transaction to recipient mined in blockNumber.
func (n *fakeNode) addTx(nonce uint64, blockNumber int64, trace *execution.TraceTransaction) *types.Transaction {
	to := recipient
	tx := types.NewTx(&types.LegacyTx{Nonce: nonce, To: &to, Gas: 100000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})

	n.txs[tx.Hash()] = tx
	n.receipts[tx.Hash()] = &types.Receipt{TxHash: tx.Hash(), BlockNumber: big.NewInt(blockNumber), Status: types.ReceiptStatusSuccessful}
	n.traces[tx.Hash()] = trace

	return tx
}

func (n *fakeNode) Name() string { return "fake" }

func (n *fakeNode) TransactionByHash(_ context.Context, hash ethcommon.Hash) (*types.Transaction, error) {
	tx, ok := n.txs[hash]
	if !ok {
		return nil, execution.ErrTransactionNotFound
	}

	return tx, nil
}

func (n *fakeNode) TransactionReceipt(_ context.Context, hash ethcommon.Hash) (*types.Receipt, error) {
	receipt, ok := n.receipts[hash]
	if !ok {
		return nil, execution.ErrTransactionNotFound
	}

	return receipt, nil
}

func (n *fakeNode) DebugTraceTransaction(_ context.Context, hash ethcommon.Hash, opts execution.TraceOptions) (*execution.TraceTransaction, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.traceCalls++
	n.traceParams = append(n.traceParams, opts)

	trace, ok := n.traces[hash]
	if !ok {
		return nil, execution.ErrTransactionNotFound
	}

	// Replay sanitizes struct logs in place, so hand out a copy.
	logs := append([]execution.StructLog(nil), trace.Structlogs...)

	return &execution.TraceTransaction{Structlogs: logs}, nil
}

func (n *fakeNode) CodeAt(_ context.Context, account ethcommon.Address, _ *big.Int) ([]byte, error) {
	if n.codeErr != nil {
		return nil, n.codeErr
	}

	return n.code[account], nil
}

func (n *fakeNode) BlockByNumber(_ context.Context, number *big.Int) (*types.Block, error) {
	if n.block == nil || n.block.Number().Cmp(number) != 0 {
		return nil, execution.ErrBlockNotFound
	}

	return n.block, nil
}

func (n *fakeNode) BlockReceipts(_ context.Context, _ *big.Int) ([]*types.Receipt, error) {
	out := make([]*types.Receipt, 0, len(n.block.Transactions()))
	for _, tx := range n.block.Transactions() {
		out = append(out, n.receipts[tx.Hash()])
	}

	return out, nil
}

func (n *fakeNode) setBlock(number int64, txs ...*types.Transaction) {
	n.block = types.NewBlockWithHeader(&types.Header{Number: big.NewInt(number)}).WithBody(types.Body{Transactions: txs})
}

type staticPool struct {
	node execution.Node
}

func (p staticPool) GetHealthyExecutionNode() execution.Node { return p.node }

type markerRecorder struct {
	mu     sync.Mutex
	blocks []uint64
}

func (m *markerRecorder) MarkBlockProcessed(_ context.Context, blockNumber uint64, network, processor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if network != "mainnet" || processor != ProcessorName {
		return errors.New("unexpected labels")
	}

	m.blocks = append(m.blocks, blockNumber)

	return nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}

	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)

	return &asynq.TaskInfo{}, nil
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func testConfig(enabled bool) *Config {
	return &Config{
		Config:              clickhouse.Config{Addr: "localhost:9000"},
		Enabled:             enabled,
		Table:               "call_trace_frame",
		Concurrency:         2,
		UniqueTTL:           time.Hour,
		BufferMaxRows:       1,
		BufferFlushInterval: time.Hour,
	}
}

func newTestProcessor(t *testing.T, deps *Dependencies, config *Config) *Processor {
	t.Helper()

	if deps.Log == nil {
		deps.Log = testLogger()
	}

	if deps.Network == "" {
		deps.Network = "mainnet"
	}

	processor, err := New(deps, config)
	require.NoError(t, err)

	require.NoError(t, processor.Start(context.Background()))

	t.Cleanup(func() { _ = processor.Stop(context.Background()) })

	return processor
}

func TestTraceTransaction_NodeThenCache(t *testing.T) {
	node := newFakeNode()
	tx := node.addTx(0, 10, callTrace())

	client, _ := testutil.NewMiniredisClient(t)
	traceCache := cache.New(testLogger(), client, "call-tracer", "mainnet", time.Hour)

	processor := newTestProcessor(t, &Dependencies{Pool: staticPool{node}, Cache: traceCache}, testConfig(false))

	result, err := processor.TraceTransaction(context.Background(), tx.Hash())
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, uint64(10), result.BlockNumber)
	assert.Zero(t, result.Orphaned)
	require.Len(t, result.Frames, 2)

	assert.Equal(t, calltracer.CallTypeSelfDestruct, result.Frames[0].CallType)
	assert.Equal(t, callee, result.Frames[0].From)
	assert.Equal(t, beneficiary, *result.Frames[0].To)

	assert.Equal(t, calltracer.CallTypeCall, result.Frames[1].CallType)
	assert.Equal(t, recipient, result.Frames[1].From)
	assert.Equal(t, callee, *result.Frames[1].To)
	assert.Equal(t, uint64(7), result.Frames[1].Value.Uint64())

	require.Len(t, node.traceParams, 1)
	assert.Equal(t, execution.CallTraceOptions(), node.traceParams[0])

	cached, err := processor.TraceTransaction(context.Background(), tx.Hash())
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Equal(t, result.Frames[1].CallType, cached.Frames[1].CallType)
	assert.Equal(t, 1, node.traceCalls)
}

func TestTraceTransaction_Errors(t *testing.T) {
	t.Run("no healthy node", func(t *testing.T) {
		processor := newTestProcessor(t, &Dependencies{Pool: staticPool{}}, testConfig(false))

		_, err := processor.TraceTransaction(context.Background(), ethcommon.HexToHash("0x01"))
		assert.ErrorIs(t, err, ethereum.ErrNoHealthyNode)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		processor := newTestProcessor(t, &Dependencies{Pool: staticPool{newFakeNode()}}, testConfig(false))

		_, err := processor.TraceTransaction(context.Background(), ethcommon.HexToHash("0x01"))
		assert.ErrorIs(t, err, ethereum.ErrTransactionNotFound)
	})

	t.Run("code lookup failure", func(t *testing.T) {
		node := newFakeNode()
		node.codeErr = errors.New("state unavailable")
		tx := node.addTx(0, 10, &execution.TraceTransaction{
			Structlogs: []execution.StructLog{
				{Op: "CREATE", Depth: 1, Stack: wordStack("0x0", "0x0", "0x0")},
				{Op: "STOP", Depth: 2, Stack: []string{}},
				{Op: "SWAP1", Depth: 1, Stack: wordStack("0xdd")},
			},
		})

		processor := newTestProcessor(t, &Dependencies{Pool: staticPool{node}}, testConfig(false))

		_, err := processor.TraceTransaction(context.Background(), tx.Hash())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "state unavailable")
	})
}

func TestProcessBlock(t *testing.T) {
	node := newFakeNode()
	first := node.addTx(0, 20, callTrace())
	second := node.addTx(1, 20, &execution.TraceTransaction{Structlogs: []execution.StructLog{}})
	node.setBlock(20, first, second)

	storage := clickhouse.NewMockClient()

	var (
		mu     sync.Mutex
		tables []string
		rows   int
	)

	storage.InsertFunc = func(_ context.Context, table string, input proto.Input) error {
		mu.Lock()
		defer mu.Unlock()

		tables = append(tables, table)
		rows += input[0].Data.Rows()

		return nil
	}

	marker := &markerRecorder{}
	processor := newTestProcessor(t, &Dependencies{
		Pool:    staticPool{node},
		State:   marker,
		Storage: storage,
	}, testConfig(true))

	written, err := processor.ProcessBlock(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	mu.Lock()
	assert.Equal(t, 2, rows)
	assert.Contains(t, tables, "call_trace_frame")
	mu.Unlock()

	assert.Equal(t, []uint64{20}, marker.blocks)
	assert.True(t, storage.WasCalled("Start"))
}

func TestProcessBlock_Errors(t *testing.T) {
	t.Run("storage disabled", func(t *testing.T) {
		processor := newTestProcessor(t, &Dependencies{Pool: staticPool{newFakeNode()}}, testConfig(false))

		_, err := processor.ProcessBlock(context.Background(), 1)
		assert.ErrorIs(t, err, ErrStorageDisabled)
	})

	t.Run("trace failure leaves block unmarked", func(t *testing.T) {
		node := newFakeNode()
		tx := node.addTx(0, 5, callTrace())
		delete(node.traces, tx.Hash())
		node.setBlock(5, tx)

		marker := &markerRecorder{}
		processor := newTestProcessor(t, &Dependencies{
			Pool:    staticPool{node},
			State:   marker,
			Storage: clickhouse.NewMockClient(),
		}, testConfig(true))

		_, err := processor.ProcessBlock(context.Background(), 5)
		require.Error(t, err)
		assert.Empty(t, marker.blocks)
	})

	t.Run("insert failure", func(t *testing.T) {
		node := newFakeNode()
		node.setBlock(6, node.addTx(0, 6, callTrace()))

		storage := clickhouse.NewMockClient()
		storage.InsertFunc = func(context.Context, string, proto.Input) error { return errors.New("too many parts") }

		processor := newTestProcessor(t, &Dependencies{Pool: staticPool{node}, Storage: storage}, testConfig(true))

		_, err := processor.ProcessBlock(context.Background(), 6)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too many parts")
	})
}

func TestEnqueueBlock(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	processor := newTestProcessor(t, &Dependencies{
		Pool:        staticPool{},
		AsynqClient: enqueuer,
		RedisPrefix: "call-tracer",
		Storage:     clickhouse.NewMockClient(),
	}, testConfig(true))

	require.NoError(t, processor.EnqueueBlock(context.Background(), 42))
	require.Len(t, enqueuer.tasks, 1)
	assert.Equal(t, ProcessBlockTaskType, enqueuer.tasks[0].Type())

	var payload ProcessPayload
	require.NoError(t, payload.UnmarshalBinary(enqueuer.tasks[0].Payload()))
	assert.Equal(t, ProcessPayload{BlockNumber: 42, NetworkName: "mainnet"}, payload)

	assert.Len(t, enqueuer.opts[0], 2)
	assert.Equal(t, "call-tracer:call_trace:process", processor.Queue())

	enqueuer.err = asynq.ErrDuplicateTask
	assert.ErrorIs(t, processor.EnqueueBlock(context.Background(), 42), ErrDuplicateTask)

	noQueue := newTestProcessor(t, &Dependencies{Pool: staticPool{}}, testConfig(false))
	assert.ErrorIs(t, noQueue.EnqueueBlock(context.Background(), 1), ErrNoQueue)
}

func TestHandleProcessBlockTask(t *testing.T) {
	node := newFakeNode()
	node.setBlock(7)

	marker := &markerRecorder{}
	processor := newTestProcessor(t, &Dependencies{
		Pool:    staticPool{node},
		State:   marker,
		Storage: clickhouse.NewMockClient(),
	}, testConfig(true))

	handler := processor.GetHandlers()[ProcessBlockTaskType]
	require.NotNil(t, handler)

	err := handler(context.Background(), asynq.NewTask(ProcessBlockTaskType, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewProcessBlockTask(&ProcessPayload{BlockNumber: 7, NetworkName: "hoodi"})
	require.NoError(t, err)
	assert.ErrorIs(t, handler(context.Background(), task), asynq.SkipRetry)

	task, err = NewProcessBlockTask(&ProcessPayload{BlockNumber: 7, NetworkName: "mainnet"})
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	assert.Equal(t, []uint64{7}, marker.blocks)
}

func TestNewProcessBlockTask_RequiresNetwork(t *testing.T) {
	_, err := NewProcessBlockTask(&ProcessPayload{BlockNumber: 1})
	assert.Error(t, err)
}

func TestFrameRows(t *testing.T) {
	to := callee
	gas := uint64(5000)

	result := &Result{
		TransactionHash: ethcommon.HexToHash("0xabc"),
		BlockNumber:     3,
		Frames: []calltracer.Frame{
			{CallType: calltracer.CallTypeSelfDestruct, From: callee, To: &to, Depth: 2, Result: calltracer.StatusFailure, GasCost: &gas, GasIn: &gas},
			{CallType: calltracer.CallTypeCall, From: recipient, To: &to, Input: []byte{}, Output: []byte{0x01}, Value: uint256.NewInt(9), Depth: 1, Error: "out of gas"},
		},
	}

	now := time.Unix(1700000000, 0).UTC()
	rows := frameRows(result, 4, now, "mainnet")
	require.Len(t, rows, 2)

	assert.Equal(t, uint32(0), rows[0].FrameIndex)
	assert.Nil(t, rows[0].Input)
	assert.Nil(t, rows[0].Value)
	assert.Equal(t, uint8(1), rows[0].Result)
	assert.Equal(t, &gas, rows[0].GasCost)

	assert.Equal(t, uint32(1), rows[1].FrameIndex)
	assert.Equal(t, uint32(4), rows[1].TransactionIndex)
	assert.Equal(t, "0x", *rows[1].Input)
	assert.Equal(t, "0x01", *rows[1].Output)
	assert.Equal(t, "out of gas", *rows[1].Error)
	assert.Equal(t, to.Hex(), *rows[1].To)
	assert.Equal(t, "mainnet", rows[1].MetaNetworkName)

	cols := NewColumns()
	for i := range rows {
		cols.Append(&rows[i])
	}

	assert.Equal(t, 2, cols.Rows())
	assert.Len(t, cols.Input(), 17)

	for _, col := range cols.Input() {
		assert.Equal(t, 2, col.Data.Rows(), col.Name)
	}

	cols.Reset()
	assert.Zero(t, cols.Rows())
}

func TestNullableUInt256(t *testing.T) {
	v := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	v.Add(v, uint256.NewInt(5))

	got := nullableUInt256(v)
	require.True(t, got.Set)
	assert.Equal(t, uint64(5), got.Value.Low.Low)
	assert.Equal(t, uint64(1)<<(200-192), got.Value.High.High)

	assert.False(t, nullableUInt256(nil).Set)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, testConfig(true).Validate())
	assert.NoError(t, (&Config{Concurrency: 1}).Validate())
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Enabled: true, Concurrency: 1, Table: "t"}).Validate())
	assert.Error(t, (&Config{Enabled: true, Concurrency: 1, Config: clickhouse.Config{Addr: "x:9000"}}).Validate())
}
