package call_trace

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/call-tracer/pkg/cache"
	"github.com/ethpandaops/call-tracer/pkg/clickhouse"
	pcommon "github.com/ethpandaops/call-tracer/pkg/common"
	"github.com/ethpandaops/call-tracer/pkg/ethereum/execution"
	c "github.com/ethpandaops/call-tracer/pkg/processor/common"
	"github.com/ethpandaops/call-tracer/pkg/rowbuffer"
)

// ProcessorName is the name of the call trace processor.
const ProcessorName = "call_trace"

var (
	// ErrStorageDisabled is returned by block operations when ClickHouse storage is off.
	ErrStorageDisabled = errors.New("call trace storage is disabled")
	// ErrNoQueue is returned by EnqueueBlock when no task client is configured.
	ErrNoQueue = errors.New("no task queue configured")
	// ErrDuplicateTask is returned by EnqueueBlock when the block is already queued.
	ErrDuplicateTask = c.ErrDuplicateTask
)

// Compile-time interface compliance check.
var _ c.BlockProcessor = (*Processor)(nil)

// NodeProvider hands out a healthy execution node.
type NodeProvider interface {
	GetHealthyExecutionNode() execution.Node
}

// BlockMarker records fully processed blocks.
type BlockMarker interface {
	MarkBlockProcessed(ctx context.Context, blockNumber uint64, network, processor string) error
}

// Dependencies contains the dependencies needed for the processor.
// Cache, State and AsynqClient are optional.
type Dependencies struct {
	Log         logrus.FieldLogger
	Pool        NodeProvider
	Network     string
	State       BlockMarker
	Cache       *cache.TraceCache
	AsynqClient c.TaskEnqueuer
	RedisPrefix string
	// Storage replaces the ClickHouse client built from Config.
	Storage clickhouse.ClientInterface
}

// Processor reconstructs call frames for single transactions and whole blocks.
type Processor struct {
	log         logrus.FieldLogger
	pool        NodeProvider
	state       BlockMarker
	cache       *cache.TraceCache
	clickhouse  clickhouse.ClientInterface
	config      *Config
	network     string
	asynqClient c.TaskEnqueuer
	redisPrefix string

	rowBuffer *rowbuffer.Buffer[FrameRow]
}

// New creates a new call trace processor.
func New(deps *Dependencies, config *Config) (*Processor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log := deps.Log.WithField("processor", ProcessorName)

	processor := &Processor{
		log:         log,
		pool:        deps.Pool,
		state:       deps.State,
		cache:       deps.Cache,
		config:      config,
		network:     deps.Network,
		asynqClient: deps.AsynqClient,
		redisPrefix: deps.RedisPrefix,
		clickhouse:  deps.Storage,
	}

	if config.Enabled {
		if processor.clickhouse == nil {
			clickhouseConfig := config.Config
			clickhouseConfig.Network = deps.Network

			client, err := clickhouse.New(&clickhouseConfig)
			if err != nil {
				return nil, fmt.Errorf("failed to create clickhouse client for %s: %w", ProcessorName, err)
			}

			processor.clickhouse = client
		}

		processor.rowBuffer = rowbuffer.New(
			rowbuffer.Config{
				MaxRows:       config.BufferMaxRows,
				FlushInterval: config.BufferFlushInterval,
				Network:       deps.Network,
				Table:         config.Table,
			},
			processor.flushRows,
			log,
		)
	}

	log.WithFields(logrus.Fields{
		"network":     deps.Network,
		"storage":     config.Enabled,
		"cache":       deps.Cache != nil,
		"concurrency": config.Concurrency,
	}).Info("Call trace processor initialized")

	return processor, nil
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return ProcessorName
}

// Start starts the processor.
func (p *Processor) Start(ctx context.Context) error {
	if p.clickhouse == nil {
		return nil
	}

	if err := p.clickhouse.Start(); err != nil {
		return fmt.Errorf("failed to start ClickHouse client: %w", err)
	}

	if err := p.rowBuffer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start row buffer: %w", err)
	}

	p.log.Info("Call trace processor ready")

	return nil
}

// Stop flushes pending rows and closes the ClickHouse client.
func (p *Processor) Stop(ctx context.Context) error {
	if p.clickhouse == nil {
		return nil
	}

	if err := p.rowBuffer.Stop(ctx); err != nil {
		p.log.WithError(err).Error("Failed to stop row buffer")
	}

	return p.clickhouse.Stop()
}

// Queue returns the asynq queue block tasks are sent to.
func (p *Processor) Queue() string {
	return c.ProcessQueue(p.redisPrefix, ProcessorName)
}

// GetQueues returns the queues used by this processor.
func (p *Processor) GetQueues() []c.QueueInfo {
	return []c.QueueInfo{{Name: p.Queue(), Priority: 10}}
}

// EnqueueBlock schedules a block task. ErrDuplicateTask means the block is already queued.
func (p *Processor) EnqueueBlock(ctx context.Context, blockNumber uint64) error {
	if p.asynqClient == nil {
		return ErrNoQueue
	}

	if p.clickhouse == nil {
		return ErrStorageDisabled
	}

	task, err := NewProcessBlockTask(&ProcessPayload{BlockNumber: blockNumber, NetworkName: p.network})
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	_, err = p.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue(p.Queue()),
		asynq.Unique(p.config.UniqueTTL),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return fmt.Errorf("block %d: %w", blockNumber, ErrDuplicateTask)
		}

		return fmt.Errorf("failed to enqueue block %d: %w", blockNumber, err)
	}

	pcommon.TasksEnqueued.WithLabelValues(p.network, p.Queue(), task.Type()).Inc()

	return nil
}

func (p *Processor) flushRows(ctx context.Context, rows []FrameRow) error {
	cols := NewColumns()

	for i := range rows {
		cols.Append(&rows[i])
	}

	return p.clickhouse.Insert(ctx, p.config.Table, cols.Input())
}
