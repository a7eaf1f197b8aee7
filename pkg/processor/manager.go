package processor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/hibiken/asynq"
	r "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/call-tracer/pkg/cache"
	"github.com/ethpandaops/call-tracer/pkg/common"
	"github.com/ethpandaops/call-tracer/pkg/ethereum"
	"github.com/ethpandaops/call-tracer/pkg/ethereum/execution"
	"github.com/ethpandaops/call-tracer/pkg/leaderelection"
	c "github.com/ethpandaops/call-tracer/pkg/processor/common"
	"github.com/ethpandaops/call-tracer/pkg/processor/transaction/call_trace"
	s "github.com/ethpandaops/call-tracer/pkg/state"
)

// ErrNotReady is returned while the manager is still waiting for a healthy node.
var ErrNotReady = errors.New("processor manager is not ready")

type nodeProvider interface {
	GetHealthyExecutionNode() execution.Node
}

type blockState interface {
	NextBlock(ctx context.Context, processor, network string, chainHead *big.Int) (*big.Int, error)
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Manager coordinates block processors with distributed task processing.
// Every replica runs asynq workers; only the leader schedules blocks.
type Manager struct {
	log         logrus.FieldLogger
	config      *Config
	cacheConfig *cache.Config
	pool        *ethereum.Pool
	state       *s.Manager

	// Scheduling inputs, the pool and state manager outside of tests.
	nodes  nodeProvider
	blocks blockState

	// Redis/Asynq for distributed processing
	redisClient  *r.Client
	redisPrefix  string
	asynqRedis   asynq.RedisClientOpt
	asynqClient  *asynq.Client
	asynqServer  *asynq.Server
	inspector    queueInspector
	closeInspect func() error

	network    string
	callTrace  *call_trace.Processor
	processors map[string]c.BlockProcessor

	leaderElector leaderelection.Elector

	schedulerMu sync.Mutex
	scheduler   *gocron.Scheduler

	ready    chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewManager(
	log logrus.FieldLogger,
	config *Config,
	cacheConfig *cache.Config,
	pool *ethereum.Pool,
	state *s.Manager,
	redis *r.Client,
	redisPrefix string,
) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid processor config: %w", err)
	}

	// Asynq gets its own connections so shutting it down leaves the shared client alone.
	redisOpt := redis.Options()
	asynqRedisOpt := asynq.RedisClientOpt{
		Addr:      redisOpt.Addr,
		Username:  redisOpt.Username,
		Password:  redisOpt.Password,
		DB:        redisOpt.DB,
		TLSConfig: redisOpt.TLSConfig,
	}

	inspector := asynq.NewInspector(asynqRedisOpt)

	return &Manager{
		log:          log.WithField("component", "processor"),
		config:       config,
		cacheConfig:  cacheConfig,
		pool:         pool,
		state:        state,
		nodes:        pool,
		blocks:       state,
		redisClient:  redis,
		redisPrefix:  redisPrefix,
		asynqRedis:   asynqRedisOpt,
		asynqClient:  asynq.NewClient(asynqRedisOpt),
		inspector:    inspector,
		closeInspect: inspector.Close,
		processors:   make(map[string]c.BlockProcessor),
		ready:        make(chan struct{}),
		stopChan:     make(chan struct{}),
	}, nil
}

// Start waits for a healthy execution node, starts the processors and workers
// and blocks until Stop is called or ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.log.Info("Starting processor manager")

	node, err := m.pool.WaitForHealthyExecutionNode(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for healthy execution node: %w", err)
	}

	network, err := m.pool.GetNetworkByChainID(node.ChainID())
	if err != nil {
		return fmt.Errorf("failed to get network by chain ID: %w", err)
	}

	m.network = network.Name
	m.state.SetNetwork(m.network)

	if err := m.initializeProcessors(ctx); err != nil {
		return fmt.Errorf("failed to initialize processors: %w", err)
	}

	if err := m.startWorkers(); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	if err := m.startScheduling(ctx); err != nil {
		return fmt.Errorf("failed to start scheduling: %w", err)
	}

	close(m.ready)

	select {
	case <-ctx.Done():
	case <-m.stopChan:
		m.log.Info("Stop signal received")
	}

	return nil
}

// Stop shuts down scheduling, workers and processors. It is safe to call more than once.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.log.Info("Stopping processor manager")
		close(m.stopChan)

		m.stopScheduler()

		if m.leaderElector != nil {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultLeaderStopTimeout)
			if err := m.leaderElector.Stop(stopCtx); err != nil {
				m.log.WithError(err).Error("Failed to stop leader election")
			}

			cancel()
		}

		// Stop the workers before the processors so in-flight tasks can flush.
		if m.asynqServer != nil {
			m.asynqServer.Shutdown()
			m.log.Info("Asynq server stopped")
		}

		for name, processor := range m.processors {
			if err := processor.Stop(ctx); err != nil {
				m.log.WithError(err).WithField("processor", name).Error("Failed to stop processor")
			}
		}

		if err := m.asynqClient.Close(); err != nil {
			m.log.WithError(err).Error("Failed to close Asynq client")
		}

		if m.closeInspect != nil {
			if err := m.closeInspect(); err != nil {
				m.log.WithError(err).Error("Failed to close asynq inspector")
			}
		}
	})

	return nil
}

// CallTrace returns the call trace processor once the manager is ready.
func (m *Manager) CallTrace() (*call_trace.Processor, error) {
	select {
	case <-m.ready:
		return m.callTrace, nil
	default:
		return nil, ErrNotReady
	}
}

// Network returns the detected network name, empty until ready.
func (m *Manager) Network() string {
	select {
	case <-m.ready:
		return m.network
	default:
		return ""
	}
}

func (m *Manager) initializeProcessors(ctx context.Context) error {
	var traceCache *cache.TraceCache

	if m.cacheConfig != nil && m.cacheConfig.Enabled {
		traceCache = cache.New(m.log, m.redisClient, m.redisPrefix, m.network, m.cacheConfig.TTL)
	}

	processor, err := call_trace.New(&call_trace.Dependencies{
		Log:         m.log,
		Pool:        m.pool,
		Network:     m.network,
		State:       m.state,
		Cache:       traceCache,
		AsynqClient: m.asynqClient,
		RedisPrefix: m.redisPrefix,
	}, &m.config.CallTrace)
	if err != nil {
		return fmt.Errorf("failed to create %s processor: %w", call_trace.ProcessorName, err)
	}

	if err := processor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s processor: %w", call_trace.ProcessorName, err)
	}

	m.callTrace = processor

	// Only processors with storage take block tasks.
	if m.config.CallTrace.Enabled {
		m.processors[processor.Name()] = processor
	}

	m.log.WithField("block_processors", len(m.processors)).Info("Completed processor initialization")

	return nil
}

func (m *Manager) startWorkers() error {
	if len(m.processors) == 0 {
		m.log.Info("No block processors enabled, task workers not started")

		return nil
	}

	queues := make(map[string]int)
	mux := asynq.NewServeMux()

	for name, processor := range m.processors {
		for _, queue := range processor.GetQueues() {
			queues[queue.Name] = queue.Priority
		}

		for taskType, handler := range processor.GetHandlers() {
			mux.HandleFunc(taskType, handler)

			m.log.WithFields(logrus.Fields{
				"processor": name,
				"task_type": taskType,
			}).Debug("Registered task handler")
		}
	}

	m.asynqServer = asynq.NewServer(m.asynqRedis, asynq.Config{
		Concurrency: m.config.Concurrency,
		Queues:      queues,
		LogLevel:    asynq.InfoLevel,
		Logger:      m.log,
	})

	if err := m.asynqServer.Start(mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}

	m.log.WithField("queues", len(queues)).Info("Worker started for distributed task processing")

	return nil
}

func (m *Manager) startScheduling(ctx context.Context) error {
	if !m.config.Scheduler.Enabled || len(m.processors) == 0 {
		m.log.Info("Block scheduling disabled on this instance")

		return nil
	}

	if !m.config.LeaderElection.Enabled {
		m.log.Info("Leader election disabled - scheduling as standalone instance")

		return m.startScheduler(ctx)
	}

	elector, err := leaderelection.NewRedisElector(m.redisClient, m.log, m.redisPrefix, m.network, m.config.LeaderElection)
	if err != nil {
		return fmt.Errorf("failed to create leader elector: %w", err)
	}

	elector.OnLeadershipChange(m.onLeadershipChange)

	m.leaderElector = elector

	return elector.Start(ctx)
}

func (m *Manager) onLeadershipChange(ctx context.Context, isLeader bool) {
	if !isLeader {
		m.log.Info("Lost leadership, stopping block scheduling")
		m.stopScheduler()

		return
	}

	m.log.Info("Gained leadership, starting block scheduling")

	if err := m.startScheduler(ctx); err != nil {
		m.log.WithError(err).Error("Failed to start block scheduling")
	}
}

func (m *Manager) startScheduler(ctx context.Context) error {
	m.schedulerMu.Lock()
	defer m.schedulerMu.Unlock()

	if m.scheduler != nil {
		return nil
	}

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	if _, err := scheduler.Every(m.config.Scheduler.Interval).Do(func() {
		m.runSchedule(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule block job: %w", err)
	}

	if _, err := scheduler.Every(m.config.Scheduler.QueueMonitorInterval).Do(func() {
		m.monitorQueues()
	}); err != nil {
		return fmt.Errorf("failed to schedule queue monitor: %w", err)
	}

	scheduler.StartAsync()

	m.scheduler = scheduler

	m.log.WithFields(logrus.Fields{
		"interval":            m.config.Scheduler.Interval,
		"max_blocks_per_tick": m.config.Scheduler.MaxBlocksPerTick,
	}).Info("Block scheduler started")

	return nil
}

func (m *Manager) stopScheduler() {
	m.schedulerMu.Lock()
	defer m.schedulerMu.Unlock()

	if m.scheduler == nil {
		return
	}

	m.scheduler.Stop()
	m.scheduler = nil
}

func (m *Manager) schedulerRunning() bool {
	m.schedulerMu.Lock()
	defer m.schedulerMu.Unlock()

	return m.scheduler != nil
}

func (m *Manager) runSchedule(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if skip, reason := m.shouldSkipScheduling(); skip {
		common.SchedulerRuns.WithLabelValues(m.network, "backpressure").Inc()

		m.log.WithField("reason", reason).Info("Skipping block scheduling due to queue backpressure")

		return
	}

	queued, err := m.scheduleBlocks(ctx)
	if err != nil {
		common.SchedulerRuns.WithLabelValues(m.network, "failed").Inc()

		m.log.WithError(err).Warn("Block scheduling failed")

		return
	}

	common.SchedulerRuns.WithLabelValues(m.network, "success").Inc()

	if queued > 0 {
		m.log.WithField("queued", queued).Debug("Scheduled blocks")
	}
}

// scheduleBlocks enqueues the next unprocessed blocks up to the chain head for
// every block processor and returns how many tasks were created.
func (m *Manager) scheduleBlocks(ctx context.Context) (int, error) {
	node := m.nodes.GetHealthyExecutionNode()
	if node == nil {
		return 0, ethereum.ErrNoHealthyNode
	}

	headNumber, err := node.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get chain head: %w", err)
	}

	if headNumber == nil {
		return 0, fmt.Errorf("chain head not available")
	}

	head := *headNumber
	chainHead := new(big.Int).SetUint64(head)
	queued := 0

	for _, name := range m.processorNames() {
		processor := m.processors[name]

		next, err := m.blocks.NextBlock(ctx, name, m.network, chainHead)
		if err != nil {
			if errors.Is(err, s.ErrNoMoreBlocks) {
				common.HeadDistance.WithLabelValues(m.network).Set(0)
				common.BlockHeight.WithLabelValues(m.network).Set(float64(head))

				continue
			}

			return queued, fmt.Errorf("failed to get next block for %s: %w", name, err)
		}

		start := next.Uint64()

		common.HeadDistance.WithLabelValues(m.network).Set(float64(head - start))

		if start > 0 {
			common.BlockHeight.WithLabelValues(m.network).Set(float64(start - 1))
		}

		for i := range uint64(m.config.Scheduler.MaxBlocksPerTick) { //nolint:gosec // validated non-negative
			blockNumber := start + i
			if blockNumber > head {
				break
			}

			if err := processor.EnqueueBlock(ctx, blockNumber); err != nil {
				if errors.Is(err, c.ErrDuplicateTask) {
					continue
				}

				return queued, fmt.Errorf("failed to enqueue block %d for %s: %w", blockNumber, name, err)
			}

			common.BlocksScheduled.WithLabelValues(m.network, name).Inc()

			queued++
		}
	}

	return queued, nil
}

// shouldSkipScheduling reports whether any process queue is above MaxQueueSize.
func (m *Manager) shouldSkipScheduling() (bool, string) {
	if m.config.Scheduler.MaxQueueSize <= 0 || m.inspector == nil {
		return false, ""
	}

	for _, name := range m.processorNames() {
		for _, queue := range m.processors[name].GetQueues() {
			info, err := m.inspector.GetQueueInfo(queue.Name)
			if err != nil {
				// Queues appear on first enqueue.
				if errors.Is(err, asynq.ErrQueueNotFound) {
					continue
				}

				m.log.WithError(err).WithField("queue", queue.Name).Warn("Failed to get queue info for backpressure check")

				continue
			}

			if info.Size > m.config.Scheduler.MaxQueueSize {
				return true, fmt.Sprintf("%s: %d/%d", queue.Name, info.Size, m.config.Scheduler.MaxQueueSize)
			}
		}
	}

	return false, ""
}

// monitorQueues refreshes queue depth metrics.
func (m *Manager) monitorQueues() {
	if m.inspector == nil {
		return
	}

	for _, name := range m.processorNames() {
		for _, queue := range m.processors[name].GetQueues() {
			info, err := m.inspector.GetQueueInfo(queue.Name)
			if err != nil {
				if !errors.Is(err, asynq.ErrQueueNotFound) {
					m.log.WithError(err).WithField("queue", queue.Name).Warn("Failed to get queue info")
				}

				continue
			}

			common.QueueDepth.WithLabelValues(m.network, name, queue.Name).Set(float64(info.Size))
			common.QueueArchivedItems.WithLabelValues(m.network, name, queue.Name).Set(float64(info.Archived))

			if info.Archived > 0 {
				m.log.WithFields(logrus.Fields{
					"processor": name,
					"queue":     queue.Name,
					"archived":  info.Archived,
				}).Warn("Queue has archived tasks")
			}
		}
	}
}

func (m *Manager) processorNames() []string {
	names := make([]string, 0, len(m.processors))
	for name := range m.processors {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
