package processor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/call-tracer/pkg/ethereum"
	"github.com/ethpandaops/call-tracer/pkg/ethereum/execution"
	"github.com/ethpandaops/call-tracer/pkg/leaderelection"
	c "github.com/ethpandaops/call-tracer/pkg/processor/common"
	"github.com/ethpandaops/call-tracer/pkg/processor/transaction/call_trace"
	"github.com/ethpandaops/call-tracer/pkg/state"
)

type headNode struct {
	execution.Node

	head uint64
	err  error
}

func (n *headNode) BlockNumber(context.Context) (*uint64, error) {
	if n.err != nil {
		return nil, n.err
	}

	head := n.head

	return &head, nil
}

type staticNodes struct {
	node execution.Node
}

func (s staticNodes) GetHealthyExecutionNode() execution.Node { return s.node }

type fixedState struct {
	next *big.Int
	err  error
}

func (f fixedState) NextBlock(context.Context, string, string, *big.Int) (*big.Int, error) {
	return f.next, f.err
}

type recordingProcessor struct {
	mu         sync.Mutex
	queued     []uint64
	duplicates map[uint64]bool
	failAt     uint64
}

func (p *recordingProcessor) Start(context.Context) error { return nil }
func (p *recordingProcessor) Stop(context.Context) error  { return nil }
func (p *recordingProcessor) Name() string                { return "call_trace" }

func (p *recordingProcessor) GetQueues() []c.QueueInfo {
	return []c.QueueInfo{{Name: "call-tracer:call_trace:process", Priority: 10}}
}

func (p *recordingProcessor) GetHandlers() map[string]asynq.HandlerFunc { return nil }

func (p *recordingProcessor) EnqueueBlock(_ context.Context, blockNumber uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.duplicates[blockNumber] {
		return fmt.Errorf("block %d: %w", blockNumber, c.ErrDuplicateTask)
	}

	if p.failAt != 0 && blockNumber == p.failAt {
		return errors.New("redis unavailable")
	}

	p.queued = append(p.queued, blockNumber)

	return nil
}

func (p *recordingProcessor) snapshot() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]uint64(nil), p.queued...)
}

type fakeInspector struct {
	sizes map[string]int
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	size, ok := f.sizes[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}

	return &asynq.QueueInfo{Queue: queue, Size: size}, nil
}

func newTestManager(nodes nodeProvider, blocks blockState, processor c.BlockProcessor) *Manager {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return &Manager{
		log: log,
		config: &Config{
			Concurrency: 1,
			Scheduler: SchedulerConfig{
				Enabled:              true,
				Interval:             time.Hour,
				MaxBlocksPerTick:     3,
				QueueMonitorInterval: time.Hour,
			},
		},
		nodes:      nodes,
		blocks:     blocks,
		network:    "mainnet",
		processors: map[string]c.BlockProcessor{processor.Name(): processor},
		ready:      make(chan struct{}),
		stopChan:   make(chan struct{}),
	}
}

func TestManager_ScheduleBlocks(t *testing.T) {
	tests := []struct {
		name       string
		head       uint64
		next       *big.Int
		stateErr   error
		duplicates map[uint64]bool
		want       []uint64
		wantQueued int
	}{
		{
			name:       "caps at max blocks per tick",
			head:       100,
			next:       big.NewInt(50),
			want:       []uint64{50, 51, 52},
			wantQueued: 3,
		},
		{
			name:       "stops at chain head",
			head:       51,
			next:       big.NewInt(50),
			want:       []uint64{50, 51},
			wantQueued: 2,
		},
		{
			name:       "skips blocks already queued",
			head:       100,
			next:       big.NewInt(50),
			duplicates: map[uint64]bool{50: true, 51: true},
			want:       []uint64{52},
			wantQueued: 1,
		},
		{
			name:     "caught up",
			head:     100,
			stateErr: state.ErrNoMoreBlocks,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &recordingProcessor{duplicates: tt.duplicates}
			manager := newTestManager(
				staticNodes{&headNode{head: tt.head}},
				fixedState{next: tt.next, err: tt.stateErr},
				processor,
			)

			queued, err := manager.scheduleBlocks(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantQueued, queued)
			assert.Equal(t, tt.want, processor.snapshot())
		})
	}
}

func TestManager_ScheduleBlocksErrors(t *testing.T) {
	t.Run("no healthy node", func(t *testing.T) {
		manager := newTestManager(staticNodes{}, fixedState{next: big.NewInt(1)}, &recordingProcessor{})

		_, err := manager.scheduleBlocks(context.Background())
		assert.ErrorIs(t, err, ethereum.ErrNoHealthyNode)
	})

	t.Run("head lookup fails", func(t *testing.T) {
		manager := newTestManager(staticNodes{&headNode{err: errors.New("timeout")}}, fixedState{next: big.NewInt(1)}, &recordingProcessor{})

		_, err := manager.scheduleBlocks(context.Background())
		assert.ErrorContains(t, err, "timeout")
	})

	t.Run("state lookup fails", func(t *testing.T) {
		manager := newTestManager(staticNodes{&headNode{head: 10}}, fixedState{err: errors.New("clickhouse down")}, &recordingProcessor{})

		_, err := manager.scheduleBlocks(context.Background())
		assert.ErrorContains(t, err, "clickhouse down")
	})

	t.Run("enqueue fails part way", func(t *testing.T) {
		processor := &recordingProcessor{failAt: 6}
		manager := newTestManager(staticNodes{&headNode{head: 10}}, fixedState{next: big.NewInt(5)}, processor)

		queued, err := manager.scheduleBlocks(context.Background())
		require.Error(t, err)
		assert.Equal(t, 1, queued)
		assert.Equal(t, []uint64{5}, processor.snapshot())
	})
}

func TestManager_Backpressure(t *testing.T) {
	processor := &recordingProcessor{}
	manager := newTestManager(staticNodes{&headNode{head: 10}}, fixedState{next: big.NewInt(1)}, processor)
	manager.config.Scheduler.MaxQueueSize = 5

	manager.inspector = fakeInspector{sizes: map[string]int{}}
	skip, _ := manager.shouldSkipScheduling()
	assert.False(t, skip, "missing queue is not backpressure")

	manager.inspector = fakeInspector{sizes: map[string]int{"call-tracer:call_trace:process": 6}}
	skip, reason := manager.shouldSkipScheduling()
	assert.True(t, skip)
	assert.Contains(t, reason, "6/5")

	manager.runSchedule(context.Background())
	assert.Empty(t, processor.snapshot())

	manager.inspector = fakeInspector{sizes: map[string]int{"call-tracer:call_trace:process": 2}}
	manager.runSchedule(context.Background())
	assert.Equal(t, []uint64{1, 2, 3}, processor.snapshot())
}

func TestManager_LeadershipTogglesScheduler(t *testing.T) {
	processor := &recordingProcessor{}
	manager := newTestManager(staticNodes{&headNode{head: 10}}, fixedState{next: big.NewInt(4)}, processor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager.onLeadershipChange(ctx, true)
	assert.True(t, manager.schedulerRunning())

	// The first run happens as soon as the scheduler starts.
	require.Eventually(t, func() bool { return len(processor.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)

	// Gaining leadership twice keeps a single scheduler.
	manager.onLeadershipChange(ctx, true)
	assert.True(t, manager.schedulerRunning())

	manager.onLeadershipChange(ctx, false)
	assert.False(t, manager.schedulerRunning())
}

func TestManager_NotReady(t *testing.T) {
	manager := newTestManager(staticNodes{}, fixedState{}, &recordingProcessor{})

	_, err := manager.CallTrace()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, manager.Network())

	close(manager.ready)
	assert.Equal(t, "mainnet", manager.Network())
}

func TestConfig_Validate(t *testing.T) {
	config := &Config{
		LeaderElection: leaderDisabled(),
		Scheduler:      SchedulerConfig{Enabled: true},
		CallTrace:      callTraceDefaults(),
	}

	require.NoError(t, config.Validate())
	assert.Equal(t, DefaultConcurrency, config.Concurrency)
	assert.Equal(t, DefaultSchedulerInterval, config.Scheduler.Interval)
	assert.Equal(t, DefaultMaxBlocksPerTick, config.Scheduler.MaxBlocksPerTick)

	bad := &Config{
		LeaderElection: leaderDisabled(),
		Scheduler:      SchedulerConfig{Enabled: true, MaxBlocksPerTick: -1},
		CallTrace:      callTraceDefaults(),
	}
	assert.Error(t, bad.Validate())

	badCallTrace := &Config{LeaderElection: leaderDisabled()}
	assert.ErrorContains(t, badCallTrace.Validate(), "call trace")
}

func leaderDisabled() leaderelection.Config {
	return leaderelection.Config{}
}

func callTraceDefaults() call_trace.Config {
	return call_trace.Config{Concurrency: 1}
}
