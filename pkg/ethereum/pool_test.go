package ethereum_test

import (
	"context"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/call-tracer/pkg/common"
	"github.com/ethpandaops/call-tracer/pkg/ethereum"
	"github.com/ethpandaops/call-tracer/pkg/ethereum/execution"
)

// fakeNode becomes ready as soon as it is started.
type fakeNode struct {
	execution.Node

	name    string
	chainID int32
	ready   bool

	mu        sync.Mutex
	callbacks []func(context.Context) error
	stopped   bool
}

func (n *fakeNode) Name() string   { return n.name }
func (n *fakeNode) ChainID() int32 { return n.chainID }

func (n *fakeNode) OnReady(_ context.Context, cb func(context.Context) error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.callbacks = append(n.callbacks, cb)
}

func (n *fakeNode) Start(ctx context.Context) error {
	if !n.ready {
		return nil
	}

	n.mu.Lock()
	callbacks := n.callbacks
	n.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (n *fakeNode) Stop(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stopped = true

	return nil
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func stopPool(t *testing.T, pool *ethereum.Pool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, pool.Stop(ctx))
}

func TestPool_Creation(t *testing.T) {
	config := &ethereum.Config{
		Execution: []*execution.Config{
			{Name: "test-node-1", NodeAddress: "http://localhost:8545"},
			{Name: "test-node-2", NodeAddress: "http://localhost:8546"},
		},
	}

	pool := ethereum.NewPool(quietLogger(), config)
	require.NotNil(t, pool)
	assert.True(t, pool.HasExecutionNodes())
	assert.False(t, pool.HasHealthyExecutionNodes())
}

func TestPool_BecomesHealthy(t *testing.T) {
	ready := &fakeNode{name: "ready", chainID: 560048, ready: true}
	stuck := &fakeNode{name: "stuck", chainID: 560048}

	pool := ethereum.NewPoolWithNodes(quietLogger(), []execution.Node{ready, stuck}, nil)
	pool.Start(context.Background())

	defer stopPool(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	node, err := pool.WaitForHealthyExecutionNode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ready", node.Name())

	assert.True(t, pool.HasHealthyExecutionNodes())
	assert.Len(t, pool.GetHealthyExecutionNodes(), 1)

	pool.UpdateNodeMetrics()
	assert.InDelta(t, 1, promtestutil.ToFloat64(common.EthereumNodes.WithLabelValues("execution", "healthy")), 0)
	assert.InDelta(t, 1, promtestutil.ToFloat64(common.EthereumNodes.WithLabelValues("execution", "unhealthy")), 0)

	network, err := pool.Network(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hoodi", network.Name)
}

func TestPool_StopStopsNodes(t *testing.T) {
	node := &fakeNode{name: "n", ready: true}

	pool := ethereum.NewPoolWithNodes(quietLogger(), []execution.Node{node}, nil)
	pool.Start(context.Background())
	stopPool(t, pool)

	node.mu.Lock()
	defer node.mu.Unlock()

	assert.True(t, node.stopped)
}

func TestPool_WaitForHealthyNode_NoNodes(t *testing.T) {
	pool := ethereum.NewPoolWithNodes(quietLogger(), nil, nil)
	assert.False(t, pool.HasExecutionNodes())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	node, err := pool.WaitForHealthyExecutionNode(ctx)
	require.ErrorIs(t, err, ethereum.ErrNoHealthyNode)
	assert.Nil(t, node)
	assert.Contains(t, err.Error(), "no execution nodes configured")
}

func TestPool_WaitForHealthyNode_Timeout(t *testing.T) {
	pool := ethereum.NewPoolWithNodes(quietLogger(), []execution.Node{&fakeNode{name: "stuck"}}, nil)
	pool.Start(context.Background())

	defer stopPool(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	node, err := pool.WaitForHealthyExecutionNode(ctx)

	assert.Nil(t, node)
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPool_ConcurrentAccess(t *testing.T) {
	nodes := []execution.Node{
		&fakeNode{name: "a", ready: true},
		&fakeNode{name: "b", ready: true},
	}

	pool := ethereum.NewPoolWithNodes(quietLogger(), nodes, nil)
	pool.Start(context.Background())

	defer stopPool(t, pool)

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := 0; j < 5; j++ {
				pool.HasHealthyExecutionNodes()
				pool.GetHealthyExecutionNode()
				pool.GetHealthyExecutionNodes()
				pool.UpdateNodeMetrics()
			}
		}()
	}

	wg.Wait()
}

func TestConfig_Validate(t *testing.T) {
	valid := &ethereum.Config{Execution: []*execution.Config{{Name: "a", NodeAddress: "http://localhost:8545"}}}
	require.NoError(t, valid.Validate())
	assert.Equal(t, time.Minute, valid.Execution[0].TraceTimeout)

	assert.Error(t, (&ethereum.Config{}).Validate())

	dup := &ethereum.Config{Execution: []*execution.Config{
		{Name: "a", NodeAddress: "http://localhost:8545"},
		{Name: "a", NodeAddress: "http://localhost:8546"},
	}}
	assert.ErrorContains(t, dup.Validate(), "duplicate")

	missing := &ethereum.Config{Execution: []*execution.Config{{Name: "a"}}}
	assert.ErrorContains(t, missing.Validate(), "nodeAddress is required")
}

func TestPool_NetworkNameOverride(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	testCases := []struct {
		name         string
		override     *string
		chainID      int32
		expectedName string
		expectError  bool
	}{
		{
			name:         "with override",
			override:     stringPtr("custom-network"),
			chainID:      1,
			expectedName: "custom-network",
			expectError:  false,
		},
		{
			name:         "without override mainnet",
			override:     nil,
			chainID:      1,
			expectedName: "mainnet",
			expectError:  false,
		},
		{
			name:         "without override unknown",
			override:     nil,
			chainID:      999999,
			expectedName: "",
			expectError:  true,
		},
		{
			name:         "empty override",
			override:     stringPtr(""),
			chainID:      1,
			expectedName: "mainnet",
			expectError:  false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := &ethereum.Config{
				OverrideNetworkName: tc.override,
				Execution: []*execution.Config{
					{
						Name:        "test-node",
						NodeAddress: "http://localhost:8545",
					},
				},
			}

			pool := ethereum.NewPool(log, config)

			network, err := pool.GetNetworkByChainID(tc.chainID)

			if tc.expectError {
				assert.Error(t, err)
				assert.Nil(t, network)
			} else {
				assert.NoError(t, err)
				require.NotNil(t, network)
				assert.Equal(t, tc.expectedName, network.Name)
				assert.Equal(t, tc.chainID, network.ID)
			}
		})
	}
}


// Helper function to create string pointer
func stringPtr(s string) *string {
	return &s
}
