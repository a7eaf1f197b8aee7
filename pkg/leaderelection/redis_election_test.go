package leaderelection_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/call-tracer/internal/testutil"
	"github.com/ethpandaops/call-tracer/pkg/leaderelection"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func testConfig(nodeID string) leaderelection.Config {
	return leaderelection.Config{
		Enabled:         true,
		TTL:             time.Second,
		RenewalInterval: 50 * time.Millisecond,
		NodeID:          nodeID,
	}
}

type transitions struct {
	mu     sync.Mutex
	events []bool
}

func (tr *transitions) record(_ context.Context, leader bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.events = append(tr.events, leader)
}

func (tr *transitions) snapshot() []bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	return append([]bool(nil), tr.events...)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  leaderelection.Config
		wantErr bool
	}{
		{name: "valid", config: testConfig("a")},
		{name: "disabled skips checks", config: leaderelection.Config{}},
		{name: "renewal equals ttl", config: leaderelection.Config{Enabled: true, TTL: time.Second, RenewalInterval: time.Second}, wantErr: true},
		{name: "zero ttl", config: leaderelection.Config{Enabled: true, RenewalInterval: time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, leaderelection.ErrInvalidTiming)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRedisElector_GeneratesNodeID(t *testing.T) {
	client, _ := testutil.NewMiniredisClient(t)

	elector, err := leaderelection.NewRedisElector(client, testLogger(), "call-tracer", "mainnet", testConfig(""))
	require.NoError(t, err)
	assert.Len(t, elector.NodeID(), 32)
}

func TestRedisElector_SingleLeader(t *testing.T) {
	client, server := testutil.NewMiniredisClient(t)
	ctx := context.Background()

	first, err := leaderelection.NewRedisElector(client, testLogger(), "call-tracer", "mainnet", testConfig("node-1"))
	require.NoError(t, err)

	second, err := leaderelection.NewRedisElector(client, testLogger(), "call-tracer", "mainnet", testConfig("node-2"))
	require.NoError(t, err)

	firstEvents := &transitions{}
	first.OnLeadershipChange(firstEvents.record)

	require.NoError(t, first.Start(ctx))
	require.Eventually(t, first.IsLeader, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, second.Start(ctx))
	time.Sleep(200 * time.Millisecond)
	assert.False(t, second.IsLeader())

	owner, err := server.Get(leaderelection.Key("call-tracer", "mainnet"))
	require.NoError(t, err)
	assert.Equal(t, "node-1", owner)

	// Releasing on stop lets the other replica take over.
	require.NoError(t, first.Stop(ctx))
	assert.False(t, first.IsLeader())
	assert.Equal(t, []bool{true, false}, firstEvents.snapshot())

	require.Eventually(t, second.IsLeader, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, second.Stop(ctx))
}

func TestRedisElector_LosesLeadershipWhenLockStolen(t *testing.T) {
	client, server := testutil.NewMiniredisClient(t)
	ctx := context.Background()

	elector, err := leaderelection.NewRedisElector(client, testLogger(), "call-tracer", "hoodi", testConfig("node-1"))
	require.NoError(t, err)

	events := &transitions{}
	elector.OnLeadershipChange(events.record)

	require.NoError(t, elector.Start(ctx))
	require.Eventually(t, elector.IsLeader, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, server.Set(leaderelection.Key("call-tracer", "hoodi"), "intruder"))

	require.Eventually(t, func() bool { return !elector.IsLeader() }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, elector.Stop(ctx))

	owner, err := server.Get(leaderelection.Key("call-tracer", "hoodi"))
	require.NoError(t, err)
	assert.Equal(t, "intruder", owner)
	assert.Equal(t, []bool{true, false}, events.snapshot())
}

func TestRedisElector_StopBeforeStart(t *testing.T) {
	client, _ := testutil.NewMiniredisClient(t)

	elector, err := leaderelection.NewRedisElector(client, testLogger(), "call-tracer", "mainnet", testConfig("n"))
	require.NoError(t, err)

	assert.NoError(t, elector.Stop(context.Background()))
	assert.NoError(t, elector.Stop(context.Background()))
}

func TestNewRedisElector_InvalidConfig(t *testing.T) {
	client, _ := testutil.NewMiniredisClient(t)

	_, err := leaderelection.NewRedisElector(client, testLogger(), "p", "n", leaderelection.Config{
		Enabled:         true,
		TTL:             time.Second,
		RenewalInterval: 2 * time.Second,
	})
	assert.ErrorIs(t, err, leaderelection.ErrInvalidTiming)
}
