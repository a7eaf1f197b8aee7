//go:build integration

package leaderelection_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/call-tracer/internal/testutil"
	"github.com/ethpandaops/call-tracer/pkg/leaderelection"
)

// Integration tests against a real Redis - run with: go test -tags=integration ./...

func TestRedisElector_Integration_RenewKeepsLock(t *testing.T) {
	client := testutil.NewRedisContainer(t)
	ctx := context.Background()
	key := leaderelection.Key("call-tracer", "mainnet")

	elector, err := leaderelection.NewRedisElector(client, testLogger(), "call-tracer", "mainnet", testConfig("node-1"))
	require.NoError(t, err)

	require.NoError(t, elector.Start(ctx))
	require.Eventually(t, elector.IsLeader, 5*time.Second, 20*time.Millisecond)

	// Well past the TTL, the renew script has kept extending the lock.
	time.Sleep(3 * time.Second)
	assert.True(t, elector.IsLeader())

	owner, err := client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "node-1", owner)

	ttl, err := client.PTTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
	assert.LessOrEqual(t, ttl, time.Second)

	require.NoError(t, elector.Stop(ctx))

	exists, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "release script deletes the lock it owns")
}

func TestRedisElector_Integration_ReleaseLeavesForeignLock(t *testing.T) {
	client := testutil.NewRedisContainer(t)
	ctx := context.Background()
	key := leaderelection.Key("call-tracer", "sepolia")

	elector, err := leaderelection.NewRedisElector(client, testLogger(), "call-tracer", "sepolia", testConfig("node-1"))
	require.NoError(t, err)

	events := &transitions{}
	elector.OnLeadershipChange(events.record)

	require.NoError(t, elector.Start(ctx))
	require.Eventually(t, elector.IsLeader, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, client.Set(ctx, key, "node-2", time.Minute).Err())
	require.Eventually(t, func() bool { return !elector.IsLeader() }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, elector.Stop(ctx))

	owner, err := client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "node-2", owner)
	assert.Equal(t, []bool{true, false}, events.snapshot())
}

func TestRedisElector_Integration_Failover(t *testing.T) {
	client := testutil.NewRedisContainer(t)
	ctx := context.Background()

	first, err := leaderelection.NewRedisElector(client, testLogger(), "call-tracer", "hoodi", testConfig("node-1"))
	require.NoError(t, err)

	second, err := leaderelection.NewRedisElector(client, testLogger(), "call-tracer", "hoodi", testConfig("node-2"))
	require.NoError(t, err)

	require.NoError(t, first.Start(ctx))
	require.Eventually(t, first.IsLeader, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, second.Start(ctx))
	time.Sleep(300 * time.Millisecond)
	assert.False(t, second.IsLeader())

	require.NoError(t, first.Stop(ctx))
	require.Eventually(t, second.IsLeader, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, second.Stop(ctx))
}
