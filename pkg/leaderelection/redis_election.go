// Package leaderelection elects a single scheduler per network using a Redis lock.
package leaderelection

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/call-tracer/pkg/common"
)

// ErrInvalidTiming is returned when the renewal interval does not fit inside the TTL.
var ErrInvalidTiming = errors.New("leader election renewal interval must be positive and less than TTL")

var (
	renewScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)

	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
)

// RedisElector holds leadership by owning a key that expires after TTL.
type RedisElector struct {
	client  redis.Cmdable
	log     logrus.FieldLogger
	config  Config
	nodeID  string
	key     string
	network string

	mu       sync.RWMutex
	isLeader bool
	started  bool
	stopped  bool

	callbacksMu sync.RWMutex
	callbacks   []LeadershipCallback

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ Elector = (*RedisElector)(nil)

// Key returns the leader lock key for a network.
func Key(prefix, network string) string {
	return fmt.Sprintf("%s:leader:%s", prefix, network)
}

func NewRedisElector(client redis.Cmdable, log logrus.FieldLogger, prefix, network string, config Config) (*RedisElector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	nodeID := config.NodeID
	if nodeID == "" {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate node ID: %w", err)
		}

		nodeID = hex.EncodeToString(buf)
	}

	return &RedisElector{
		client:  client,
		log:     log.WithFields(logrus.Fields{"component": "leader-election", "node_id": nodeID}),
		config:  config,
		nodeID:  nodeID,
		key:     Key(prefix, network),
		network: network,
		stop:    make(chan struct{}),
	}, nil
}

// NodeID identifies this replica in the lock value.
func (e *RedisElector) NodeID() string {
	return e.nodeID
}

func (e *RedisElector) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}

	e.started = true

	common.LeaderElectionStatus.WithLabelValues(e.network, e.nodeID).Set(0)

	e.wg.Add(1)

	go e.run(ctx)

	e.log.WithField("key", e.key).Info("Starting leader election")

	return nil
}

// Stop ends the election loop and releases the lock if held.
func (e *RedisElector) Stop(ctx context.Context) error {
	e.mu.Lock()

	if e.stopped || !e.started {
		e.stopped = true
		e.mu.Unlock()

		return nil
	}

	e.stopped = true
	e.mu.Unlock()

	close(e.stop)
	e.wg.Wait()

	if !e.IsLeader() {
		return nil
	}

	released, err := releaseScript.Run(ctx, e.client, []string{e.key}, e.nodeID).Int64()
	if err != nil {
		common.LeaderElectionErrors.WithLabelValues(e.network, e.nodeID, "release").Inc()

		return fmt.Errorf("failed to release leadership: %w", err)
	}

	if released == 0 {
		e.log.Warn("Could not release leadership - lock not owned by this node")
	}

	e.setLeader(ctx, false)

	return nil
}

func (e *RedisElector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.isLeader
}

func (e *RedisElector) OnLeadershipChange(callback LeadershipCallback) {
	e.callbacksMu.Lock()
	defer e.callbacksMu.Unlock()

	e.callbacks = append(e.callbacks, callback)
}

func (e *RedisElector) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.RenewalInterval)
	defer ticker.Stop()

	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *RedisElector) tick(ctx context.Context) {
	if e.IsLeader() {
		if !e.renew(ctx) {
			e.setLeader(ctx, false)
		}

		return
	}

	if e.acquire(ctx) {
		e.setLeader(ctx, true)
	}
}

func (e *RedisElector) acquire(ctx context.Context) bool {
	ok, err := e.client.SetNX(ctx, e.key, e.nodeID, e.config.TTL).Result()
	if err != nil {
		e.log.WithError(err).Error("Failed to acquire leadership")
		common.LeaderElectionErrors.WithLabelValues(e.network, e.nodeID, "acquire").Inc()

		return false
	}

	return ok
}

func (e *RedisElector) renew(ctx context.Context) bool {
	renewed, err := renewScript.Run(ctx, e.client, []string{e.key}, e.nodeID, e.config.TTL.Milliseconds()).Int64()
	if err != nil {
		e.log.WithError(err).Error("Failed to renew leadership")
		common.LeaderElectionErrors.WithLabelValues(e.network, e.nodeID, "renew").Inc()

		return false
	}

	if renewed != 1 {
		e.log.Warn("Failed to renew leadership - lock not owned by this node")

		return false
	}

	return true
}

func (e *RedisElector) setLeader(ctx context.Context, leader bool) {
	e.mu.Lock()
	changed := e.isLeader != leader
	e.isLeader = leader
	e.mu.Unlock()

	if !changed {
		return
	}

	transition := "lost"
	status := 0.0

	if leader {
		transition = "gained"
		status = 1
	}

	common.LeaderElectionStatus.WithLabelValues(e.network, e.nodeID).Set(status)
	common.LeaderElectionTransitions.WithLabelValues(e.network, e.nodeID, transition).Inc()

	e.log.WithField("transition", transition).Info("Leadership changed")

	e.callbacksMu.RLock()
	callbacks := append([]LeadershipCallback(nil), e.callbacks...)
	e.callbacksMu.RUnlock()

	for _, callback := range callbacks {
		callback(ctx, leader)
	}
}
