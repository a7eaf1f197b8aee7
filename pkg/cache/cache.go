// Package cache stores reconstructed call traces in Redis keyed by transaction hash.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/call-tracer/pkg/calltracer"
	"github.com/ethpandaops/call-tracer/pkg/common"
)

// ErrMiss is returned by Get when no trace is cached for the transaction.
var ErrMiss = errors.New("trace not cached")

// Entry is a cached transaction trace.
type Entry struct {
	BlockNumber uint64             `json:"block_number"`
	Orphaned    int                `json:"orphaned"`
	Frames      []calltracer.Frame `json:"frames"`
}

// TraceCache reads and writes call traces in Redis.
type TraceCache struct {
	log     logrus.FieldLogger
	client  redis.Cmdable
	prefix  string
	network string
	ttl     time.Duration
}

func New(log logrus.FieldLogger, client redis.Cmdable, prefix, network string, ttl time.Duration) *TraceCache {
	return &TraceCache{
		log:     log.WithField("component", "trace-cache"),
		client:  client,
		prefix:  prefix,
		network: network,
		ttl:     ttl,
	}
}

// Key returns the Redis key for a transaction trace.
func (c *TraceCache) Key(hash ethcommon.Hash) string {
	return fmt.Sprintf("%s:call_trace:%s:%s", c.prefix, c.network, hash.Hex())
}

// Get returns the cached trace or ErrMiss.
func (c *TraceCache) Get(ctx context.Context, hash ethcommon.Hash) (*Entry, error) {
	raw, err := c.client.Get(ctx, c.Key(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.record("get", "miss")

			return nil, ErrMiss
		}

		c.record("get", "error")

		return nil, fmt.Errorf("failed to read cached trace: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.record("get", "error")
		c.log.WithError(err).WithField("tx_hash", hash.Hex()).Warn("Discarding undecodable cached trace")

		// A corrupt entry is replaced on the next Set.
		return nil, ErrMiss
	}

	c.record("get", "hit")

	return &entry, nil
}

// Set stores a trace with the configured TTL.
func (c *TraceCache) Set(ctx context.Context, hash ethcommon.Hash, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		c.record("set", "error")

		return fmt.Errorf("failed to encode trace: %w", err)
	}

	if err := c.client.Set(ctx, c.Key(hash), raw, c.ttl).Err(); err != nil {
		c.record("set", "error")

		return fmt.Errorf("failed to write cached trace: %w", err)
	}

	c.record("set", "ok")

	return nil
}

// Delete evicts a cached trace.
func (c *TraceCache) Delete(ctx context.Context, hash ethcommon.Hash) error {
	if err := c.client.Del(ctx, c.Key(hash)).Err(); err != nil {
		c.record("delete", "error")

		return fmt.Errorf("failed to delete cached trace: %w", err)
	}

	c.record("delete", "ok")

	return nil
}

func (c *TraceCache) record(operation, result string) {
	common.CacheOperations.WithLabelValues(c.network, operation, result).Inc()
}
