package leaderelection

import (
	"context"
	"time"
)

// LeadershipCallback is invoked synchronously on every leadership change.
// Keep it short; spawn a goroutine for long-running work.
type LeadershipCallback func(ctx context.Context, isLeader bool)

// Elector decides which replica schedules block processing.
type Elector interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsLeader() bool
	OnLeadershipChange(callback LeadershipCallback)
}

type Config struct {
	Enabled bool `yaml:"enabled" default:"true"`
	// TTL is the lifetime of the leader lock.
	TTL time.Duration `yaml:"ttl" default:"10s"`
	// RenewalInterval must be shorter than TTL.
	RenewalInterval time.Duration `yaml:"renewalInterval" default:"3s"`
	// NodeID defaults to a random identifier.
	NodeID string `yaml:"nodeId"`
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.TTL <= 0 || c.RenewalInterval <= 0 {
		return ErrInvalidTiming
	}

	if c.RenewalInterval >= c.TTL {
		return ErrInvalidTiming
	}

	return nil
}
