package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Options converts the configured address into client options.
func (c *Config) Options() (*redis.Options, error) {
	if strings.Contains(c.Address, "://") {
		opts, err := redis.ParseURL(c.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid redis address: %w", err)
		}

		return opts, nil
	}

	return &redis.Options{Addr: c.Address}, nil
}

// New creates a new Redis client from configuration
func New(config *Config) (*redis.Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	opts, err := config.Options()
	if err != nil {
		return nil, err
	}

	return redis.NewClient(opts), nil
}

// Ping verifies the client can reach the server.
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}
