package cache

import (
	"fmt"
	"time"
)

type Config struct {
	Enabled bool          `yaml:"enabled" default:"true"`
	TTL     time.Duration `yaml:"ttl" default:"24h"`
}

func (c *Config) Validate() error {
	if c.Enabled && c.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive when the cache is enabled")
	}

	return nil
}
