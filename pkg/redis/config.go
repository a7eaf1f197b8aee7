package redis

import (
	"fmt"
)

type Config struct {
	// Address is host:port or a redis:// URL.
	Address string `yaml:"address"`
	// Prefix namespaces every key written by the service.
	Prefix string `yaml:"prefix" default:"call-tracer"`
}

func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Prefix == "" {
		c.Prefix = "call-tracer"
	}

	return nil
}
