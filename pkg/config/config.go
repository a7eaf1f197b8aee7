// Package config provides the top-level configuration for call-tracer.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/call-tracer/pkg/cache"
	"github.com/ethpandaops/call-tracer/pkg/ethereum"
	"github.com/ethpandaops/call-tracer/pkg/processor"
	"github.com/ethpandaops/call-tracer/pkg/redis"
	"github.com/ethpandaops/call-tracer/pkg/state"
)

// Config is the main configuration for call-tracer.
type Config struct {
	// MetricsAddr is the address to listen on for metrics.
	MetricsAddr string `yaml:"metricsAddr" default:":9090"`
	// HealthCheckAddr is the address to listen on for healthcheck.
	HealthCheckAddr *string `yaml:"healthCheckAddr"`
	// PProfAddr is the address to listen on for pprof.
	PProfAddr *string `yaml:"pprofAddr"`
	// APIAddr is the address to listen on for the API server.
	APIAddr *string `yaml:"apiAddr"`
	// LoggingLevel is the logging level to use.
	LoggingLevel string `yaml:"logging" default:"info"`
	// Ethereum is the ethereum network configuration.
	Ethereum ethereum.Config `yaml:"ethereum"`
	// Redis is the redis configuration.
	Redis *redis.Config `yaml:"redis"`
	// Cache is the trace cache configuration.
	Cache cache.Config `yaml:"cache"`
	// StateManager is the state manager configuration.
	StateManager state.Config `yaml:"stateManager"`
	// Processors is the processor configuration.
	Processors processor.Config `yaml:"processors"`
	// ShutdownTimeout is the timeout for shutting down the server.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("invalid redis configuration: %w", err)
	}

	if err := c.Ethereum.Validate(); err != nil {
		return fmt.Errorf("invalid ethereum configuration: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("invalid cache configuration: %w", err)
	}

	if err := c.StateManager.Validate(); err != nil {
		return fmt.Errorf("invalid state manager configuration: %w", err)
	}

	if err := c.Processors.Validate(); err != nil {
		return fmt.Errorf("invalid processor configuration: %w", err)
	}

	return nil
}

// Load reads a YAML config file on top of the struct tag defaults.
func Load(file string) (*Config, error) {
	if file == "" {
		file = "config.yaml"
	}

	yamlFile, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	return Parse(yamlFile)
}

// Parse decodes YAML config on top of the struct tag defaults.
func Parse(data []byte) (*Config, error) {
	config := &Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	type plain Config

	if err := yaml.Unmarshal(data, (*plain)(config)); err != nil {
		return nil, err
	}

	if config.Redis != nil {
		if err := defaults.Set(config.Redis); err != nil {
			return nil, err
		}
	}

	return config, nil
}
