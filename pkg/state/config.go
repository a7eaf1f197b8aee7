package state

import (
	"fmt"

	"github.com/ethpandaops/call-tracer/pkg/clickhouse"
)

type StorageConfig struct {
	clickhouse.Config `yaml:",inline"`
	Table             string `yaml:"table" default:"admin_call_trace_block"`
}

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	// StartBlock is used when nothing has been processed yet. Unset means the chain head.
	StartBlock *uint64 `yaml:"startBlock"`
}

func (c *Config) Validate() error {
	if c.Storage.Table == "" {
		return fmt.Errorf("storage.table is required")
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config validation failed: %w", err)
	}

	return nil
}
