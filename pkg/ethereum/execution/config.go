package execution

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config describes a single execution node.
type Config struct {
	// Name identifies the node in logs and metrics.
	Name string `yaml:"name"`
	// NodeAddress is the JSON-RPC endpoint, e.g. http://localhost:8545.
	NodeAddress string `yaml:"nodeAddress"`
	// NodeHeaders are added to every RPC request.
	NodeHeaders map[string]string `yaml:"nodeHeaders"`
	// TraceTimeout bounds debug_traceTransaction when the caller sets no deadline.
	TraceTimeout time.Duration `yaml:"traceTimeout" default:"60s"`
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}

	if c.NodeAddress == "" {
		return errors.New("nodeAddress is required")
	}

	if _, err := url.Parse(c.NodeAddress); err != nil {
		return fmt.Errorf("invalid nodeAddress: %w", err)
	}

	return nil
}
