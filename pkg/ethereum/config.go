package ethereum

import (
	"fmt"

	"github.com/ethpandaops/call-tracer/pkg/ethereum/execution"

	"github.com/creasty/defaults"
)

type Config struct {
	// Execution configuration
	Execution []*execution.Config `yaml:"execution"`
	// Override network name for custom networks (bypasses networkMap)
	OverrideNetworkName *string `yaml:"overrideNetworkName"`
}

func (c *Config) Validate() error {
	if len(c.Execution) == 0 {
		return fmt.Errorf("at least one execution node is required")
	}

	names := make(map[string]struct{}, len(c.Execution))

	for i, execution := range c.Execution {
		if execution == nil {
			return fmt.Errorf("execution configuration at index %d is empty", i)
		}

		if err := defaults.Set(execution); err != nil {
			return fmt.Errorf("failed to apply execution defaults at index %d: %w", i, err)
		}

		if _, dup := names[execution.Name]; dup {
			return fmt.Errorf("duplicate execution node name %q", execution.Name)
		}

		names[execution.Name] = struct{}{}

		if err := execution.Validate(); err != nil {
			return fmt.Errorf("invalid execution configuration at index %d: %w", i, err)
		}
	}

	return nil
}
