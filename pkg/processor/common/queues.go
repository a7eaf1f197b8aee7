package common

import "fmt"

// ProcessQueue returns the process queue name for a processor, namespaced by
// the Redis prefix when one is set.
func ProcessQueue(prefix, processorName string) string {
	if prefix == "" {
		return fmt.Sprintf("%s:process", processorName)
	}

	return fmt.Sprintf("%s:%s:process", prefix, processorName)
}
