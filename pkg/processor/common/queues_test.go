package common_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ethpandaops/call-tracer/pkg/processor/common"
)

func TestProcessQueue(t *testing.T) {
	assert.Equal(t, "call_trace:process", common.ProcessQueue("", "call_trace"))
	assert.Equal(t, "call-tracer:call_trace:process", common.ProcessQueue("call-tracer", "call_trace"))
}
