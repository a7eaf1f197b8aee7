package call_trace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	pcommon "github.com/ethpandaops/call-tracer/pkg/common"
	"github.com/ethpandaops/call-tracer/pkg/ethereum"
)

// GetHandlers returns the task handlers for this processor.
func (p *Processor) GetHandlers() map[string]asynq.HandlerFunc {
	return map[string]asynq.HandlerFunc{
		ProcessBlockTaskType: p.handleProcessBlockTask,
	}
}

// handleProcessBlockTask handles block processing tasks.
func (p *Processor) handleProcessBlockTask(ctx context.Context, task *asynq.Task) error {
	start := time.Now()
	queue := p.Queue()

	defer func() {
		pcommon.TaskProcessingDuration.WithLabelValues(p.network, queue, task.Type()).Observe(time.Since(start).Seconds())
	}()

	var payload ProcessPayload
	if err := payload.UnmarshalBinary(task.Payload()); err != nil {
		pcommon.TasksErrored.WithLabelValues(p.network, queue, task.Type(), "unmarshal_error").Inc()

		// Retrying cannot fix a malformed payload.
		return fmt.Errorf("failed to unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	if payload.NetworkName != p.network {
		pcommon.TasksErrored.WithLabelValues(p.network, queue, task.Type(), "network_mismatch").Inc()

		return fmt.Errorf("task for network %q received on %q: %w", payload.NetworkName, p.network, asynq.SkipRetry)
	}

	frames, err := p.ProcessBlock(ctx, payload.BlockNumber)
	if err != nil {
		errorType := "processing_error"
		if errors.Is(err, ethereum.ErrNoHealthyNode) {
			errorType = "no_healthy_node"
		}

		pcommon.TasksErrored.WithLabelValues(p.network, queue, task.Type(), errorType).Inc()
		pcommon.TasksProcessed.WithLabelValues(p.network, queue, task.Type(), "failed").Inc()

		p.log.WithError(err).WithField("block_number", payload.BlockNumber).Warn("Failed to process block")

		return err
	}

	pcommon.TasksProcessed.WithLabelValues(p.network, queue, task.Type(), "success").Inc()

	p.log.WithFields(logrus.Fields{
		"block_number": payload.BlockNumber,
		"frames":       frames,
	}).Debug("Block task complete")

	return nil
}
