package common

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
)

// ErrDuplicateTask is returned by EnqueueBlock when the block is already queued.
var ErrDuplicateTask = errors.New("block is already queued")

// Processor defines the lifecycle shared by block processors.
type Processor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// BlockProcessor consumes block tasks from asynq queues.
type BlockProcessor interface {
	Processor

	// EnqueueBlock schedules a block for processing. It returns
	// ErrDuplicateTask when the block is already queued.
	EnqueueBlock(ctx context.Context, blockNumber uint64) error

	GetQueues() []QueueInfo
	GetHandlers() map[string]asynq.HandlerFunc
}

// TaskEnqueuer is the subset of *asynq.Client used to schedule tasks.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueInfo contains information about a processor queue
type QueueInfo struct {
	Name     string
	Priority int
}
