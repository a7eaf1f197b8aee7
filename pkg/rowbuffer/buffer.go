// Package rowbuffer batches rows from concurrent block tasks into shared
// ClickHouse inserts. A batch is flushed when it reaches MaxRows or when
// FlushInterval elapses, and every submitter is told the outcome of the
// insert that carried its rows.
package rowbuffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/call-tracer/pkg/common"
)

const (
	DefaultMaxRows       = 50000
	DefaultFlushInterval = time.Second
)

// ErrNotStarted is returned by Submit before Start or after Stop.
var ErrNotStarted = errors.New("row buffer is not started")

// FlushFunc writes a batch of rows.
type FlushFunc[R any] func(ctx context.Context, rows []R) error

type Config struct {
	MaxRows       int
	FlushInterval time.Duration
	// Network and Table label metrics.
	Network string
	Table   string
}

type batch[R any] struct {
	rows    []R
	waiters []chan<- error
}

// Buffer collects rows until a flush trigger fires.
type Buffer[R any] struct {
	config  Config
	flushFn FlushFunc[R]
	log     logrus.FieldLogger

	mu      sync.Mutex
	pending batch[R]
	started bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func New[R any](cfg Config, flushFn FlushFunc[R], log logrus.FieldLogger) *Buffer[R] {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}

	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}

	return &Buffer[R]{
		config:  cfg,
		flushFn: flushFn,
		log:     log.WithFields(logrus.Fields{"component": "rowbuffer", "table": cfg.Table}),
	}
}

// Start launches the interval flusher. Calling it twice is a no-op.
// The flusher runs until Stop; cancelling ctx does not end it, so tasks
// still draining during shutdown get their rows written.
func (b *Buffer[R]) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}

	b.started = true
	b.stop = make(chan struct{})

	b.wg.Add(1)

	go b.run(context.WithoutCancel(ctx), b.stop)

	return nil
}

// Stop halts the interval flusher and writes whatever is still pending.
func (b *Buffer[R]) Stop(ctx context.Context) error {
	b.mu.Lock()

	if !b.started {
		b.mu.Unlock()

		return nil
	}

	b.started = false
	close(b.stop)
	b.mu.Unlock()

	b.wg.Wait()

	return b.flush(ctx, b.take(), "shutdown")
}

// Submit queues rows and blocks until the insert carrying them completes.
func (b *Buffer[R]) Submit(ctx context.Context, rows []R) error {
	if len(rows) == 0 {
		return nil
	}

	result := make(chan error, 1)

	b.mu.Lock()

	if !b.started {
		b.mu.Unlock()

		return ErrNotStarted
	}

	b.pending.rows = append(b.pending.rows, rows...)
	b.pending.waiters = append(b.pending.waiters, result)

	var full batch[R]

	if len(b.pending.rows) >= b.config.MaxRows {
		full = b.pending
		b.pending = batch[R]{}
	}

	b.setPending(len(b.pending.rows))
	b.mu.Unlock()

	if len(full.rows) > 0 {
		go func() { _ = b.flush(context.WithoutCancel(ctx), full, "size") }()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of rows waiting to be flushed.
func (b *Buffer[R]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.pending.rows)
}

func (b *Buffer[R]) run(ctx context.Context, stop <-chan struct{}) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = b.flush(ctx, b.take(), "timer")
		}
	}
}

func (b *Buffer[R]) take() batch[R] {
	b.mu.Lock()
	defer b.mu.Unlock()

	taken := b.pending
	b.pending = batch[R]{}
	b.setPending(0)

	return taken
}

func (b *Buffer[R]) flush(ctx context.Context, batch batch[R], trigger string) error {
	if len(batch.rows) == 0 {
		return nil
	}

	start := time.Now()
	err := b.flushFn(ctx, batch.rows)

	status := "success"
	if err != nil {
		status = "failed"

		b.log.WithError(err).WithFields(logrus.Fields{
			"rows":    len(batch.rows),
			"trigger": trigger,
		}).Error("ClickHouse flush failed")
	}

	common.RowBufferFlushTotal.WithLabelValues(b.config.Network, b.config.Table, trigger, status).Inc()
	common.RowBufferFlushDuration.WithLabelValues(b.config.Network, b.config.Table).Observe(time.Since(start).Seconds())

	for _, waiter := range batch.waiters {
		// Buffered with capacity one and written once.
		waiter <- err
	}

	return err
}

func (b *Buffer[R]) setPending(rows int) {
	common.RowBufferPendingRows.WithLabelValues(b.config.Network, b.config.Table).Set(float64(rows))
}
