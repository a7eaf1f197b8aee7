package call_trace

import (
	"context"
	"errors"
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/call-tracer/pkg/cache"
	"github.com/ethpandaops/call-tracer/pkg/calltracer"
	pcommon "github.com/ethpandaops/call-tracer/pkg/common"
	"github.com/ethpandaops/call-tracer/pkg/ethereum"
	"github.com/ethpandaops/call-tracer/pkg/ethereum/execution"
)

// Result is the reconstructed call trace of one transaction.
//
//nolint:tagliatelle // snake_case matches the frame encoding
type Result struct {
	TransactionHash ethcommon.Hash     `json:"transaction_hash"`
	BlockNumber     uint64             `json:"block_number"`
	Frames          []calltracer.Frame `json:"frames"`
	// Orphaned counts frames that were entered but never returned.
	Orphaned int  `json:"orphaned"`
	Cached   bool `json:"cached"`
}

// TraceTransaction returns the call frames of a mined transaction, from the
// cache when possible.
func (p *Processor) TraceTransaction(ctx context.Context, hash ethcommon.Hash) (*Result, error) {
	if p.cache != nil {
		entry, err := p.cache.Get(ctx, hash)
		switch {
		case err == nil:
			pcommon.TransactionsTraced.WithLabelValues(p.network, "cache", "success").Inc()

			return &Result{
				TransactionHash: hash,
				BlockNumber:     entry.BlockNumber,
				Frames:          entry.Frames,
				Orphaned:        entry.Orphaned,
				Cached:          true,
			}, nil
		case !errors.Is(err, cache.ErrMiss):
			p.log.WithError(err).Warn("Trace cache unavailable, tracing from node")
		}
	}

	node := p.pool.GetHealthyExecutionNode()
	if node == nil {
		return nil, ethereum.ErrNoHealthyNode
	}

	tx, err := node.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	receipt, err := node.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	if receipt.BlockNumber == nil {
		return nil, fmt.Errorf("receipt for %s has no block number: %w", hash.Hex(), ethereum.ErrTransactionNotFound)
	}

	result, err := p.traceTransaction(ctx, node, tx, receipt, receipt.BlockNumber.Uint64())
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		entry := &cache.Entry{BlockNumber: result.BlockNumber, Orphaned: result.Orphaned, Frames: result.Frames}
		if err := p.cache.Set(ctx, hash, entry); err != nil {
			p.log.WithError(err).WithField("tx_hash", hash.Hex()).Warn("Failed to cache trace")
		}
	}

	return result, nil
}

// traceTransaction fetches the struct log trace of tx and replays it.
func (p *Processor) traceTransaction(
	ctx context.Context,
	node execution.Node,
	tx *types.Transaction,
	receipt *types.Receipt,
	blockNumber uint64,
) (*Result, error) {
	start := time.Now()
	hash := tx.Hash()

	status := "failed"

	defer func() {
		pcommon.TransactionsTraced.WithLabelValues(p.network, "node", status).Inc()
		pcommon.TraceDuration.WithLabelValues(p.network).Observe(time.Since(start).Seconds())
	}()

	trace, err := node.DebugTraceTransaction(ctx, hash, execution.CallTraceOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to trace transaction %s: %w", hash.Hex(), err)
	}

	reader := execution.NewCodeReader(ctx, node, blockNumber)

	frames, orphaned, err := execution.Replay(
		trace,
		execution.EntryAddress(tx, receipt),
		reader,
		calltracer.WithLogger(p.log.WithField("tx_hash", hash.Hex())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to replay transaction %s: %w", hash.Hex(), err)
	}

	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("failed to read contract code for %s: %w", hash.Hex(), err)
	}

	for i := range frames {
		pcommon.FramesEmitted.WithLabelValues(p.network, string(frames[i].CallType), frames[i].Result.String()).Inc()
	}

	if orphaned > 0 {
		pcommon.FramesOrphaned.WithLabelValues(p.network).Add(float64(orphaned))

		p.log.WithFields(logrus.Fields{
			"tx_hash":  hash.Hex(),
			"orphaned": orphaned,
		}).Debug("Dropped frames that never returned")
	}

	status = "success"

	return &Result{
		TransactionHash: hash,
		BlockNumber:     blockNumber,
		Frames:          frames,
		Orphaned:        orphaned,
	}, nil
}
