package call_trace

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	pcommon "github.com/ethpandaops/call-tracer/pkg/common"
	"github.com/ethpandaops/call-tracer/pkg/ethereum"
)

// ProcessBlock traces every transaction of a block, writes the frames to
// ClickHouse and marks the block processed. It returns the number of rows written.
func (p *Processor) ProcessBlock(ctx context.Context, blockNumber uint64) (int, error) {
	if p.clickhouse == nil {
		return 0, ErrStorageDisabled
	}

	start := time.Now()

	node := p.pool.GetHealthyExecutionNode()
	if node == nil {
		return 0, ethereum.ErrNoHealthyNode
	}

	number := new(big.Int).SetUint64(blockNumber)

	block, err := node.BlockByNumber(ctx, number)
	if err != nil {
		return 0, fmt.Errorf("failed to get block %d: %w", blockNumber, err)
	}

	txs := block.Transactions()

	receipts, err := node.BlockReceipts(ctx, number)
	if err != nil {
		return 0, fmt.Errorf("failed to get receipts for block %d: %w", blockNumber, err)
	}

	receiptByHash := make(map[string]*types.Receipt, len(receipts))
	for _, receipt := range receipts {
		receiptByHash[receipt.TxHash.Hex()] = receipt
	}

	for _, tx := range txs {
		if _, ok := receiptByHash[tx.Hash().Hex()]; !ok {
			return 0, fmt.Errorf("missing receipt for transaction %s in block %d", tx.Hash().Hex(), blockNumber)
		}
	}

	now := time.Now().UTC()
	perTx := make([][]FrameRow, len(txs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)

	for index, tx := range txs {
		receipt := receiptByHash[tx.Hash().Hex()]

		g.Go(func() error {
			result, err := p.traceTransaction(gctx, node, tx, receipt, blockNumber)
			if err != nil {
				return err
			}

			perTx[index] = frameRows(result, uint32(index), now, p.network) //nolint:gosec // index is bounded by block size

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	rows := make([]FrameRow, 0, len(txs))
	for _, txRows := range perTx {
		rows = append(rows, txRows...)
	}

	if err := p.rowBuffer.Submit(ctx, rows); err != nil {
		return 0, fmt.Errorf("failed to insert frames for block %d: %w", blockNumber, err)
	}

	if p.state != nil {
		if err := p.state.MarkBlockProcessed(ctx, blockNumber, p.network, ProcessorName); err != nil {
			return 0, err
		}
	}

	pcommon.BlocksProcessed.WithLabelValues(p.network).Inc()
	pcommon.BlockProcessingDuration.WithLabelValues(p.network).Observe(time.Since(start).Seconds())

	p.log.WithFields(logrus.Fields{
		"block_number": blockNumber,
		"tx_count":     len(txs),
		"frames":       len(rows),
		"duration":     time.Since(start),
	}).Info("Processed block")

	return len(rows), nil
}

// frameRows flattens a transaction trace into table rows, keeping the post-order frame index.
func frameRows(result *Result, txIndex uint32, now time.Time, network string) []FrameRow {
	rows := make([]FrameRow, 0, len(result.Frames))

	for i := range result.Frames {
		frame := &result.Frames[i]

		row := FrameRow{
			UpdatedDateTime:  now,
			BlockNumber:      result.BlockNumber,
			TransactionHash:  result.TransactionHash.Hex(),
			TransactionIndex: txIndex,
			FrameIndex:       uint32(i), //nolint:gosec // frame count fits in uint32
			CallType:         string(frame.CallType),
			From:             frame.From.Hex(),
			Input:            hexOrNil(frame.Input),
			Output:           hexOrNil(frame.Output),
			Value:            frame.Value,
			Depth:            uint32(frame.Depth), //nolint:gosec // depth is bounded by the EVM call limit
			Result:           uint8(frame.Result),
			GasCost:          frame.GasCost,
			GasIn:            frame.GasIn,
			MetaNetworkName:  network,
		}

		if frame.To != nil {
			to := frame.To.Hex()
			row.To = &to
		}

		if frame.Error != "" {
			errText := frame.Error
			row.Error = &errText
		}

		rows = append(rows, row)
	}

	return rows
}

func hexOrNil(b []byte) *string {
	if b == nil {
		return nil
	}

	encoded := hexutil.Encode(b)

	return &encoded
}
