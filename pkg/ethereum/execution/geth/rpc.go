package geth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	pcommon "github.com/ethpandaops/call-tracer/pkg/common"
	"github.com/ethpandaops/call-tracer/pkg/ethereum/execution"
)

const (
	statusError   = "error"
	statusSuccess = "success"

	defaultTraceTimeout = 60 * time.Second
)

// observe records RPC metrics for a call that started at start.
func (n *RPCNode) observe(method string, start time.Time, err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}

	chainID := strconv.FormatInt(int64(n.ChainID()), 10)

	pcommon.RPCCallDuration.WithLabelValues(chainID, n.config.Name, method, status).Observe(time.Since(start).Seconds())
	pcommon.RPCCallsTotal.WithLabelValues(chainID, n.config.Name, method, status).Inc()
}

// clients returns the connected clients, or an error before Start.
func (n *RPCNode) clients() (*ethclient.Client, *rpc.Client, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.client == nil || n.rpcClient == nil {
		return nil, nil, errors.New("execution node not started")
	}

	return n.client, n.rpcClient, nil
}

func (n *RPCNode) blockNumber(ctx context.Context) (*uint64, error) {
	c, _, err := n.clients()
	if err != nil {
		return nil, err
	}

	start := time.Now()

	blockNumber, err := c.BlockNumber(ctx)

	n.observe("eth_blockNumber", start, err)

	if err != nil {
		return nil, err
	}

	return &blockNumber, nil
}

func (n *RPCNode) blockByNumber(ctx context.Context, blockNumber *big.Int) (*types.Block, error) {
	c, _, err := n.clients()
	if err != nil {
		return nil, err
	}

	start := time.Now()

	block, err := c.BlockByNumber(ctx, blockNumber)

	n.observe("eth_getBlockByNumber", start, err)

	if errors.Is(err, ethereum.NotFound) {
		return nil, fmt.Errorf("block %s: %w", blockNumber, execution.ErrBlockNotFound)
	}

	if err != nil {
		return nil, err
	}

	return block, nil
}

// blockReceipts fetches all receipts for a block by number (much faster than per-tx).
func (n *RPCNode) blockReceipts(ctx context.Context, blockNumber *big.Int) ([]*types.Receipt, error) {
	c, _, err := n.clients()
	if err != nil {
		return nil, err
	}

	start := time.Now()

	blockNrOrHash := rpc.BlockNumberOrHashWithNumber(rpc.BlockNumber(blockNumber.Int64()))

	receipts, err := c.BlockReceipts(ctx, blockNrOrHash)

	n.observe("eth_getBlockReceipts", start, err)

	if err != nil {
		return nil, err
	}

	return receipts, nil
}

func (n *RPCNode) transactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	c, _, err := n.clients()
	if err != nil {
		return nil, err
	}

	start := time.Now()

	tx, _, err := c.TransactionByHash(ctx, hash)

	n.observe("eth_getTransactionByHash", start, err)

	if errors.Is(err, ethereum.NotFound) {
		return nil, fmt.Errorf("%s: %w", hash, execution.ErrTransactionNotFound)
	}

	if err != nil {
		return nil, err
	}

	return tx, nil
}

// transactionReceipt fetches the receipt for a transaction by hash.
func (n *RPCNode) transactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c, _, err := n.clients()
	if err != nil {
		return nil, err
	}

	start := time.Now()

	receipt, err := c.TransactionReceipt(ctx, hash)

	n.observe("eth_getTransactionReceipt", start, err)

	if errors.Is(err, ethereum.NotFound) {
		return nil, fmt.Errorf("%s: %w", hash, execution.ErrTransactionNotFound)
	}

	if err != nil {
		return nil, err
	}

	return receipt, nil
}

func (n *RPCNode) codeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	c, _, err := n.clients()
	if err != nil {
		return nil, err
	}

	start := time.Now()

	code, err := c.CodeAt(ctx, account, blockNumber)

	n.observe("eth_getCode", start, err)

	return code, err
}

// debugTraceTransaction replays a transaction with the struct logger.
func (n *RPCNode) debugTraceTransaction(ctx context.Context, hash common.Hash, options execution.TraceOptions) (*execution.TraceTransaction, error) {
	_, rpcClient, err := n.clients()
	if err != nil {
		return nil, err
	}

	// Add a timeout if the context doesn't already have one
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := n.config.TraceTimeout
		if timeout == 0 {
			timeout = defaultTraceTimeout
		}

		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)

		defer cancel()
	}

	var result execution.TraceTransaction

	start := time.Now()

	err = rpcClient.CallContext(ctx, &result, "debug_traceTransaction", hash, options.Params())

	n.observe("debug_traceTransaction", start, err)

	if err != nil {
		return nil, err
	}

	if result.Structlogs == nil {
		// Plain transfers come back without struct logs.
		result.Structlogs = []execution.StructLog{}
	}

	if result.ReturnValue != nil && (*result.ReturnValue == "" || *result.ReturnValue == "0x") {
		result.ReturnValue = nil
	}

	return &result, nil
}
