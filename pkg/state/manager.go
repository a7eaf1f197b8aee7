// Package state tracks which blocks have been traced and decides what to process next.
package state

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/call-tracer/pkg/clickhouse"
)

// Sentinel errors.
var (
	ErrNoMoreBlocks = errors.New("no more blocks to process")
)

type Manager struct {
	log           logrus.FieldLogger
	storageClient clickhouse.ClientInterface
	storageTable  string
	startBlock    *uint64
	network       string
}

func NewManager(log logrus.FieldLogger, config *Config) (*Manager, error) {
	storageConfig := config.Storage.Config

	storageClient, err := clickhouse.New(&storageConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage clickhouse client: %w", err)
	}

	return NewManagerWithClient(log, storageClient, config), nil
}

// NewManagerWithClient creates a manager around an existing ClickHouse client.
func NewManagerWithClient(log logrus.FieldLogger, client clickhouse.ClientInterface, config *Config) *Manager {
	return &Manager{
		log:           log.WithField("component", "state"),
		storageClient: client,
		storageTable:  config.Storage.Table,
		startBlock:    config.StartBlock,
	}
}

// SetNetwork sets the network name for metrics labeling.
func (s *Manager) SetNetwork(network string) {
	s.network = network

	s.storageClient.SetNetwork(network)
}

func (s *Manager) Start(ctx context.Context) error {
	if err := s.startClientWithRetry(ctx); err != nil {
		return fmt.Errorf("failed to start storage client: %w", err)
	}

	return nil
}

// startClientWithRetry starts the ClickHouse client with infinite retry and capped exponential backoff.
func (s *Manager) startClientWithRetry(ctx context.Context) error {
	const (
		baseDelay = 100 * time.Millisecond
		maxDelay  = 10 * time.Second
	)

	attempt := 0

	for {
		err := s.storageClient.Start()
		if err == nil {
			if attempt > 0 {
				s.log.Info("Successfully connected after retries")
			}

			return nil
		}

		delay := baseDelay * time.Duration(1<<min(attempt, 16))
		if delay > maxDelay {
			delay = maxDelay
		}

		s.log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
			"error":   err,
		}).Warn("Failed to start client, retrying...")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		attempt++
	}
}

func (s *Manager) Stop(_ context.Context) error {
	if err := s.storageClient.Stop(); err != nil {
		return fmt.Errorf("failed to stop storage client: %w", err)
	}

	return nil
}

// NextBlock returns the block after the last processed one. An empty table
// starts at the configured start block, or the chain head when none is set.
// ErrNoMoreBlocks is returned once the next block is beyond chainHead.
func (s *Manager) NextBlock(ctx context.Context, processor, network string, chainHead *big.Int) (*big.Int, error) {
	next, err := s.nextBlock(ctx, processor, network, chainHead)
	if err != nil {
		return nil, err
	}

	if chainHead != nil && next.Cmp(chainHead) > 0 {
		s.log.WithFields(logrus.Fields{
			"processor":  processor,
			"network":    network,
			"next_block": next.String(),
			"chain_head": chainHead.String(),
		}).Debug("Caught up to chain head")

		return nil, ErrNoMoreBlocks
	}

	return next, nil
}

func (s *Manager) nextBlock(ctx context.Context, processor, network string, chainHead *big.Int) (*big.Int, error) {
	query := fmt.Sprintf(`
		SELECT block_number
		FROM %s FINAL
		WHERE processor = '%s'
		  AND meta_network_name = '%s'
		ORDER BY block_number DESC
		LIMIT 1
	`, s.storageTable, processor, network)

	blockNumber, err := s.storageClient.QueryUInt64(ctx, query, "block_number")
	if err != nil {
		return nil, fmt.Errorf("failed to get next block from %s: %w", s.storageTable, err)
	}

	if blockNumber != nil {
		return new(big.Int).SetUint64(*blockNumber + 1), nil
	}

	isEmpty, err := s.storageClient.IsStorageEmpty(ctx, s.storageTable, map[string]any{
		"processor":         processor,
		"meta_network_name": network,
	})
	if err != nil {
		s.log.WithError(err).Warn("Failed to verify if storage is empty, assuming no data")

		isEmpty = true
	}

	if !isEmpty {
		s.log.WithFields(logrus.Fields{
			"processor": processor,
			"network":   network,
		}).Warn("Unexpected state: block_number is nil but storage is not empty")

		return big.NewInt(0), nil
	}

	switch {
	case s.startBlock != nil:
		s.log.WithFields(logrus.Fields{
			"processor":   processor,
			"network":     network,
			"start_block": *s.startBlock,
		}).Info("Storage table is empty, starting from configured block")

		return new(big.Int).SetUint64(*s.startBlock), nil
	case chainHead != nil && chainHead.Sign() > 0:
		s.log.WithFields(logrus.Fields{
			"processor":  processor,
			"network":    network,
			"chain_head": chainHead.String(),
		}).Info("Storage table is empty, starting from chain head")

		return new(big.Int).Set(chainHead), nil
	default:
		return big.NewInt(0), nil
	}
}

// MarkBlockProcessed records that every transaction of a block has been traced.
func (s *Manager) MarkBlockProcessed(ctx context.Context, blockNumber uint64, network, processor string) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (updated_date_time, block_number, processor, meta_network_name) VALUES ('%s', %d, '%s', '%s')",
		s.storageTable,
		time.Now().UTC().Format("2006-01-02 15:04:05.000"),
		blockNumber,
		processor,
		network,
	)

	if err := s.storageClient.Execute(ctx, query); err != nil {
		return fmt.Errorf("failed to mark block as processed in %s: %w", s.storageTable, err)
	}

	s.log.WithFields(logrus.Fields{
		"block_number": blockNumber,
		"processor":    processor,
		"network":      network,
	}).Debug("Marked block as processed")

	return nil
}

// HeadDistance returns how far the next block to process trails chainHead.
func (s *Manager) HeadDistance(ctx context.Context, processor, network string, chainHead *big.Int) (int64, error) {
	if chainHead == nil {
		return 0, fmt.Errorf("execution head not available")
	}

	next, err := s.NextBlock(ctx, processor, network, chainHead)
	if err != nil {
		if errors.Is(err, ErrNoMoreBlocks) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to get current processing block: %w", err)
	}

	return new(big.Int).Sub(chainHead, next).Int64(), nil
}
