package clickhouse

import (
	"context"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"
)

// ClientInterface defines the methods for interacting with ClickHouse.
type ClientInterface interface {
	// Start initializes the client
	Start() error
	// Stop closes the client
	Stop() error
	// SetNetwork updates the network name for metrics labeling
	SetNetwork(network string)
	// Do executes a raw ch-go query against the pool
	Do(ctx context.Context, query ch.Query) error
	// Insert writes a block of columns into a table
	Insert(ctx context.Context, table string, input proto.Input) error
	// Execute runs a query without expecting results
	Execute(ctx context.Context, query string) error
	// QueryUInt64 returns the first value of a UInt64 column, or nil when no rows match
	QueryUInt64(ctx context.Context, query string, columnName string) (*uint64, error)
	// IsStorageEmpty checks if a table has any records matching the given conditions
	IsStorageEmpty(ctx context.Context, table string, conditions map[string]any) (bool, error)
}

var _ ClientInterface = (*Client)(nil)
