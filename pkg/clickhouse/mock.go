package clickhouse

import (
	"context"
	"sync"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"
)

// MockClient is a mock implementation of ClientInterface for testing.
// It should only be used in test files, not in production code.
type MockClient struct {
	StartFunc          func() error
	StopFunc           func() error
	DoFunc             func(ctx context.Context, query ch.Query) error
	InsertFunc         func(ctx context.Context, table string, input proto.Input) error
	ExecuteFunc        func(ctx context.Context, query string) error
	QueryUInt64Func    func(ctx context.Context, query string, columnName string) (*uint64, error)
	IsStorageEmptyFunc func(ctx context.Context, table string, conditions map[string]any) (bool, error)

	mu    sync.Mutex
	Calls []MockCall
}

// MockCall represents a method call made to the mock.
type MockCall struct {
	Method string
	Args   []any
}

// NewMockClient creates a new mock client with default implementations.
func NewMockClient() *MockClient {
	return &MockClient{
		Calls: make([]MockCall, 0),
	}
}

func (m *MockClient) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// Start implements ClientInterface.
func (m *MockClient) Start() error {
	m.record("Start")

	if m.StartFunc != nil {
		return m.StartFunc()
	}

	return nil
}

// Stop implements ClientInterface.
func (m *MockClient) Stop() error {
	m.record("Stop")

	if m.StopFunc != nil {
		return m.StopFunc()
	}

	return nil
}

// SetNetwork implements ClientInterface.
func (m *MockClient) SetNetwork(network string) {
	m.record("SetNetwork", network)
}

// Do implements ClientInterface.
func (m *MockClient) Do(ctx context.Context, query ch.Query) error {
	m.record("Do", ctx, query)

	if m.DoFunc != nil {
		return m.DoFunc(ctx, query)
	}

	return nil
}

// Insert implements ClientInterface.
func (m *MockClient) Insert(ctx context.Context, table string, input proto.Input) error {
	m.record("Insert", ctx, table, input)

	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, table, input)
	}

	return nil
}

// Execute implements ClientInterface.
func (m *MockClient) Execute(ctx context.Context, query string) error {
	m.record("Execute", ctx, query)

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, query)
	}

	return nil
}

// QueryUInt64 implements ClientInterface.
func (m *MockClient) QueryUInt64(ctx context.Context, query string, columnName string) (*uint64, error) {
	m.record("QueryUInt64", ctx, query, columnName)

	if m.QueryUInt64Func != nil {
		return m.QueryUInt64Func(ctx, query, columnName)
	}

	return nil, nil
}

// IsStorageEmpty implements ClientInterface.
func (m *MockClient) IsStorageEmpty(ctx context.Context, table string, conditions map[string]any) (bool, error) {
	m.record("IsStorageEmpty", ctx, table, conditions)

	if m.IsStorageEmptyFunc != nil {
		return m.IsStorageEmptyFunc(ctx, table, conditions)
	}

	return true, nil
}

// GetCallCount returns the number of times a method was called.
func (m *MockClient) GetCallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0

	for _, call := range m.Calls {
		if call.Method == method {
			count++
		}
	}

	return count
}

// WasCalled returns true if the specified method was called.
func (m *MockClient) WasCalled(method string) bool {
	return m.GetCallCount(method) > 0
}

// Reset clears all recorded calls.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = make([]MockCall, 0)
}

// SetError sets all functions to return the specified error.
func (m *MockClient) SetError(err error) {
	m.StartFunc = func() error { return err }
	m.StopFunc = func() error { return err }
	m.DoFunc = func(context.Context, ch.Query) error { return err }
	m.InsertFunc = func(context.Context, string, proto.Input) error { return err }
	m.ExecuteFunc = func(context.Context, string) error { return err }
	m.QueryUInt64Func = func(context.Context, string, string) (*uint64, error) { return nil, err }
	m.IsStorageEmptyFunc = func(context.Context, string, map[string]any) (bool, error) { return false, err }
}

var _ ClientInterface = (*MockClient)(nil)
