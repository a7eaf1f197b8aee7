// Package testutil starts the Redis and ClickHouse backends the call tracer
// tests run against: miniredis for unit tests, containers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const (
	redisImage      = "redis:7-alpine"
	clickHouseImage = "clickhouse/clickhouse-server:24.8"
)

// NewMiniredis starts an in-memory Redis that is shut down with the test.
func NewMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	return miniredis.RunT(t)
}

// NewMiniredisClient returns a client for a fresh miniredis. The server is
// returned too so tests can inspect keys or fast-forward TTLs.
func NewMiniredisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	server := NewMiniredis(t)

	return newClient(t, &redis.Options{Addr: server.Addr()}), server
}

// NewRedisContainer returns a client for a real Redis, needed where miniredis
// falls short (Lua scripts under real expiry, concurrent clients).
func NewRedisContainer(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, redisImage)
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}

	testcontainers.CleanupContainer(t, container)

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("redis connection string: %v", err)
	}

	opts, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse redis url %q: %v", uri, err)
	}

	return newClient(t, opts)
}

func newClient(t *testing.T, opts *redis.Options) *redis.Client {
	t.Helper()

	client := redis.NewClient(opts)

	t.Cleanup(func() { _ = client.Close() })

	return client
}

// ClickHouseConnection is where a test ClickHouse listens for native protocol
// connections.
type ClickHouseConnection struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

func (c ClickHouseConnection) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewClickHouseContainer starts ClickHouse for integration tests of the frame
// and admin tables.
func NewClickHouseContainer(t *testing.T) ClickHouseConnection {
	t.Helper()

	ctx := context.Background()

	conn := ClickHouseConnection{Database: "default", Username: "default"}

	container, err := tcclickhouse.Run(ctx, clickHouseImage,
		tcclickhouse.WithUsername(conn.Username),
		tcclickhouse.WithPassword(conn.Password),
		tcclickhouse.WithDatabase(conn.Database),
	)
	if err != nil {
		t.Fatalf("start clickhouse container: %v", err)
	}

	testcontainers.CleanupContainer(t, container)

	if conn.Host, err = container.Host(ctx); err != nil {
		t.Fatalf("clickhouse host: %v", err)
	}

	port, err := container.MappedPort(ctx, "9000/tcp")
	if err != nil {
		t.Fatalf("clickhouse native port: %v", err)
	}

	conn.Port = port.Int()

	return conn
}
