// Package testhelpers starts shared PostgreSQL and Redis containers for integration tests.
// Containers are started once per test binary and skipped in -short mode.
package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/db"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/redis"
)

const (
	PostgresImage = "postgres:16-alpine"
	RedisImage    = "redis:7-alpine"
)

// Logger returns a development logger for tests.
func Logger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

// TestDB is a migrated PostgreSQL database.
type TestDB struct {
	Container testcontainers.Container
	DB        database.DB
	DSN       string
}

// TestRedis is a Redis server with a connected client.
type TestRedis struct {
	Container testcontainers.Container
	Client    *redis.Client
	Addr      string
}

var (
	sharedDB     *TestDB
	sharedDBOnce sync.Once
	sharedDBErr  error

	sharedRedis     *TestRedis
	sharedRedisOnce sync.Once
	sharedRedisErr  error
)

// GetTestDB returns a shared PostgreSQL container with every migration applied.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedDBOnce.Do(func() {
		sharedDB, sharedDBErr = setupTestDB()
	})
	if sharedDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedDBErr)
	}
	return sharedDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()
	logger := Logger()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        PostgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "clover",
				"POSTGRES_USER":     "clover",
				"POSTGRES_PASSWORD": "clover",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://clover:clover@%s:%s/clover?sslmode=disable", host, port.Port())

	var conn database.DB
	for i := 0; i < 10; i++ {
		conn, err = database.Connect(ctx, database.PoolConfig{DSN: dsn, MaxOpenConns: 10}, logger)
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrationService(logger, database.MigrationConfig{}).Migrate(conn, db.Migrations, db.MigrationsDir); err != nil {
		return nil, fmt.Errorf("failed to migrate test database: %w", err)
	}

	return &TestDB{Container: container, DB: conn, DSN: dsn}, nil
}

// GetTestRedis returns a shared Redis container. Tests should use unique key and stream names.
func GetTestRedis(t *testing.T) *TestRedis {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedRedisOnce.Do(func() {
		sharedRedis, sharedRedisErr = setupTestRedis()
	})
	if sharedRedisErr != nil {
		t.Fatalf("Failed to setup test redis: %v", sharedRedisErr)
	}
	return sharedRedis
}

func setupTestRedis() (*TestRedis, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        RedisImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}
	addr := fmt.Sprintf("%s:%s", host, port.Port())

	client := redis.NewFromRedis(goredis.NewClient(&goredis.Options{Addr: addr}), Logger())
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &TestRedis{Container: container, Client: client, Addr: addr}, nil
}
