package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	LockDriverRedis = "redis"
	LockDriverLocal = "local"
)

type Config struct {
	AppName                       string        `env:"APP_NAME" env-default:"clover-api"`
	Version                       string        `env:"APP_VERSION" env-default:"dev"`
	Port                          int           `env:"PORT" env-default:"3000"`
	LogLevel                      string        `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool          `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int           `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"60"`
	HttpServerReadTimeoutSeconds  int           `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int           `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int           `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int           `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string      `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string      `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	ShutdownTimeout               time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"15s"`
	StartupMaxAttempts            int           `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Store driver: postgres or memory
	StoreDriver string `env:"STORE_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:"localhost"`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"clover"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	// Database Migration Version, 0 migrates to latest
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Run migrations when serve starts
	DatabaseMigrateOnStart bool `env:"DB_MIGRATE_ON_START" env-default:"true"`

	// Auth Enabled - when false, allows X-Tenant-ID and X-User-ID headers for testing
	AuthEnabled bool `env:"AUTH_ENABLED" env-default:"false"`
	// Auth Issuer URL
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	// Auth Client ID
	AuthClientID string `env:"AUTH_CLIENT_ID" env-default:""`

	// Lock driver: redis or local
	LockDriver string `env:"LOCK_DRIVER" env-default:"redis"`
	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Redis Streams settings
	// Queue syncs on a Redis stream instead of running them inside the request
	SyncQueueEnabled bool `env:"SYNC_QUEUE_ENABLED" env-default:"false"`
	// Sync job stream name
	RedisStreamsSyncQueue string `env:"REDIS_STREAMS_SYNC_QUEUE" env-default:"clover:sync"`
	// Consumer group name
	RedisStreamsConsumerGroup string `env:"REDIS_STREAMS_CONSUMER_GROUP" env-default:"clover-workers"`
	// Consumer name (defaults to hostname if empty)
	RedisStreamsConsumerName string `env:"REDIS_STREAMS_CONSUMER_NAME" env-default:""`
	// Concurrent sync jobs per worker
	WorkerConcurrency int `env:"WORKER_CONCURRENCY" env-default:"3"`

	// Kafka brokers (comma-separated), empty disables event publishing
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:""`
	// Kafka topic for domain events
	KafkaEventsTopic  string        `env:"KAFKA_EVENTS_TOPIC" env-default:"clover-events"`
	KafkaBatchSize    int           `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout time.Duration `env:"KAFKA_BATCH_TIMEOUT" env-default:"10ms"`
	KafkaRequiredAcks int           `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string        `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// OpenAI settings, an empty key disables the similarity oracle and AI insights
	OpenAIAPIKey         string `env:"OPENAI_API_KEY" env-default:""`
	OpenAIBaseURL        string `env:"OPENAI_BASE_URL" env-default:""`
	OpenAIChatModel      string `env:"OPENAI_CHAT_MODEL" env-default:""`
	OpenAIEmbeddingModel string `env:"OPENAI_EMBEDDING_MODEL" env-default:""`
	// chat or embeddings
	OpenAISimilarityMode string `env:"OPENAI_SIMILARITY_MODE" env-default:"chat"`

	// Dedup settings
	DedupMinSimilarity float64 `env:"DEDUP_MIN_SIMILARITY" env-default:"0.85"`
	DedupBlockSize     int     `env:"DEDUP_BLOCK_SIZE" env-default:"100"`
	DedupPageSize      int     `env:"DEDUP_PAGE_SIZE" env-default:"500"`
	// Blocks per detect or resume call, 0 runs to completion
	DedupMaxBlocks          int     `env:"DEDUP_MAX_BLOCKS" env-default:"0"`
	DedupAutoMerge          bool    `env:"DEDUP_AUTO_MERGE" env-default:"false"`
	DedupAutoMergeThreshold float64 `env:"DEDUP_AUTO_MERGE_THRESHOLD" env-default:"0.95"`

	// Scheduler settings
	// Enable/disable the scheduler
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" env-default:"true"`
	// Scheduler poll interval
	SchedulerPollInterval time.Duration `env:"SCHEDULER_POLL_INTERVAL" env-default:"30s"`
	// How often each connection is synced
	SchedulerSyncInterval time.Duration `env:"SCHEDULER_SYNC_INTERVAL" env-default:"15m"`

	// Outbound HTTP settings for provider connectors
	HTTPClientTimeout    time.Duration `env:"HTTP_CLIENT_TIMEOUT" env-default:"30s"`
	HTTPClientMaxRetries int           `env:"HTTP_CLIENT_MAX_RETRIES" env-default:"3"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		// a missing file is fine, the environment may carry everything
		_ = godotenv.Load(file)
	}

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.LockDriver {
	case LockDriverRedis, LockDriverLocal:
	default:
		return fmt.Errorf("unknown LOCK_DRIVER %q", c.LockDriver)
	}
	if c.SyncQueueEnabled && c.LockDriver != LockDriverRedis {
		return fmt.Errorf("SYNC_QUEUE_ENABLED requires LOCK_DRIVER=redis")
	}
	if c.AuthEnabled && (c.AuthIssuerURL == "" || c.AuthClientID == "") {
		return fmt.Errorf("AUTH_ENABLED requires AUTH_ISSUER_URL and AUTH_CLIENT_ID")
	}
	if c.DedupMinSimilarity < 0 || c.DedupMinSimilarity > 1 {
		return fmt.Errorf("DEDUP_MIN_SIMILARITY must be within [0,1]")
	}
	return nil
}

// DatabaseDSN builds the lib/pq connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUserName, c.DatabasePassword, c.DatabaseName, c.DatabaseSSLMode)
}

func (c *Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
