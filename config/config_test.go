package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 0.85, cfg.DedupMinSimilarity)
	assert.Equal(t, 5, cfg.StartupMaxAttempts)
	assert.Empty(t, cfg.KafkaBrokerList())
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STORE_DRIVER=memory\nKAFKA_BROKERS=a:9092, b:9092\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("STORE_DRIVER")
		os.Unsetenv("KAFKA_BROKERS")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokerList())
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{StoreDriver: StoreDriverMemory, LockDriver: LockDriverLocal, DedupMinSimilarity: 0.85}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "unknown store", mutate: func(c *Config) { c.StoreDriver = "mongo" }},
		{name: "queue without redis", mutate: func(c *Config) { c.SyncQueueEnabled = true }},
		{name: "auth without issuer", mutate: func(c *Config) { c.AuthEnabled = true }},
		{name: "similarity out of range", mutate: func(c *Config) { c.DedupMinSimilarity = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}
