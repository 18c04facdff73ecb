package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "5004", cfg.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "data/orders.json", cfg.DataFile)
	assert.Equal(t, 3, cfg.Gateway.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Gateway.Backoff)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 2*time.Second, cfg.EventPublishTimeout)
	assert.Equal(t, "host=localhost port=5432 user=orderservice password=orderservice dbname=order_db sslmode=disable",
		cfg.Database.DataSourceName())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ORDER_SERVICE_PORT", "9000")
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_DSN", "file:orders.db")
	t.Setenv("GATEWAY_MAX_ATTEMPTS", "5")
	t.Setenv("GATEWAY_BACKOFF", "250ms")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("PRODUCT_SERVICE_URL", "http://catalog:5002/")
	t.Setenv("EVENT_PUBLISH_TIMEOUT", "500ms")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "file:orders.db", cfg.Database.DataSourceName())
	assert.Equal(t, 5, cfg.Gateway.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Gateway.Backoff)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "http://catalog:5002", cfg.ProductServiceURL)
	assert.Equal(t, 500*time.Millisecond, cfg.EventPublishTimeout)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ORDER_DATA_FILE=/tmp/orders-from-env.json\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ORDER_DATA_FILE") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/orders-from-env.json", cfg.DataFile)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "bad_duration", key: "GATEWAY_TIMEOUT", val: "soon"},
		{name: "bad_integer", key: "GATEWAY_MAX_ATTEMPTS", val: "three"},
		{name: "zero_attempts", key: "GATEWAY_MAX_ATTEMPTS", val: "0"},
		{name: "unknown_driver", key: "DB_DRIVER", val: "mysql"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
