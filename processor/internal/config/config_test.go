package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "FIREHOSE_RECORDS", cfg.NATS.Stream)
	assert.Equal(t, "firehose-processor", cfg.NATS.Consumer)
	assert.Equal(t, "firehose.records.ingested", cfg.NATS.Subject)
	assert.Equal(t, 30*time.Second, cfg.NATS.AckWait)
	assert.Equal(t, 5, cfg.NATS.MaxDeliver)
	assert.Equal(t, 5*time.Second, cfg.NATS.NakDelay)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.True(t, cfg.Store.Migrate)
	assert.Equal(t, "http://localhost:3001/mock", cfg.Geo.URL)
	assert.False(t, cfg.Stats.Enabled)
	assert.Equal(t, "firehose:country", cfg.Stats.Prefix)
	assert.Equal(t, 10*time.Second, cfg.Stats.FlushInterval)
	assert.Equal(t, 5*time.Second, cfg.Geo.Timeout)
	assert.Equal(t, uint32(5), cfg.Geo.FailureThreshold)
	assert.Equal(t, 20.0, cfg.Geo.RateLimit)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PROCESSOR_STORE_BACKEND", "redis")
	t.Setenv("PROCESSOR_STORE_URL", "redis://cache:6379/1")
	t.Setenv("PROCESSOR_GEO_URL", "http://mockstream:8090")
	t.Setenv("PROCESSOR_NATS_MAX_DELIVER", "9")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis://cache:6379/1", cfg.Store.URL)
	assert.Equal(t, "http://mockstream:8090", cfg.Geo.URL)
	assert.Equal(t, 9, cfg.NATS.MaxDeliver)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
  format: text
geo:
  rate_limit: 2.5
  burst: 3
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 2.5, cfg.Geo.RateLimit)
	assert.Equal(t, 3, cfg.Geo.Burst)
}

func TestLoad_RejectsMemoryStore(t *testing.T) {
	t.Setenv("PROCESSOR_STORE_BACKEND", "memory")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_StatsRequireRedisURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stats:
  enabled: true
  redis_url: ""
`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
