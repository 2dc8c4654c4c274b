package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	fhconfig "github.com/vertical-labs/firehose/common/config"
	"github.com/vertical-labs/firehose/common/countrystats"
	"github.com/vertical-labs/firehose/common/recordstore"
	"github.com/vertical-labs/firehose/streamer/internal/backoff"
	"github.com/vertical-labs/firehose/streamer/internal/forwarder"
)

type Config struct {
	Server    ServerConfig           `mapstructure:"server"`
	Logging   fhconfig.LoggingConfig `mapstructure:"logging"`
	Upstream  UpstreamConfig         `mapstructure:"upstream"`
	Stream    StreamConfig           `mapstructure:"stream"`
	Secrets   fhconfig.SecretsConfig `mapstructure:"secrets"`
	NATS      NATSConfig             `mapstructure:"nats"`
	Forwarder forwarder.Config       `mapstructure:"forwarder"`
	Store     recordstore.Config     `mapstructure:"store"`
	Monitor   MonitorConfig          `mapstructure:"monitor"`
	Stats     StatsConfig            `mapstructure:"stats"`
}

// StatsConfig exposes the processor's country tallies on /country-stats.
type StatsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	RedisURL string `mapstructure:"redis_url"`
	Prefix   string `mapstructure:"prefix"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	BasePath     string        `mapstructure:"base_path"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	ShutdownWait time.Duration `mapstructure:"shutdown_wait"`
}

type UpstreamConfig struct {
	URL         string        `mapstructure:"url"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type StreamConfig struct {
	// AutoStart opens the upstream connection at boot instead of waiting
	// for enable-monitoring.
	AutoStart    bool           `mapstructure:"autostart"`
	MaxLineBytes int            `mapstructure:"max_line_bytes"`
	Backoff      backoff.Config `mapstructure:"backoff"`
}

type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type MonitorConfig struct {
	Buffer    int           `mapstructure:"buffer"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	fhconfig.SetSharedDefaults(v)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_wait", "15s")
	v.SetDefault("upstream.url", "https://api.twitter.com")
	v.SetDefault("upstream.dial_timeout", "10s")
	v.SetDefault("stream.autostart", false)
	v.SetDefault("stream.max_line_bytes", 1<<20)
	v.SetDefault("stream.backoff.kind", "fixed")
	v.SetDefault("stream.backoff.delay", backoff.DefaultDelay.String())
	v.SetDefault("stream.backoff.max", "2m")
	v.SetDefault("stream.backoff.multiplier", 2.0)
	v.SetDefault("stream.backoff.jitter", 0.25)
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.timeout", "5s")

	fwd := forwarder.DefaultConfig()
	v.SetDefault("forwarder.subject", fwd.Subject)
	v.SetDefault("forwarder.queue_size", fwd.QueueSize)
	v.SetDefault("forwarder.workers", fwd.Workers)
	v.SetDefault("forwarder.publish_timeout", fwd.PublishTimeout.String())

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.url", "")
	v.SetDefault("store.table", recordstore.DefaultTable)
	v.SetDefault("store.page_size", recordstore.DefaultPageSize)
	v.SetDefault("store.migrate", false)
	v.SetDefault("monitor.buffer", 256)
	v.SetDefault("monitor.heartbeat", "15s")
	v.SetDefault("stats.enabled", false)
	v.SetDefault("stats.redis_url", "redis://localhost:6379/0")
	v.SetDefault("stats.prefix", countrystats.DefaultPrefix)

	var cfg Config
	if err := fhconfig.Read(v, "streamer", "STREAMER", configPath, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}
	if c.Stats.Enabled && c.Stats.RedisURL == "" {
		return fmt.Errorf("stats.redis_url is required when stats are enabled")
	}
	if _, err := backoff.New(c.Stream.Backoff); err != nil {
		return fmt.Errorf("stream.backoff: %w", err)
	}
	return nil
}
