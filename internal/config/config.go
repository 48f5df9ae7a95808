// Package config loads and validates accountlink configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/accountlink/internal/id/uuid"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Events     EventsConfig     `mapstructure:"events"`
	Store      StoreConfig      `mapstructure:"store"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Simulator  SimulatorConfig  `mapstructure:"simulator"`
	Accounts   []AccountConfig  `mapstructure:"accounts"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	APIKey          string        `mapstructure:"api_key"`
	// ConnectRPS limits connect requests per account; 0 disables the limit.
	ConnectRPS   float64 `mapstructure:"connect_rps"`
	ConnectBurst int     `mapstructure:"connect_burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SummarizerConfig tunes summary throttling.
type SummarizerConfig struct {
	Throttle time.Duration `mapstructure:"throttle"`
}

// ConnectionConfig tunes per-account connections.
type ConnectionConfig struct {
	KeepAliveDelay time.Duration `mapstructure:"keep_alive_delay"`
}

// EventsConfig mirrors events.Config.
type EventsConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// Store providers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// StoreConfig selects where status history is kept.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. Events are
// published only when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether a topic is configured.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// SimulatorConfig tunes the in-process core provider.
type SimulatorConfig struct {
	Latency time.Duration `mapstructure:"latency"`
}

// AccountConfig declares one simulated account.
type AccountConfig struct {
	ID           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	Reachability string `mapstructure:"reachability"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ACCOUNTLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.connect_rps", 0)
	v.SetDefault("server.connect_burst", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("summarizer.throttle", 100*time.Millisecond)
	v.SetDefault("connection.keep_alive_delay", 10*time.Second)
	v.SetDefault("events.buffer_size", 4096)
	v.SetDefault("events.max_batch_events", 1000)
	v.SetDefault("events.max_batch_wait", 500*time.Millisecond)
	v.SetDefault("events.sink_timeout", 10*time.Second)
	v.SetDefault("store.provider", StoreMemory)
	v.SetDefault("store.table", "connection_status")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "accountlink")
	v.SetDefault("simulator.latency", 250*time.Millisecond)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.ConnectRPS < 0 {
		return fmt.Errorf("server.connect_rps must be >= 0")
	}
	if c.Connection.KeepAliveDelay < 0 {
		return fmt.Errorf("connection.keep_alive_delay must be >= 0")
	}
	if c.Events.BufferSize < 0 || c.Events.MaxBatchEvents < 0 {
		return fmt.Errorf("events buffer and batch sizes must be >= 0")
	}
	switch c.Store.Provider {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.provider is %q", StorePostgres)
		}
	default:
		return fmt.Errorf("store.provider must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store.Provider)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry.service_name must be set when telemetry is enabled")
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for i, acct := range c.Accounts {
		id, err := uuid.Parse(acct.ID)
		if err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if _, dup := seen[id.String()]; dup {
			return fmt.Errorf("accounts[%d]: duplicate id %s", i, id)
		}
		seen[id.String()] = struct{}{}
		switch acct.Reachability {
		case "", "online", "connecting", "offline", "unavailable":
		default:
			return fmt.Errorf("accounts[%d]: unknown reachability %q", i, acct.Reachability)
		}
	}
	return nil
}
