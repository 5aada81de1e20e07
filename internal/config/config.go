// Package config holds all configuration types and loading logic for relayq.
// Config structure never shrinks: fields are only added, never renamed or
// removed.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/snehjoshi/relayq/internal/queue"
)

// Config is the root configuration for a relayq server instance.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Storage   StorageConfig   `yaml:"storage"`
	Queue     QueueConfig     `yaml:"queue"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Producers ProducerConfig  `yaml:"producers"`
	Auth      AuthConfig      `yaml:"auth"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// NodeConfig holds identity and network settings for this server node.
type NodeConfig struct {
	// ID is a ULID string. Use "auto" to generate and persist one on first
	// start.
	ID      string `yaml:"id"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// Backend selects the record store variant backing every queue.
type Backend string

const (
	// BackendMemory keeps records in process memory. Fast, lost on restart.
	BackendMemory Backend = "memory"
	// BackendBolt persists records in one bbolt file per queue under the
	// data directory.
	BackendBolt Backend = "bolt"
)

// StorageConfig controls how queue records are kept.
type StorageConfig struct {
	Backend Backend `yaml:"backend"`
}

// QueueConfig sets the delivery policy applied to queues created without an
// explicit one. Durations accept Go syntax plus a "d" day suffix ("7d").
type QueueConfig struct {
	VisibilityTimeout string `yaml:"visibility_timeout"`
	RetentionPeriod   string `yaml:"retention_period"`
	MaxReceiveCount   int    `yaml:"max_receive_count"`
	MaxPayloadSizeKB  int    `yaml:"max_payload_size_kb"`
}

// SweeperConfig controls the background pass that garbage-collects expired
// records and eagerly dead-letters exhausted ones. Delivery correctness does
// not depend on it; disabling only delays space reclamation.
type SweeperConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// ProducerConfig sets rate limiting applied per producer address.
type ProducerConfig struct {
	// MaxRate is publishes per second per producer.
	MaxRate int `yaml:"max_rate"`
	// Burst allows temporary spikes above MaxRate.
	Burst int `yaml:"burst"`
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// HTTPConfig tunes the API server.
type HTTPConfig struct {
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// WebSocketConfig tunes the push-consumer transport.
type WebSocketConfig struct {
	Enabled bool `yaml:"enabled"`
	// PollInterval is how often an idle subscription re-checks its queue.
	PollInterval string `yaml:"poll_interval"`
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:      "auto",
			Host:    "0.0.0.0",
			Port:    8080,
			DataDir: "./data",
		},
		Storage: StorageConfig{
			Backend: BackendBolt,
		},
		Queue: QueueConfig{
			VisibilityTimeout: "30s",
			RetentionPeriod:   "7d",
			MaxReceiveCount:   3,
			MaxPayloadSizeKB:  256,
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Interval: "30s",
		},
		Producers: ProducerConfig{
			MaxRate: 10_000,
			Burst:   50_000,
		},
		Auth: AuthConfig{
			Enabled: false,
			APIKey:  "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		HTTP: HTTPConfig{
			ReadTimeout:     "10s",
			WriteTimeout:    "30s",
			ShutdownTimeout: "15s",
		},
		WebSocket: WebSocketConfig{
			Enabled:      true,
			PollInterval: "250ms",
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run relayq with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	RELAYQ_AUTH_API_KEY — sets auth.api_key and enables auth
//	RELAYQ_DATA_DIR     — sets node.data_dir
//	RELAYQ_PORT         — sets node.port
//	RELAYQ_BACKEND      — sets storage.backend
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RELAYQ_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
		cfg.Auth.Enabled = true
	}
	if v := os.Getenv("RELAYQ_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("RELAYQ_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Node.Port = p
		}
	}
	if v := os.Getenv("RELAYQ_BACKEND"); v != "" {
		cfg.Storage.Backend = Backend(v)
	}
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Node.Port < 1 || c.Node.Port > 65535 {
		return errors.New("node.port must be between 1 and 65535")
	}
	if c.Node.DataDir == "" {
		return errors.New("node.data_dir must not be empty")
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendBolt:
	default:
		return errors.New(`storage.backend must be "memory" or "bolt"`)
	}
	if _, err := ParseDuration(c.Queue.VisibilityTimeout); err != nil {
		return fmt.Errorf("queue.visibility_timeout: %w", err)
	}
	if _, err := ParseDuration(c.Queue.RetentionPeriod); err != nil {
		return fmt.Errorf("queue.retention_period: %w", err)
	}
	if c.Queue.MaxReceiveCount < 0 {
		return errors.New("queue.max_receive_count must be >= 0")
	}
	if c.Queue.MaxPayloadSizeKB < 1 {
		return errors.New("queue.max_payload_size_kb must be at least 1")
	}
	if c.Sweeper.Enabled {
		if d, err := ParseDuration(c.Sweeper.Interval); err != nil || d <= 0 {
			return errors.New("sweeper.interval must be a positive duration")
		}
	}
	if c.Producers.MaxRate < 1 {
		return errors.New("producers.max_rate must be at least 1")
	}
	if c.Producers.Burst < c.Producers.MaxRate {
		return errors.New("producers.burst must be >= producers.max_rate")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	for _, f := range []struct{ name, val string }{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.shutdown_timeout", c.HTTP.ShutdownTimeout},
		{"websocket.poll_interval", c.WebSocket.PollInterval},
	} {
		if _, err := ParseDuration(f.val); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return nil
}

// DefaultPolicy converts the queue section into the engine policy applied to
// queues created without an explicit one. Call Validate first; on a valid
// config this cannot fail.
func (c *Config) DefaultPolicy() (queue.Config, error) {
	vis, err := ParseDuration(c.Queue.VisibilityTimeout)
	if err != nil {
		return queue.Config{}, fmt.Errorf("queue.visibility_timeout: %w", err)
	}
	ret, err := ParseDuration(c.Queue.RetentionPeriod)
	if err != nil {
		return queue.Config{}, fmt.Errorf("queue.retention_period: %w", err)
	}
	return queue.Config{
		VisibilityTimeout: vis,
		RetentionPeriod:   ret,
		MaxReceiveCount:   c.Queue.MaxReceiveCount,
	}, nil
}

// ParseDuration parses Go duration syntax extended with a "d" day suffix, so
// retention periods read naturally ("7d", "90d"). Mixed forms like "1d12h"
// are not supported; a "d" value must be days only.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q", s)
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	return time.ParseDuration(s)
}
