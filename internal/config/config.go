package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Server ServerConfig `json:"server" yaml:"server"`
	Log    LogConfig    `json:"log" yaml:"log"`
	Lease  LeaseConfig  `json:"lease" yaml:"lease"`
	Worker WorkerConfig `json:"worker" yaml:"worker"`
	Sender SenderConfig `json:"sender" yaml:"sender"`
	AMQP   AMQPConfig   `json:"amqp" yaml:"amqp"`
}

// ServerConfig holds the admin HTTP listener and storage settings.
type ServerConfig struct {
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`
	DataDir  string `json:"dataDir" yaml:"dataDir"`
	// Fsync is one of "always", "interval", "never".
	Fsync string `json:"fsync" yaml:"fsync"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "json" or "text"
}

// LeaseConfig bounds lease grants issued by the coordinator.
type LeaseConfig struct {
	// MaxTTLMs is the upper bound for requested lease TTLs.
	MaxTTLMs int64 `json:"maxTtlMs" yaml:"maxTtlMs"`
}

// WorkerConfig controls the sync-queue worker pass.
type WorkerConfig struct {
	BatchSize   int    `json:"batchSize" yaml:"batchSize"`
	LeaseMs     int64  `json:"leaseMs" yaml:"leaseMs"`
	MaxAttempts int    `json:"maxAttempts" yaml:"maxAttempts"`
	PassEvery   string `json:"passEvery" yaml:"passEvery"` // cron "@every" interval for worker start
}

// SenderConfig configures the outbound artifact-sync sender.
type SenderConfig struct {
	Endpoint         string `json:"endpoint" yaml:"endpoint"`
	BearerToken      string `json:"bearerToken" yaml:"bearerToken"`
	ConnectTimeoutMs int64  `json:"connectTimeoutMs" yaml:"connectTimeoutMs"`
	RequestTimeoutMs int64  `json:"requestTimeoutMs" yaml:"requestTimeoutMs"`
	DefaultRetryMs   int64  `json:"defaultRetryMs" yaml:"defaultRetryMs"`
}

// AMQPConfig configures the optional AMQP sender. When URL is set, worker
// deliveries publish to the exchange instead of POSTing to the endpoint.
type AMQPConfig struct {
	URL        string `json:"url" yaml:"url"`
	Exchange   string `json:"exchange" yaml:"exchange"`
	RoutingKey string `json:"routingKey" yaml:"routingKey"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr: "127.0.0.1:8480",
			DataDir:  DefaultDataDir(),
			Fsync:    "interval",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Lease: LeaseConfig{
			MaxTTLMs: 600_000,
		},
		Worker: WorkerConfig{
			BatchSize:   16,
			LeaseMs:     30_000,
			MaxAttempts: 5,
			PassEvery:   "@every 5s",
		},
		Sender: SenderConfig{
			ConnectTimeoutMs: 3_000,
			RequestTimeoutMs: 10_000,
			DefaultRetryMs:   30_000,
		},
		AMQP: AMQPConfig{
			Exchange:   "keel.sync",
			RoutingKey: "sync.envelope",
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
