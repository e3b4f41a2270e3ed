package config

import (
	"os"
	"strconv"
)

// FromEnv overlays KEEL_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("KEEL_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("KEEL_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("KEEL_FSYNC"); v != "" {
		cfg.Server.Fsync = v
	}
	if v := os.Getenv("KEEL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("KEEL_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("KEEL_AMQP_URL"); v != "" {
		cfg.AMQP.URL = v
	}
	if v := os.Getenv("KEEL_AMQP_EXCHANGE"); v != "" {
		cfg.AMQP.Exchange = v
	}
	if v := os.Getenv("KEEL_AMQP_ROUTING_KEY"); v != "" {
		cfg.AMQP.RoutingKey = v
	}
	if v := os.Getenv("KEEL_LEASE_MAX_TTL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Lease.MaxTTLMs = n
		}
	}
	if v := os.Getenv("KEEL_WORKER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.BatchSize = n
		}
	}
	if v := os.Getenv("KEEL_WORKER_LEASE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Worker.LeaseMs = n
		}
	}
	if v := os.Getenv("KEEL_WORKER_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.MaxAttempts = n
		}
	}
	if v := os.Getenv("KEEL_WORKER_PASS_EVERY"); v != "" {
		cfg.Worker.PassEvery = v
	}
	if v := os.Getenv("KEEL_SENDER_ENDPOINT"); v != "" {
		cfg.Sender.Endpoint = v
	}
	if v := os.Getenv("KEEL_SENDER_BEARER_TOKEN"); v != "" {
		cfg.Sender.BearerToken = v
	}
	if v := os.Getenv("KEEL_SENDER_CONNECT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Sender.ConnectTimeoutMs = n
		}
	}
	if v := os.Getenv("KEEL_SENDER_REQUEST_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Sender.RequestTimeoutMs = n
		}
	}
	if v := os.Getenv("KEEL_SENDER_DEFAULT_RETRY_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Sender.DefaultRetryMs = n
		}
	}
}
