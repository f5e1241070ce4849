// Package config loads eventpoll settings from an optional TOML file and
// EVENTPOLL_* environment variables. Environment values win over the file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// State backends.
const (
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Queue modes. QueueNone runs without a broker: batches are only broadcast.
const (
	QueueJetStream = "jetstream"
	QueueNone      = "none"
)

type Config struct {
	RPCURL      string        `toml:"rpc_url"`      // EVENTPOLL_RPC_URL
	RPCTimeout  time.Duration `toml:"rpc_timeout"`  // EVENTPOLL_RPC_TIMEOUT (default 30s)
	ContractIDs []string      `toml:"contract_ids"` // EVENTPOLL_CONTRACT_IDS (comma separated)

	HTTPAddr  string `toml:"http_addr"`  // EVENTPOLL_HTTP_ADDR (default ":8080")
	GRPCAddr  string `toml:"grpc_addr"`  // EVENTPOLL_GRPC_ADDR (default ":9090", empty = disabled)
	AuthToken string `toml:"auth_token"` // EVENTPOLL_AUTH_TOKEN (optional, empty = auth disabled)

	StateBackend string `toml:"state_backend"` // EVENTPOLL_STATE_BACKEND (bolt|postgres)
	StatePath    string `toml:"state_path"`    // EVENTPOLL_STATE_PATH (bolt file)
	DatabaseURL  string `toml:"database_url"`  // EVENTPOLL_DATABASE_URL (also enables the relational mirror)

	Queue        string `toml:"queue"`          // EVENTPOLL_QUEUE (jetstream|none)
	NATSURL      string `toml:"nats_url"`       // EVENTPOLL_NATS_URL (empty = embedded server)
	NATSStoreDir string `toml:"nats_store_dir"` // EVENTPOLL_NATS_STORE_DIR
	KVBucket     string `toml:"kv_bucket"`      // EVENTPOLL_KV_BUCKET (empty = KV mirror disabled)
	MaxDeliver   int    `toml:"max_deliver"`    // EVENTPOLL_MAX_DELIVER

	PollInterval          time.Duration `toml:"poll_interval"`           // EVENTPOLL_POLL_INTERVAL
	PageLimit             int           `toml:"page_limit"`              // EVENTPOLL_PAGE_LIMIT
	CatchupWindow         int64         `toml:"catchup_window"`          // EVENTPOLL_CATCHUP_WINDOW
	HeartbeatInterval     time.Duration `toml:"heartbeat_interval"`      // EVENTPOLL_HEARTBEAT_INTERVAL (0 = disabled)
	SubscriberIdleTimeout time.Duration `toml:"subscriber_idle_timeout"` // EVENTPOLL_SUBSCRIBER_IDLE_TIMEOUT (0 = disabled)

	// Dead-letter dumps
	DLQS3Bucket   string `toml:"dlq_s3_bucket"`   // EVENTPOLL_DLQ_S3_BUCKET (enables S3 when set)
	DLQS3Endpoint string `toml:"dlq_s3_endpoint"` // EVENTPOLL_DLQ_S3_ENDPOINT (custom endpoint for MinIO)
	DLQS3Region   string `toml:"dlq_s3_region"`   // EVENTPOLL_DLQ_S3_REGION
	DLQS3Prefix   string `toml:"dlq_s3_prefix"`   // EVENTPOLL_DLQ_S3_PREFIX

	LogLevel  string `toml:"log_level"`  // EVENTPOLL_LOG_LEVEL (debug|info|warn|error)
	LogFormat string `toml:"log_format"` // EVENTPOLL_LOG_FORMAT (text|json)
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		RPCURL:            "https://rpc-futurenet.stellar.org:443",
		RPCTimeout:        30 * time.Second,
		HTTPAddr:          ":8080",
		GRPCAddr:          ":9090",
		StateBackend:      BackendBolt,
		StatePath:         "eventpoll.db",
		Queue:             QueueJetStream,
		NATSStoreDir:      "data/jetstream",
		KVBucket:          "ledger-events",
		MaxDeliver:        5,
		PollInterval:      5 * time.Second,
		PageLimit:         100,
		CatchupWindow:     17280,
		HeartbeatInterval: time.Minute,
		DLQS3Region:       "us-east-1",
		DLQS3Prefix:       "dlq/",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load reads settings from the environment only.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile decodes the TOML file at path (skipped when path is empty), then
// applies environment overrides and validates the result.
func LoadFile(path string) (*Config, error) {
	c := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnv overrides fields from every EVENTPOLL_* variable that is set.
// A variable set to the empty string clears a string setting.
func (c *Config) applyEnv() error {
	envString("EVENTPOLL_RPC_URL", &c.RPCURL)
	envString("EVENTPOLL_HTTP_ADDR", &c.HTTPAddr)
	envString("EVENTPOLL_GRPC_ADDR", &c.GRPCAddr)
	envString("EVENTPOLL_AUTH_TOKEN", &c.AuthToken)
	envString("EVENTPOLL_STATE_BACKEND", &c.StateBackend)
	envString("EVENTPOLL_STATE_PATH", &c.StatePath)
	envString("EVENTPOLL_DATABASE_URL", &c.DatabaseURL)
	envString("EVENTPOLL_QUEUE", &c.Queue)
	envString("EVENTPOLL_NATS_URL", &c.NATSURL)
	envString("EVENTPOLL_NATS_STORE_DIR", &c.NATSStoreDir)
	envString("EVENTPOLL_KV_BUCKET", &c.KVBucket)
	envString("EVENTPOLL_DLQ_S3_BUCKET", &c.DLQS3Bucket)
	envString("EVENTPOLL_DLQ_S3_ENDPOINT", &c.DLQS3Endpoint)
	envString("EVENTPOLL_DLQ_S3_REGION", &c.DLQS3Region)
	envString("EVENTPOLL_DLQ_S3_PREFIX", &c.DLQS3Prefix)
	envString("EVENTPOLL_LOG_LEVEL", &c.LogLevel)
	envString("EVENTPOLL_LOG_FORMAT", &c.LogFormat)

	if v, ok := os.LookupEnv("EVENTPOLL_CONTRACT_IDS"); ok {
		c.ContractIDs = splitList(v)
	}

	for key, dst := range map[string]*time.Duration{
		"EVENTPOLL_RPC_TIMEOUT":             &c.RPCTimeout,
		"EVENTPOLL_POLL_INTERVAL":           &c.PollInterval,
		"EVENTPOLL_HEARTBEAT_INTERVAL":      &c.HeartbeatInterval,
		"EVENTPOLL_SUBSCRIBER_IDLE_TIMEOUT": &c.SubscriberIdleTimeout,
	} {
		if err := envDuration(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*int{
		"EVENTPOLL_MAX_DELIVER": &c.MaxDeliver,
		"EVENTPOLL_PAGE_LIMIT":  &c.PageLimit,
	} {
		if err := envInt(key, dst); err != nil {
			return err
		}
	}
	if v := os.Getenv("EVENTPOLL_CATCHUP_WINDOW"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("EVENTPOLL_CATCHUP_WINDOW: %w", err)
		}
		c.CatchupWindow = n
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("EVENTPOLL_RPC_URL is required")
	}
	switch c.StateBackend {
	case BackendBolt:
		if c.StatePath == "" {
			return fmt.Errorf("EVENTPOLL_STATE_PATH is required for the bolt backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("EVENTPOLL_DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("EVENTPOLL_STATE_BACKEND: unknown backend %q (want bolt or postgres)", c.StateBackend)
	}
	if c.Queue != QueueJetStream && c.Queue != QueueNone {
		return fmt.Errorf("EVENTPOLL_QUEUE: unknown queue %q (want jetstream or none)", c.Queue)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("EVENTPOLL_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("EVENTPOLL_RPC_TIMEOUT must be positive, got %s", c.RPCTimeout)
	}
	if c.HeartbeatInterval < 0 || c.SubscriberIdleTimeout < 0 {
		return fmt.Errorf("heartbeat and idle timeout must not be negative")
	}
	if c.PageLimit <= 0 {
		return fmt.Errorf("EVENTPOLL_PAGE_LIMIT must be positive, got %d", c.PageLimit)
	}
	if c.CatchupWindow < 1 {
		return fmt.Errorf("EVENTPOLL_CATCHUP_WINDOW must be at least 1, got %d", c.CatchupWindow)
	}
	if c.MaxDeliver < 1 {
		return fmt.Errorf("EVENTPOLL_MAX_DELIVER must be at least 1, got %d", c.MaxDeliver)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("EVENTPOLL_LOG_FORMAT: unknown format %q (want text or json)", c.LogFormat)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("EVENTPOLL_LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
