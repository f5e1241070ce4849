package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allEnvVars = []string{
	"EVENTPOLL_RPC_URL", "EVENTPOLL_RPC_TIMEOUT", "EVENTPOLL_CONTRACT_IDS",
	"EVENTPOLL_HTTP_ADDR", "EVENTPOLL_GRPC_ADDR", "EVENTPOLL_AUTH_TOKEN",
	"EVENTPOLL_STATE_BACKEND", "EVENTPOLL_STATE_PATH", "EVENTPOLL_DATABASE_URL",
	"EVENTPOLL_QUEUE", "EVENTPOLL_NATS_URL", "EVENTPOLL_NATS_STORE_DIR", "EVENTPOLL_KV_BUCKET", "EVENTPOLL_MAX_DELIVER",
	"EVENTPOLL_POLL_INTERVAL", "EVENTPOLL_PAGE_LIMIT", "EVENTPOLL_CATCHUP_WINDOW",
	"EVENTPOLL_HEARTBEAT_INTERVAL", "EVENTPOLL_SUBSCRIBER_IDLE_TIMEOUT",
	"EVENTPOLL_DLQ_S3_BUCKET", "EVENTPOLL_DLQ_S3_ENDPOINT", "EVENTPOLL_DLQ_S3_REGION", "EVENTPOLL_DLQ_S3_PREFIX",
	"EVENTPOLL_LOG_LEVEL", "EVENTPOLL_LOG_FORMAT",
}

// clearAllEnv unsets every EVENTPOLL_* variable for the duration of the test.
func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearAllEnv(t)

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c.RPCURL != "https://rpc-futurenet.stellar.org:443" {
		t.Errorf("RPCURL = %q", c.RPCURL)
	}
	if c.HTTPAddr != ":8080" || c.GRPCAddr != ":9090" {
		t.Errorf("addrs = %q %q", c.HTTPAddr, c.GRPCAddr)
	}
	if c.StateBackend != BackendBolt || c.StatePath != "eventpoll.db" {
		t.Errorf("state = %q %q", c.StateBackend, c.StatePath)
	}
	if c.PollInterval != 5*time.Second || c.PageLimit != 100 || c.CatchupWindow != 17280 {
		t.Errorf("poll settings = %s %d %d", c.PollInterval, c.PageLimit, c.CatchupWindow)
	}
	if c.HeartbeatInterval != time.Minute || c.SubscriberIdleTimeout != 0 {
		t.Errorf("timers = %s %s", c.HeartbeatInterval, c.SubscriberIdleTimeout)
	}
	if c.Queue != QueueJetStream || c.KVBucket != "ledger-events" || c.MaxDeliver != 5 {
		t.Errorf("queue settings = %q %q %d", c.Queue, c.KVBucket, c.MaxDeliver)
	}
	if c.DLQS3Region != "us-east-1" || c.DLQS3Prefix != "dlq/" || c.DLQS3Bucket != "" {
		t.Errorf("dlq = %q %q %q", c.DLQS3Bucket, c.DLQS3Region, c.DLQS3Prefix)
	}
	if lvl, _ := c.SlogLevel(); lvl != slog.LevelInfo {
		t.Errorf("level = %v", lvl)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("EVENTPOLL_RPC_URL", "http://rpc.local:8000")
	t.Setenv("EVENTPOLL_CONTRACT_IDS", " CA1, ,CB2 ")
	t.Setenv("EVENTPOLL_GRPC_ADDR", "")
	t.Setenv("EVENTPOLL_KV_BUCKET", "")
	t.Setenv("EVENTPOLL_QUEUE", "none")
	t.Setenv("EVENTPOLL_STATE_BACKEND", "postgres")
	t.Setenv("EVENTPOLL_DATABASE_URL", "postgres://db/eventpoll")
	t.Setenv("EVENTPOLL_POLL_INTERVAL", "10s")
	t.Setenv("EVENTPOLL_PAGE_LIMIT", "250")
	t.Setenv("EVENTPOLL_CATCHUP_WINDOW", "1")
	t.Setenv("EVENTPOLL_SUBSCRIBER_IDLE_TIMEOUT", "2m")
	t.Setenv("EVENTPOLL_LOG_LEVEL", "debug")
	t.Setenv("EVENTPOLL_LOG_FORMAT", "json")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c.RPCURL != "http://rpc.local:8000" {
		t.Errorf("RPCURL = %q", c.RPCURL)
	}
	if strings.Join(c.ContractIDs, "|") != "CA1|CB2" {
		t.Errorf("ContractIDs = %q", c.ContractIDs)
	}
	if c.GRPCAddr != "" || c.KVBucket != "" {
		t.Errorf("expected empty values to disable grpc and kv, got %q %q", c.GRPCAddr, c.KVBucket)
	}
	if c.Queue != QueueNone {
		t.Errorf("Queue = %q", c.Queue)
	}
	if c.StateBackend != BackendPostgres || c.DatabaseURL != "postgres://db/eventpoll" {
		t.Errorf("state = %q %q", c.StateBackend, c.DatabaseURL)
	}
	if c.PollInterval != 10*time.Second || c.PageLimit != 250 || c.CatchupWindow != 1 {
		t.Errorf("poll settings = %s %d %d", c.PollInterval, c.PageLimit, c.CatchupWindow)
	}
	if c.SubscriberIdleTimeout != 2*time.Minute {
		t.Errorf("idle timeout = %s", c.SubscriberIdleTimeout)
	}
	if lvl, _ := c.SlogLevel(); lvl != slog.LevelDebug {
		t.Errorf("level = %v", lvl)
	}
}

func TestLoad_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"BadDuration", map[string]string{"EVENTPOLL_POLL_INTERVAL": "soon"}, "EVENTPOLL_POLL_INTERVAL"},
		{"ZeroInterval", map[string]string{"EVENTPOLL_POLL_INTERVAL": "0s"}, "EVENTPOLL_POLL_INTERVAL"},
		{"BadPageLimit", map[string]string{"EVENTPOLL_PAGE_LIMIT": "lots"}, "EVENTPOLL_PAGE_LIMIT"},
		{"ZeroWindow", map[string]string{"EVENTPOLL_CATCHUP_WINDOW": "0"}, "EVENTPOLL_CATCHUP_WINDOW"},
		{"UnknownBackend", map[string]string{"EVENTPOLL_STATE_BACKEND": "redis"}, "unknown backend"},
		{"UnknownQueue", map[string]string{"EVENTPOLL_QUEUE": "kafka"}, "EVENTPOLL_QUEUE"},
		{"PostgresWithoutURL", map[string]string{"EVENTPOLL_STATE_BACKEND": "postgres"}, "EVENTPOLL_DATABASE_URL"},
		{"EmptyRPCURL", map[string]string{"EVENTPOLL_RPC_URL": ""}, "EVENTPOLL_RPC_URL"},
		{"ZeroMaxDeliver", map[string]string{"EVENTPOLL_MAX_DELIVER": "0"}, "EVENTPOLL_MAX_DELIVER"},
		{"BadLogLevel", map[string]string{"EVENTPOLL_LOG_LEVEL": "loud"}, "EVENTPOLL_LOG_LEVEL"},
		{"BadLogFormat", map[string]string{"EVENTPOLL_LOG_FORMAT": "xml"}, "EVENTPOLL_LOG_FORMAT"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	clearAllEnv(t)
	path := filepath.Join(t.TempDir(), "eventpoll.toml")
	data := `
rpc_url = "https://rpc.example.org"
contract_ids = ["CA1", "CB2"]
poll_interval = "15s"
page_limit = 50
heartbeat_interval = "0s"
dlq_s3_bucket = "dead-letters"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EVENTPOLL_PAGE_LIMIT", "75")

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if c.RPCURL != "https://rpc.example.org" {
		t.Errorf("RPCURL = %q", c.RPCURL)
	}
	if len(c.ContractIDs) != 2 || c.ContractIDs[1] != "CB2" {
		t.Errorf("ContractIDs = %q", c.ContractIDs)
	}
	if c.PollInterval != 15*time.Second {
		t.Errorf("PollInterval = %s", c.PollInterval)
	}
	if c.PageLimit != 75 {
		t.Errorf("env should override file: PageLimit = %d", c.PageLimit)
	}
	if c.HeartbeatInterval != 0 {
		t.Errorf("HeartbeatInterval = %s", c.HeartbeatInterval)
	}
	if c.DLQS3Bucket != "dead-letters" {
		t.Errorf("DLQS3Bucket = %q", c.DLQS3Bucket)
	}
	if c.HTTPAddr != ":8080" {
		t.Errorf("unset keys keep defaults: HTTPAddr = %q", c.HTTPAddr)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	clearAllEnv(t)

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("page_limit = \"many\""), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for mistyped value")
	}
}
