package main

import (
	stderrors "errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/octerm/octerm-hub/pkg/connection"
	"github.com/octerm/octerm-hub/pkg/forward"
	"github.com/octerm/octerm-hub/pkg/heartbeat"
	"github.com/octerm/octerm-hub/pkg/logsink"
	"github.com/octerm/octerm-hub/pkg/transport"
)

type Config struct {
	ListenAddress string
	WsEndpoint    string

	DatabaseURL       string
	RedisURL          string
	NatsURL           string
	NatsSubjectPrefix string

	HeartbeatInterval time.Duration
	HeartbeatGrace    time.Duration
	InboxCapacity     int
	MaxMessageSize    int64
	WriteWait         time.Duration
	ApiKeyHeader      string
	AllowedOrigins    []string
	LogQueueSize      int
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadConfig parses command line flags. Connection URLs and the listen port
// default to their environment variables.
func LoadConfig(args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("octerm-hub", flag.ContinueOnError)

	port := envOr(getenv, "PORT", "3000")
	fs.StringVar(&cfg.ListenAddress, "listen", ":"+port, "Address the HTTP server listens on")
	fs.StringVar(&cfg.WsEndpoint, "ws-endpoint", "/api/ws", "HTTP endpoint that accepts client WebSocket connections")

	fs.StringVar(&cfg.DatabaseURL, "database-url", getenv("DATABASE_URL"), "Postgres connection URL")
	fs.StringVar(&cfg.RedisURL, "redis-url", getenv("REDIS_URL"), "Redis URL for presence tracking (optional)")
	fs.StringVar(&cfg.NatsURL, "nats-url", getenv("NATS_URL"), "NATS URL for forwarding client commands (optional)")
	fs.StringVar(&cfg.NatsSubjectPrefix, "nats-subject-prefix", forward.DefaultSubjectPrefix, "Subject prefix for forwarded client commands")

	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", heartbeat.DefaultInterval, "Time between liveness probes")
	fs.DurationVar(&cfg.HeartbeatGrace, "heartbeat-grace", heartbeat.DefaultGrace, "How long a client has to answer a probe")
	fs.IntVar(&cfg.InboxCapacity, "inbox-capacity", connection.DefaultInboxCapacity, "Frames buffered per connection")
	fs.Int64Var(&cfg.MaxMessageSize, "max-message-size", transport.DefaultMaxReadMessageSize, "Largest client frame in bytes before the connection is closed")
	fs.DurationVar(&cfg.WriteWait, "write-wait", transport.DefaultWriteWait, "Write deadline for outbound frames")
	fs.StringVar(&cfg.ApiKeyHeader, "api-key-header", transport.DefaultApiKeyHeader, "Header carrying the client access token")
	origins := fs.String("allowed-origins", "", "Comma separated Origin allowlist; empty allows all")
	fs.IntVar(&cfg.LogQueueSize, "log-queue-size", logsink.DefaultQueueSize, "Client log lines buffered before persistence")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	for _, o := range strings.Split(*origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return stderrors.New("a database URL is required (-database-url or DATABASE_URL)")
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatGrace <= 0 {
		return stderrors.New("heartbeat interval and grace must be positive")
	}
	if c.HeartbeatGrace >= c.HeartbeatInterval {
		return fmt.Errorf("heartbeat grace (%s) must be shorter than the interval (%s)", c.HeartbeatGrace, c.HeartbeatInterval)
	}
	if c.InboxCapacity <= 0 {
		return fmt.Errorf("inbox capacity must be positive, got %d", c.InboxCapacity)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive, got %d", c.MaxMessageSize)
	}
	return nil
}
