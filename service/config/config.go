package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StartSlotPolicy controls what the windowed poller does when it cannot
// determine the chain tip at startup.
type StartSlotPolicy string

const (
	// StartSlotAbort refuses to start.
	StartSlotAbort StartSlotPolicy = "abort"
	// StartSlotZero starts from slot 0.
	StartSlotZero StartSlotPolicy = "zero"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	LogLevel    string
	MetricsAddr string

	// Solana configuration
	SolanaRPCURL string
	SolanaWSURL  string
	Commitment   string
	TxEncoding   string
	DecodeBinary bool

	// Polling configuration
	WindowSize      uint64
	PollInterval    time.Duration
	StartSlot       *uint64
	StartSlotPolicy StartSlotPolicy

	// Cursor persistence
	CursorStoreURL string
	CursorKey      string

	// Peer discovery
	GossipEntrypoint string
	GossipBindAddr   string

	// Sinks
	NATSURL      string
	KafkaBrokers []string
	KafkaTopic   string
	OTelEndpoint string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

var validEncodings = map[string]bool{
	"json":        true,
	"jsonParsed":  true,
	"base58":      true,
	"base64":      true,
	"base64+zstd": true,
}

// LoadDotEnv loads a .env file from the working directory if one exists.
// Values already present in the environment win.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.SolanaRPCURL = getEnvOrDefault("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	cfg.SolanaWSURL = getEnvOrDefault("SOLANA_WS_URL", WebsocketURL(cfg.SolanaRPCURL))
	cfg.Commitment = getEnvOrDefault("COMMITMENT", "confirmed")
	cfg.TxEncoding = getEnvOrDefault("TX_ENCODING", "jsonParsed")

	decode, err := parseBool("DECODE_BINARY", false)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.DecodeBinary = decode

	windowSize, err := parseInt("WINDOW_SIZE", 10)
	if err != nil {
		errs = append(errs, err)
	} else if windowSize <= 0 {
		errs = append(errs, fmt.Errorf("WINDOW_SIZE must be positive, got %d", windowSize))
	} else {
		cfg.WindowSize = uint64(windowSize)
	}

	interval, err := parseDuration("POLL_INTERVAL", "5s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollInterval = interval
	}

	if v := os.Getenv("START_SLOT"); v != "" {
		slot, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("START_SLOT: invalid slot %q: %w", v, err))
		} else {
			cfg.StartSlot = &slot
		}
	}
	cfg.StartSlotPolicy = StartSlotPolicy(getEnvOrDefault("START_SLOT_POLICY", string(StartSlotAbort)))

	cfg.CursorStoreURL = getEnvOrDefault("CURSOR_STORE_URL", "memory://")
	cfg.CursorKey = os.Getenv("CURSOR_KEY")

	cfg.GossipEntrypoint = getEnvOrDefault("GOSSIP_ENTRYPOINT", "entrypoint.devnet.solana.com:8001")
	cfg.GossipBindAddr = getEnvOrDefault("GOSSIP_BIND_ADDR", "0.0.0.0:0")

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.KafkaTopic = os.Getenv("KAFKA_TOPIC")
	cfg.OTelEndpoint = os.Getenv("OTEL_ENDPOINT")

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "slotwatch-poll")

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.SolanaRPCURL == "" {
		errs = append(errs, errors.New("SolanaRPCURL is required"))
	}

	if !validCommitments[c.Commitment] {
		errs = append(errs, fmt.Errorf("invalid commitment %q", c.Commitment))
	}

	if !validEncodings[c.TxEncoding] {
		errs = append(errs, fmt.Errorf("invalid transaction encoding %q", c.TxEncoding))
	}

	if c.WindowSize == 0 {
		errs = append(errs, errors.New("WindowSize must be positive"))
	}

	if c.PollInterval < 0 {
		errs = append(errs, errors.New("PollInterval cannot be negative"))
	}

	switch c.StartSlotPolicy {
	case StartSlotAbort, StartSlotZero:
	default:
		errs = append(errs, fmt.Errorf("invalid start slot policy %q", c.StartSlotPolicy))
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KafkaTopic is required when KafkaBrokers is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// CursorKeyOrDefault returns the configured cursor key, or one derived from the RPC host.
func (c *Config) CursorKeyOrDefault() string {
	if c.CursorKey != "" {
		return c.CursorKey
	}
	return "slotwatch:" + EndpointLabel(c.SolanaRPCURL)
}

// WebsocketURL derives the pubsub endpoint from an RPC URL the same way the
// Solana CLI does: http(s) becomes ws(s).
func WebsocketURL(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	}
	return rpcURL
}

// EndpointLabel reduces an RPC URL to its host for use as a metrics label.
func EndpointLabel(rpcURL string) string {
	s := rpcURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		s = s[:i]
	}
	return s
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
