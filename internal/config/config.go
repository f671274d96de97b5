package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/charleschow/matchsync/internal/core/queue"
	"github.com/charleschow/matchsync/internal/core/session"
)

type Config struct {
	// Event store
	StoreURL       string
	RealtimeURL    string
	StoreRateLimit int

	// Auth
	AuthSecret string
	AuthToken  string

	// Local files
	OutboxPath string
	RulesPath  string
	RosterPath string

	// Viewer fanout + /metrics
	FanoutPort int

	// Sync
	AckTimeout         time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	MaxRetryBackoff    time.Duration
	DuplicateTolerance time.Duration
	PageSize           int

	// Telemetry
	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		StoreURL:       envStr("EVENTSTORE_URL", "http://localhost:8090"),
		RealtimeURL:    envStr("EVENTSTORE_WS_URL", "ws://localhost:8090/ws"),
		StoreRateLimit: envInt("EVENTSTORE_RATE_LIMIT", 20),

		AuthSecret: envStr("AUTH_SECRET", ""),
		AuthToken:  envStr("AUTH_TOKEN", ""),

		OutboxPath: envStr("OUTBOX_PATH", "data/outbox.db"),
		RulesPath:  envStr("COMPETITION_RULES_PATH", "internal/config/competition_rules.yaml"),
		RosterPath: envStr("ROSTER_PATH", ""),

		FanoutPort: envInt("FANOUT_PORT", 8100),

		// An unanswered submission is retried after AckTimeout, up to
		// MaxRetries times, with backoff doubling up to MaxRetryBackoff.
		AckTimeout:      envDuration("ACK_TIMEOUT", 10*time.Second),
		MaxRetries:      envInt("MAX_RETRIES", 3),
		RetryBackoff:    envDuration("RETRY_BACKOFF", 500*time.Millisecond),
		MaxRetryBackoff: envDuration("MAX_RETRY_BACKOFF", 8*time.Second),

		DuplicateTolerance: envDuration("DUPLICATE_TOLERANCE", 500*time.Millisecond),
		PageSize:           envInt("PAGE_SIZE", 100),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

// Session builds the per-match session config from the environment and
// the competition rules.
func (c *Config) Session(rules CompetitionRules) session.Config {
	cfg := session.DefaultConfig()
	cfg.Queue = queue.Config{
		AckTimeout: c.AckTimeout,
		MaxRetries: c.MaxRetries,
		Backoff:    c.RetryBackoff,
		MaxBackoff: c.MaxRetryBackoff,
	}
	cfg.Limits = rules.PeriodLimits()
	cfg.Substitutions = rules.SubstitutionLimits()
	cfg.DuplicateTolerance = c.DuplicateTolerance
	if c.PageSize > 0 {
		cfg.PageSize = c.PageSize
	}
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go durations ("750ms") or bare seconds ("10").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
