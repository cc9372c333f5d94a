package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/deskora/deskora/internal/domain"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigin   string

	// Upstream ticket system
	UpstreamBaseURL      string
	UpstreamAppToken     string
	UpstreamUserToken    string
	UpstreamTimeout      time.Duration
	UpstreamPageSize     int
	UpstreamMaxRetries   int
	UpstreamRetryBackoff time.Duration
	SessionTTL           time.Duration
	SessionMargin        time.Duration

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration

	// Aggregation
	AggregateConcurrency     int
	AggregateFailureFraction float64
	AggregateDeadline        time.Duration

	// Cache
	CacheBackend   string
	RedisURL       string
	SnapshotTTL    time.Duration
	RankingTTL     time.Duration
	TechniciansTTL time.Duration

	// History
	HistoryEnabled bool
	DatabaseURL    string

	// Level mapping: upstream group ID to support tier
	LevelGroups map[int]domain.TechLevel

	// Logging
	LogLevel  string
	LogFormat string

	Environment string
}

var (
	ErrMissingBaseURL    = errors.New("UPSTREAM_BASE_URL is required")
	ErrMissingAppToken   = errors.New("UPSTREAM_APP_TOKEN is required")
	ErrMissingUserToken  = errors.New("UPSTREAM_USER_TOKEN is required")
	ErrMissingLevelGroups = errors.New("LEVEL_GROUPS is required")
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required when HISTORY_ENABLED is true")
	ErrMissingRedisURL    = errors.New("REDIS_URL is required when CACHE_BACKEND is redis")
)

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	levelGroups, err := parseLevelGroups(os.Getenv("LEVEL_GROUPS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerPort:   getEnvOrDefault("SERVER_PORT", "8080"),
		ReadTimeout:  getEnvOrDefaultDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout: getEnvOrDefaultDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:  getEnvOrDefaultDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		CORSOrigin:   getEnvOrDefault("CORS_ORIGIN", "*"),

		UpstreamBaseURL:      strings.TrimRight(os.Getenv("UPSTREAM_BASE_URL"), "/"),
		UpstreamAppToken:     os.Getenv("UPSTREAM_APP_TOKEN"),
		UpstreamUserToken:    os.Getenv("UPSTREAM_USER_TOKEN"),
		UpstreamTimeout:      getEnvOrDefaultDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		UpstreamPageSize:     getEnvOrDefaultInt("UPSTREAM_PAGE_SIZE", 200),
		UpstreamMaxRetries:   getEnvOrDefaultInt("UPSTREAM_MAX_RETRIES", 2),
		UpstreamRetryBackoff: getEnvOrDefaultDuration("UPSTREAM_RETRY_BACKOFF", 200*time.Millisecond),
		SessionTTL:           getEnvOrDefaultDuration("UPSTREAM_SESSION_TTL", time.Hour),
		SessionMargin:        getEnvOrDefaultDuration("UPSTREAM_SESSION_MARGIN", 5*time.Minute),

		BreakerFailureThreshold: getEnvOrDefaultInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerOpenTimeout:      getEnvOrDefaultDuration("BREAKER_OPEN_TIMEOUT", 60*time.Second),

		AggregateConcurrency:     getEnvOrDefaultInt("AGGREGATE_CONCURRENCY", 5),
		AggregateFailureFraction: getEnvOrDefaultFloat("AGGREGATE_FAILURE_FRACTION", 0.5),
		AggregateDeadline:        getEnvOrDefaultDuration("AGGREGATE_DEADLINE", 30*time.Second),

		CacheBackend:   getEnvOrDefault("CACHE_BACKEND", "memory"),
		RedisURL:       os.Getenv("REDIS_URL"),
		SnapshotTTL:    getEnvOrDefaultDuration("CACHE_SNAPSHOT_TTL", 5*time.Minute),
		RankingTTL:     getEnvOrDefaultDuration("CACHE_RANKING_TTL", 5*time.Minute),
		TechniciansTTL: getEnvOrDefaultDuration("CACHE_TECHNICIANS_TTL", 15*time.Minute),

		HistoryEnabled: getEnvOrDefaultBool("HISTORY_ENABLED", false),
		DatabaseURL:    os.Getenv("DATABASE_URL"),

		LevelGroups: levelGroups,

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),

		Environment: getEnvOrDefault("ENV", "development"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.UpstreamBaseURL == "" {
		return ErrMissingBaseURL
	}
	if c.UpstreamAppToken == "" {
		return ErrMissingAppToken
	}
	if c.UpstreamUserToken == "" {
		return ErrMissingUserToken
	}
	if len(c.LevelGroups) == 0 {
		return ErrMissingLevelGroups
	}
	if c.HistoryEnabled && c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.CacheBackend == "redis" && c.RedisURL == "" {
		return ErrMissingRedisURL
	}
	if c.CacheBackend != "memory" && c.CacheBackend != "redis" {
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	return nil
}

// parseLevelGroups reads "N1:10,N1:12,N2:11" into a group-to-level map.
func parseLevelGroups(raw string) (map[int]domain.TechLevel, error) {
	if raw == "" {
		return nil, nil
	}
	groups := make(map[int]domain.TechLevel)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid LEVEL_GROUPS entry %q", pair)
		}
		level := domain.TechLevel(strings.ToUpper(strings.TrimSpace(parts[0])))
		if !domain.IsValidLevel(level) {
			return nil, fmt.Errorf("invalid level %q in LEVEL_GROUPS", parts[0])
		}
		groupID, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid group id %q in LEVEL_GROUPS", parts[1])
		}
		groups[groupID] = level
	}
	return groups, nil
}

func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvOrDefaultInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvOrDefaultFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvOrDefaultBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
