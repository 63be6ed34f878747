package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"finrank/internal/core"
	"finrank/internal/services"
)

type Config struct {
	// HTTP Server
	Port                       string        `env:"PORT" envDefault:"8081"`
	ShutdownTimeout            time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	RateLimitRequestsPerMinute int           `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" envDefault:"120"`
	LogLevel                   slog.Level    `env:"LOG_LEVEL" envDefault:"INFO"`

	// Storage
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"sqlite"`
	SQLiteDBPath   string `env:"SQLITE_DB_PATH" envDefault:"./data/finrank.db"`

	// AMQP. An empty URL applies events synchronously.
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"finrank"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"score_events"`

	// Leaderboard cache
	CacheBackend string        `env:"CACHE_BACKEND" envDefault:"memory"`
	RedisURL     string        `env:"REDIS_URL"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	CacheSize    int           `env:"CACHE_SIZE" envDefault:"512"`

	// Google Sheets season archive (optional)
	GoogleSpreadsheetID string `env:"GOOGLE_SPREADSHEET_ID"`

	// Badge and achievement catalog. Empty uses the embedded one.
	CatalogPath string `env:"CATALOG_PATH"`

	// Seasons
	SeasonLength         time.Duration   `env:"SEASON_LENGTH" envDefault:"2160h"`
	SeasonCarryOverRatio decimal.Decimal `env:"SEASON_CARRY_OVER_RATIO" envDefault:"0.5"`
	SeasonFirstStart     time.Time       `env:"SEASON_FIRST_START"`
	SeasonCron           string          `env:"SEASON_CRON" envDefault:"5 0 * * *"`
	RolloverConcurrency  int             `env:"ROLLOVER_CONCURRENCY" envDefault:"8"`

	// Scoring
	PointsTransaction   int64   `env:"POINTS_TRANSACTION" envDefault:"10"`
	PointsGoalCompleted int64   `env:"POINTS_GOAL_COMPLETED" envDefault:"50"`
	PointsLoginPerDay   int64   `env:"POINTS_LOGIN_PER_DAY" envDefault:"5"`
	StreakCap           int     `env:"STREAK_CAP" envDefault:"30"`
	LeagueThresholds    []int64 `env:"LEAGUE_THRESHOLDS" envDefault:"0,500,1500,4000,10000" envSeparator:","`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config from environment: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.ShutdownTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be positive", c.ShutdownTimeout))
	}
	if c.RateLimitRequestsPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitRequestsPerMinute))
	}

	// Validate storage backend
	validBackends := []string{"memory", "sqlite"}
	if !slices.Contains(validBackends, c.StorageBackend) {
		errors = append(errors, fmt.Sprintf("invalid storage backend '%s': must be one of %v", c.StorageBackend, validBackends))
	}

	if c.StorageBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate cache
	validCaches := []string{"memory", "redis", "none"}
	if !slices.Contains(validCaches, c.CacheBackend) {
		errors = append(errors, fmt.Sprintf("invalid cache backend '%s': must be one of %v", c.CacheBackend, validCaches))
	}
	if c.CacheBackend == "redis" && c.RedisURL == "" {
		errors = append(errors, "REDIS_URL is required when using redis cache backend")
	}
	if c.CacheBackend != "none" && c.CacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be positive", c.CacheTTL))
	}
	if c.CacheBackend == "memory" && c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}

	if c.CatalogPath != "" {
		if _, err := os.Stat(c.CatalogPath); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("catalog file does not exist: %s", c.CatalogPath))
		}
	}

	// Validate seasons
	if c.SeasonLength < 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid season length %v: must be at least 24 hours", c.SeasonLength))
	}
	if c.SeasonCarryOverRatio.IsNegative() || c.SeasonCarryOverRatio.GreaterThan(decimal.NewFromInt(1)) {
		errors = append(errors, fmt.Sprintf("invalid carry-over ratio %s: must be between 0 and 1", c.SeasonCarryOverRatio))
	}
	if c.RolloverConcurrency < 1 || c.RolloverConcurrency > 256 {
		errors = append(errors, fmt.Sprintf("invalid rollover concurrency %d: must be between 1 and 256", c.RolloverConcurrency))
	}
	if _, err := cron.ParseStandard(c.SeasonCron); err != nil {
		errors = append(errors, fmt.Sprintf("invalid season cron '%s': %v", c.SeasonCron, err))
	}

	// Validate scoring rules
	if _, err := c.Rules(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Rules builds the scoring rules from the point and league settings.
func (c *Config) Rules() (core.Rules, error) {
	var leagues core.LeagueThresholds
	if len(c.LeagueThresholds) != len(leagues) {
		return core.Rules{}, fmt.Errorf("%w: expected %d league thresholds, got %d",
			core.ErrInvalidRules, len(leagues), len(c.LeagueThresholds))
	}
	copy(leagues[:], c.LeagueThresholds)

	rules := core.Rules{
		Points: core.PointTable{
			Transaction:   c.PointsTransaction,
			GoalCompleted: c.PointsGoalCompleted,
			LoginPerDay:   c.PointsLoginPerDay,
			StreakCap:     c.StreakCap,
		},
		Leagues: leagues,
	}
	if err := rules.Validate(); err != nil {
		return core.Rules{}, err
	}
	return rules, nil
}

func (c *Config) SeasonConfig() services.SeasonConfig {
	return services.SeasonConfig{
		Length:         c.SeasonLength,
		CarryOverRatio: c.SeasonCarryOverRatio,
		Concurrency:    c.RolloverConcurrency,
		FirstStart:     c.SeasonFirstStart.UTC(),
	}
}
