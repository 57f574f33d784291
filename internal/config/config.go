// Package config loads the capital core's configuration from environment
// variables. Every knob has a conservative default except the total budget,
// which must be set explicitly: nothing spends money by accident.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/money"
)

// Environment variable names.
const (
	EnvAppEnv            = "APP_ENV"
	EnvDataDir           = "CAPITAL_DATA_DIR"
	EnvTotalBudget       = "CAPITAL_TOTAL_BUDGET"
	EnvLearningRatio     = "CAPITAL_LEARNING_RATIO"
	EnvOperationalRatio  = "CAPITAL_OPERATIONAL_RATIO"
	EnvReserveRatio      = "CAPITAL_RESERVE_RATIO"
	EnvDay1Cap           = "CAPITAL_DAY1_CAP"
	EnvLifetimeCap       = "CAPITAL_LIFETIME_CAP"
	EnvSafetyBuffer      = "CAPITAL_SAFETY_BUFFER"
	EnvIdempotencyDB     = "CAPITAL_IDEMPOTENCY_DB"
	EnvIdempotencyTTL    = "CAPITAL_IDEMPOTENCY_TTL_HOURS"
	EnvEventBatchSize    = "CAPITAL_EVENT_BATCH_SIZE"
	EnvEventMaxFileBytes = "CAPITAL_EVENT_MAX_FILE_BYTES"
	EnvEventFlushSeconds = "CAPITAL_EVENT_FLUSH_SECONDS"
	EnvPostgresURL       = "CAPITAL_POSTGRES_URL"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	DataDir     string

	TotalBudget      decimal.Decimal
	LearningRatio    decimal.Decimal
	OperationalRatio decimal.Decimal
	ReserveRatio     decimal.Decimal

	Day1Cap      decimal.Decimal
	LifetimeCap  decimal.Decimal
	SafetyBuffer decimal.Decimal

	IdempotencyDB  string
	IdempotencyTTL time.Duration

	EventBatchSize    int
	EventMaxFileBytes int64
	EventFlushEvery   time.Duration

	// PostgresURL is optional; when set, journal entries are mirrored to
	// PostgreSQL in addition to the NDJSON file.
	PostgresURL string
}

// VaultStatePath is where the vault snapshot lives.
func (c *Config) VaultStatePath() string {
	return filepath.Join(c.DataDir, "vault_state.json")
}

// JournalPath is the double-entry ledger file.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "ledger.ndjson")
}

// EventDir is the directory holding the rotating event files.
func (c *Config) EventDir() string {
	return filepath.Join(c.DataDir, "events")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getenv(EnvAppEnv, "development"),
		DataDir:     getenv(EnvDataDir, "data"),
		PostgresURL: os.Getenv(EnvPostgresURL),
	}

	var invalid []string
	parseMoney := func(key, fallback string) decimal.Decimal {
		raw := getenv(key, fallback)
		d, err := money.FromString(raw)
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("%s=%q", key, raw))
			return money.Zero
		}
		return d
	}
	parseRatio := func(key, fallback string) decimal.Decimal {
		raw := getenv(key, fallback)
		d, err := decimal.NewFromString(raw)
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("%s=%q", key, raw))
			return decimal.Zero
		}
		return d
	}
	parseInt := func(key, fallback string) int64 {
		raw := getenv(key, fallback)
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("%s=%q", key, raw))
			return 0
		}
		return n
	}

	if os.Getenv(EnvTotalBudget) != "" {
		cfg.TotalBudget = parseMoney(EnvTotalBudget, "")
	}
	cfg.LearningRatio = parseRatio(EnvLearningRatio, "0.30")
	cfg.OperationalRatio = parseRatio(EnvOperationalRatio, "0.55")
	cfg.ReserveRatio = parseRatio(EnvReserveRatio, "0.15")
	cfg.Day1Cap = parseMoney(EnvDay1Cap, "10.00")
	cfg.LifetimeCap = parseMoney(EnvLifetimeCap, "30.00")
	cfg.SafetyBuffer = parseMoney(EnvSafetyBuffer, "0.00")

	cfg.IdempotencyDB = getenv(EnvIdempotencyDB, filepath.Join(cfg.DataDir, "idempotency.db"))
	cfg.IdempotencyTTL = time.Duration(parseInt(EnvIdempotencyTTL, "24")) * time.Hour
	cfg.EventBatchSize = int(parseInt(EnvEventBatchSize, "50"))
	cfg.EventMaxFileBytes = parseInt(EnvEventMaxFileBytes, "5242880")
	cfg.EventFlushEvery = time.Duration(parseInt(EnvEventFlushSeconds, "5")) * time.Second

	if len(invalid) > 0 {
		return nil, errors.New("invalid environment variables: " + strings.Join(invalid, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is complete and coherent.
func (c *Config) Validate() error {
	var missing []string
	if c.DataDir == "" {
		missing = append(missing, EnvDataDir)
	}
	if c.TotalBudget.IsZero() {
		missing = append(missing, EnvTotalBudget)
	}
	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	if c.TotalBudget.IsNegative() {
		return fmt.Errorf("total budget must be positive, got %s", c.TotalBudget.StringFixed(2))
	}
	ratioSum := c.LearningRatio.Add(c.OperationalRatio).Add(c.ReserveRatio)
	if !ratioSum.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("pool split ratios must sum to exactly 1.00, got %s", ratioSum)
	}
	if c.Day1Cap.IsNegative() || c.LifetimeCap.IsNegative() {
		return errors.New("product caps must not be negative")
	}
	if c.Day1Cap.GreaterThan(c.LifetimeCap) {
		return fmt.Errorf("day-1 cap %s exceeds lifetime cap %s",
			c.Day1Cap.StringFixed(2), c.LifetimeCap.StringFixed(2))
	}
	if c.SafetyBuffer.IsNegative() {
		return errors.New("safety buffer must not be negative")
	}
	if c.IdempotencyTTL <= 0 {
		return errors.New("idempotency TTL must be positive")
	}
	if c.EventBatchSize < 1 {
		return errors.New("event batch size must be at least 1")
	}
	if c.EventMaxFileBytes < 1 {
		return errors.New("event max file size must be positive")
	}
	if c.EventFlushEvery <= 0 {
		return errors.New("event flush interval must be positive")
	}
	return nil
}
