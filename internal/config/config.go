package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MKuranowski/go-extra-lib/container/set"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the poller service
type Config struct {
	AppEnv   string `validate:"oneof=dev prod"`
	LogLevel slog.Level

	// Store: SQLite path or postgres:// URL
	DatabasePath string `validate:"required"`
	EnsureSchema bool

	// Feed
	FeedBaseURL string        `validate:"required,url"`
	FeedAgency  string        `validate:"required"`
	FeedTimeout time.Duration `validate:"gt=0"`

	// Polling
	RouteTags    []string      `validate:"required,min=1,dive,required"`
	PollBaseWait time.Duration `validate:"gt=0"`
	PollSpread   time.Duration `validate:"gte=0"`
	InitialWait  time.Duration `validate:"gt=0"`
	Lookback     time.Duration `validate:"gt=0"`

	StatsInterval time.Duration `validate:"gte=0"`
}

// fileConfig is the YAML shape; durations are plain numbers like the env vars.
type fileConfig struct {
	AppEnv               string   `yaml:"app_env"`
	LogLevel             string   `yaml:"log_level"`
	DatabasePath         string   `yaml:"database_path"`
	EnsureSchema         *bool    `yaml:"ensure_schema"`
	FeedBaseURL          string   `yaml:"feed_base_url"`
	FeedAgency           string   `yaml:"feed_agency"`
	FeedTimeoutSecs      int      `yaml:"feed_timeout_secs"`
	RouteTags            []string `yaml:"route_tags"`
	PollBaseWaitSecs     int      `yaml:"poll_base_wait_secs"`
	PollSpreadSecs       *int     `yaml:"poll_spread_secs"`
	PollInitialWaitSecs  *int     `yaml:"poll_initial_wait_secs"`
	PollLookbackMinutes  int      `yaml:"poll_lookback_minutes"`
	StatsIntervalMinutes *int     `yaml:"stats_interval_minutes"`
}

// Defaults returns the built-in configuration
func Defaults() Config {
	return Config{
		AppEnv:        "dev",
		LogLevel:      slog.LevelInfo,
		DatabasePath:  "/data/muni.db",
		FeedBaseURL:   "http://webservices.nextbus.com/service/publicJSONFeed",
		FeedAgency:    "sf-muni",
		FeedTimeout:   30 * time.Second,
		RouteTags:     []string{"J", "N", "M", "K"},
		PollBaseWait:  60 * time.Second,
		PollSpread:    10 * time.Second,
		InitialWait:   7 * time.Second,
		Lookback:      5 * time.Minute,
		StatsInterval: 10 * time.Minute,
	}
}

// LoadDotEnv reads .env and then .env.local from the working directory into
// the environment. Missing files are skipped. Variables already set in the
// process win over .env; .env.local overrides both.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables, and validates the result.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the wait window.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.PollSpread > 2*c.PollBaseWait {
		return fmt.Errorf("invalid config: poll spread %v exceeds twice the base wait %v", c.PollSpread, c.PollBaseWait)
	}
	return nil
}

// RouteSet returns the configured route tags as a set.
func (c *Config) RouteSet() set.Set[string] {
	s := make(set.Set[string], len(c.RouteTags))
	for _, tag := range c.RouteTags {
		s[tag] = struct{}{}
	}
	return s
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if f.AppEnv != "" {
		cfg.AppEnv = f.AppEnv
	}
	if f.LogLevel != "" {
		level, err := parseLogLevel(f.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if f.DatabasePath != "" {
		cfg.DatabasePath = f.DatabasePath
	}
	if f.EnsureSchema != nil {
		cfg.EnsureSchema = *f.EnsureSchema
	}
	if f.FeedBaseURL != "" {
		cfg.FeedBaseURL = f.FeedBaseURL
	}
	if f.FeedAgency != "" {
		cfg.FeedAgency = f.FeedAgency
	}
	if f.FeedTimeoutSecs != 0 {
		cfg.FeedTimeout = time.Duration(f.FeedTimeoutSecs) * time.Second
	}
	if len(f.RouteTags) > 0 {
		cfg.RouteTags = f.RouteTags
	}
	if f.PollBaseWaitSecs != 0 {
		cfg.PollBaseWait = time.Duration(f.PollBaseWaitSecs) * time.Second
	}
	if f.PollSpreadSecs != nil {
		cfg.PollSpread = time.Duration(*f.PollSpreadSecs) * time.Second
	}
	if f.PollInitialWaitSecs != nil {
		cfg.InitialWait = time.Duration(*f.PollInitialWaitSecs) * time.Second
	}
	if f.PollLookbackMinutes != 0 {
		cfg.Lookback = time.Duration(f.PollLookbackMinutes) * time.Minute
	}
	if f.StatsIntervalMinutes != nil {
		cfg.StatsInterval = time.Duration(*f.StatsIntervalMinutes) * time.Minute
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.AppEnv = getEnv("APP_ENV", cfg.AppEnv)
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}

	cfg.DatabasePath = getEnv("DATABASE_PATH", cfg.DatabasePath)
	if v := getEnv("ENSURE_SCHEMA", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ENSURE_SCHEMA %q: %w", v, err)
		}
		cfg.EnsureSchema = b
	}

	cfg.FeedBaseURL = getEnv("FEED_BASE_URL", cfg.FeedBaseURL)
	cfg.FeedAgency = getEnv("FEED_AGENCY", cfg.FeedAgency)
	cfg.FeedTimeout = getEnvDuration("FEED_TIMEOUT_SECS", cfg.FeedTimeout, time.Second)

	if v := getEnv("ROUTE_TAGS", ""); v != "" {
		cfg.RouteTags = splitTags(v)
	}
	cfg.PollBaseWait = getEnvDuration("POLL_BASE_WAIT_SECS", cfg.PollBaseWait, time.Second)
	cfg.PollSpread = getEnvDuration("POLL_SPREAD_SECS", cfg.PollSpread, time.Second)
	cfg.InitialWait = getEnvDuration("POLL_INITIAL_WAIT_SECS", cfg.InitialWait, time.Second)
	cfg.Lookback = getEnvDuration("POLL_LOOKBACK_MINUTES", cfg.Lookback, time.Minute)
	cfg.StatsInterval = getEnvDuration("STATS_INTERVAL_MINUTES", cfg.StatsInterval, time.Minute)
	return nil
}

func splitTags(s string) []string {
	var tags []string
	for _, part := range strings.Split(s, ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue, unit time.Duration) time.Duration {
	n := getEnvInt(key, -1)
	if n < 0 {
		return defaultValue
	}
	return time.Duration(n) * unit
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
