package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the dialogue service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogPretty bool

	// AssistantConfigPath points at the assistant YAML. Empty uses the
	// embedded default assistant.
	AssistantConfigPath string

	SessionStore           string
	SessionStoreDir        string
	SQLitePath             string
	DatabaseURL            string
	SessionMaxEventHistory int
	SessionExpiration      time.Duration
	SessionSweepInterval   time.Duration

	MaxNumberOfPredictions int
	ActionTimeout          time.Duration
	PolicyTimeout          time.Duration

	WeatherAPIURL  string
	WSWriteTimeout time.Duration
}

const (
	StoreAuto     = "auto"
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:               envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:       envOrDefault("APP_METRICS_NAMESPACE", "converse"),
		LogLevel:               envOrDefault("APP_LOG_LEVEL", "INFO"),
		AssistantConfigPath:    trimmedEnv("ASSISTANT_CONFIG_PATH"),
		SessionStore:           strings.ToLower(envOrDefault("SESSION_STORE", StoreAuto)),
		SessionStoreDir:        envOrDefault("SESSION_STORE_DIR", "./data/sessions"),
		SQLitePath:             envOrDefault("SQLITE_PATH", "./data/converse.db"),
		DatabaseURL:            trimmedEnv("DATABASE_URL"),
		WeatherAPIURL:          trimmedEnv("WEATHER_API_URL"),
		ShutdownTimeout:        15 * time.Second,
		SessionExpiration:      72 * time.Hour,
		SessionSweepInterval:   10 * time.Minute,
		MaxNumberOfPredictions: 100,
		ActionTimeout:          30 * time.Second,
		PolicyTimeout:          60 * time.Second,
		WSWriteTimeout:         10 * time.Second,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.LogPretty, err = boolFromEnv("APP_LOG_PRETTY", cfg.LogPretty); err != nil {
		return Config{}, err
	}
	if cfg.SessionMaxEventHistory, err = intFromEnv("SESSION_MAX_EVENT_HISTORY", cfg.SessionMaxEventHistory); err != nil {
		return Config{}, err
	}
	if cfg.SessionExpiration, err = durationFromEnv("SESSION_EXPIRATION", cfg.SessionExpiration); err != nil {
		return Config{}, err
	}
	if cfg.SessionSweepInterval, err = durationFromEnv("SESSION_SWEEP_INTERVAL", cfg.SessionSweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.MaxNumberOfPredictions, err = intFromEnv("MAX_NUMBER_OF_PREDICTIONS", cfg.MaxNumberOfPredictions); err != nil {
		return Config{}, err
	}
	if cfg.ActionTimeout, err = durationFromEnv("ACTION_TIMEOUT", cfg.ActionTimeout); err != nil {
		return Config{}, err
	}
	if cfg.PolicyTimeout, err = durationFromEnv("POLICY_TIMEOUT", cfg.PolicyTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WSWriteTimeout, err = durationFromEnv("WS_WRITE_TIMEOUT", cfg.WSWriteTimeout); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.MaxNumberOfPredictions <= 0 {
		return fmt.Errorf("MAX_NUMBER_OF_PREDICTIONS must be positive")
	}
	if c.ActionTimeout <= 0 {
		return fmt.Errorf("ACTION_TIMEOUT must be positive")
	}
	if c.PolicyTimeout <= 0 {
		return fmt.Errorf("POLICY_TIMEOUT must be positive")
	}
	if c.SessionMaxEventHistory < 0 {
		return fmt.Errorf("SESSION_MAX_EVENT_HISTORY must be >= 0")
	}
	switch c.SessionStore {
	case StoreAuto, StoreMemory, StoreFile, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("SESSION_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("SESSION_STORE %q is not one of auto, memory, file, sqlite, postgres", c.SessionStore)
	}
	return nil
}

// ResolvedStore turns "auto" into a concrete backend.
func (c Config) ResolvedStore() string {
	if c.SessionStore != StoreAuto {
		return c.SessionStore
	}
	if c.DatabaseURL != "" {
		return StorePostgres
	}
	return StoreMemory
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
