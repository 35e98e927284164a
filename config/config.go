// Package config loads TruthRank configuration from defaults, an optional
// YAML file and TRUTHRANK_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/truthrank/truthrank/internal/infrastructure/persistence/postgres"
	"github.com/truthrank/truthrank/internal/infrastructure/persistence/redis"
	"github.com/truthrank/truthrank/internal/infrastructure/scheduler"
	"github.com/truthrank/truthrank/pkg/logger"
)

const (
	// EnvPrefix prefixes every environment override. Nested keys are
	// separated by a double underscore: TRUTHRANK_HTTP__PORT=9090.
	EnvPrefix = "TRUTHRANK_"

	// PathEnv names the variable consulted when Load gets no path.
	PathEnv = "TRUTHRANK_CONFIG"
)

// Backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	App         AppConfig         `koanf:"app"`
	HTTP        HTTPConfig        `koanf:"http"`
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	Ranking     RankingConfig     `koanf:"ranking"`
	Leaderboard LeaderboardConfig `koanf:"leaderboard"`
	Jobs        JobsConfig        `koanf:"jobs"`
	Events      EventsConfig      `koanf:"events"`
	Admin       AdminConfig       `koanf:"admin"`
	Log         LogConfig         `koanf:"log"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string      `koanf:"name"`
	Environment Environment `koanf:"environment"`
	Version     string      `koanf:"version"`

	// Timezone the cron schedules are evaluated in.
	Timezone string `koanf:"timezone"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// HTTPConfig holds the API server settings.
type HTTPConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	IdleTimeout    time.Duration `koanf:"idle_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// HealthTimeout bounds each dependency check behind /health.
	HealthTimeout time.Duration `koanf:"health_timeout"`
}

// DatabaseConfig selects the UserStats store.
type DatabaseConfig struct {
	// Driver is memory or postgres.
	Driver string `koanf:"driver"`

	// AutoMigrate applies pending migrations on startup.
	AutoMigrate bool `koanf:"auto_migrate"`

	postgres.Config `koanf:",squash"`
}

// RedisConfig holds Redis settings. Redis is only dialled when a backend
// below asks for it.
type RedisConfig struct {
	redis.Config `koanf:",squash"`
}

// RankingConfig holds the ranking engine's tunables.
type RankingConfig struct {
	// CatalogPath overrides the embedded tier catalog.
	CatalogPath string `koanf:"catalog_path"`

	// Cooldown between two interactive recalculations of one user.
	Cooldown time.Duration `koanf:"cooldown"`

	// DormancyThreshold is the inactivity after which a dormancy period is counted.
	DormancyThreshold time.Duration `koanf:"dormancy_threshold"`

	// MaxUpdateAttempts bounds optimistic concurrency retries.
	MaxUpdateAttempts int `koanf:"max_update_attempts"`
}

// LeaderboardConfig holds the leaderboard cache settings.
type LeaderboardConfig struct {
	// Backend is where snapshots live: memory or redis.
	Backend        string        `koanf:"backend"`
	TTL            time.Duration `koanf:"ttl"`
	TopN           int           `koanf:"top_n"`
	PageSize       int           `koanf:"page_size"`
	RefreshTimeout time.Duration `koanf:"refresh_timeout"`

	// Retention is how long Redis keeps a snapshot past its TTL.
	Retention time.Duration `koanf:"retention"`
}

// JobsConfig holds the batch job settings.
type JobsConfig struct {
	PageSize    int           `koanf:"page_size"`
	Concurrency int           `koanf:"concurrency"`
	PageTimeout time.Duration `koanf:"page_timeout"`

	// Schedules accept a 5-field cron expression or "@every <duration>".
	RecalculationSchedule string `koanf:"recalculation_schedule"`
	InactivitySchedule    string `koanf:"inactivity_schedule"`
	LeaderboardSchedule   string `koanf:"leaderboard_schedule"`

	TickInterval time.Duration `koanf:"tick_interval"`
}

// EventsConfig selects where domain events go.
type EventsConfig struct {
	// Backend is memory, or redis to also fan events out over pub/sub.
	Backend        string        `koanf:"backend"`
	Workers        int           `koanf:"workers"`
	HandlerTimeout time.Duration `koanf:"handler_timeout"`
}

// AdminConfig holds the privileged API credentials.
type AdminConfig struct {
	// TokenHash is the bcrypt hash of the admin bearer token.
	TokenHash string `koanf:"token_hash"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level         string `koanf:"level"`
	Format        string `koanf:"format"`
	FileEnabled   bool   `koanf:"file_enabled"`
	FilePath      string `koanf:"file_path"`
	RotationSize  int    `koanf:"rotation_size"`
	RetentionDays int    `koanf:"retention_days"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:            "truthrank",
			Environment:     EnvDevelopment,
			Version:         "dev",
			Timezone:        "UTC",
			ShutdownTimeout: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 30 * time.Second,
			HealthTimeout:  5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: BackendMemory,
			Config: postgres.DefaultConfig(),
		},
		Redis: RedisConfig{Config: redis.DefaultConfig()},
		Ranking: RankingConfig{
			Cooldown:          time.Hour,
			DormancyThreshold: 30 * 24 * time.Hour,
			MaxUpdateAttempts: 3,
		},
		Leaderboard: LeaderboardConfig{
			Backend:        BackendMemory,
			TTL:            5 * time.Minute,
			TopN:           100,
			PageSize:       500,
			RefreshTimeout: 30 * time.Second,
			Retention:      time.Hour,
		},
		Jobs: JobsConfig{
			PageSize:              200,
			Concurrency:           8,
			PageTimeout:           30 * time.Second,
			RecalculationSchedule: scheduler.EveryDay3AM,
			InactivitySchedule:    scheduler.EveryDay330AM,
			LeaderboardSchedule:   "@every 5m",
			TickInterval:          time.Second,
		},
		Events: EventsConfig{
			Backend:        BackendMemory,
			Workers:        10,
			HandlerTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:         "info",
			Format:        "json",
			FilePath:      "logs",
			RotationSize:  100,
			RetentionDays: 14,
		},
	}
}

// Load builds a Config by layering defaults, the YAML file at path (or at
// $TRUTHRANK_CONFIG when path is empty) and TRUTHRANK_ environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		add("http.port must be 1-65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.HealthTimeout <= 0 {
		add("http.health_timeout must be positive")
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		add("app.timezone: %v", err)
	}

	switch c.Database.Driver {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" && c.Database.Host == "" {
			add("database.url or database.host is required for the postgres driver")
		}
	default:
		add("database.driver must be memory or postgres, got %q", c.Database.Driver)
	}
	if c.App.Environment == EnvProduction && c.Database.Driver == BackendMemory {
		add("database.driver memory is not allowed in production")
	}

	if c.Ranking.Cooldown <= 0 {
		add("ranking.cooldown must be positive")
	}
	if c.Ranking.DormancyThreshold <= 0 {
		add("ranking.dormancy_threshold must be positive")
	}
	if c.Ranking.MaxUpdateAttempts < 1 {
		add("ranking.max_update_attempts must be at least 1")
	}

	if c.Leaderboard.Backend != BackendMemory && c.Leaderboard.Backend != BackendRedis {
		add("leaderboard.backend must be memory or redis, got %q", c.Leaderboard.Backend)
	}
	if c.Leaderboard.TTL <= 0 {
		add("leaderboard.ttl must be positive")
	}
	if c.Leaderboard.TopN <= 0 {
		add("leaderboard.top_n must be positive")
	}

	if c.Jobs.PageSize <= 0 {
		add("jobs.page_size must be positive")
	}
	if c.Jobs.Concurrency <= 0 {
		add("jobs.concurrency must be positive")
	}
	for key, spec := range map[string]string{
		"jobs.recalculation_schedule": c.Jobs.RecalculationSchedule,
		"jobs.inactivity_schedule":    c.Jobs.InactivitySchedule,
		"jobs.leaderboard_schedule":   c.Jobs.LeaderboardSchedule,
	} {
		if _, err := scheduler.ParseSchedule(spec); err != nil {
			add("%s: %v", key, err)
		}
	}

	if c.Events.Backend != BackendMemory && c.Events.Backend != BackendRedis {
		add("events.backend must be memory or redis, got %q", c.Events.Backend)
	}

	if c.Admin.TokenHash != "" {
		if _, err := bcrypt.Cost([]byte(c.Admin.TokenHash)); err != nil {
			add("admin.token_hash is not a bcrypt hash: %v", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// UsesRedis reports whether any backend needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Leaderboard.Backend == BackendRedis || c.Events.Backend == BackendRedis
}

// Location returns the scheduler's time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsProduction returns true if running in production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// Logger converts the log section into a logger configuration.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:          c.Log.Level,
		Format:         c.Log.Format,
		FileEnabled:    c.Log.FileEnabled,
		FilePath:       c.Log.FilePath,
		RotationSize:   c.Log.RotationSize,
		RetentionDays:  c.Log.RetentionDays,
		ServiceName:    c.App.Name,
		ServiceVersion: c.App.Version,
	}
}
