package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "truthrank.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(PathEnv, "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.HTTP.HealthTimeout)
	assert.Equal(t, BackendMemory, cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, time.Hour, cfg.Ranking.Cooldown)
	assert.Equal(t, 30*24*time.Hour, cfg.Ranking.DormancyThreshold)
	assert.Equal(t, "0 3 * * *", cfg.Jobs.RecalculationSchedule)
	assert.Equal(t, "30 3 * * *", cfg.Jobs.InactivitySchedule)
	assert.Equal(t, "@every 5m", cfg.Jobs.LeaderboardSchedule)
	assert.False(t, cfg.UsesRedis())
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeYAML(t, `
app:
  environment: staging
http:
  port: 9000
database:
  driver: postgres
  url: postgres://truthrank@db:5432/truthrank
ranking:
  cooldown: 30m
leaderboard:
  backend: redis
  top_n: 50
redis:
  host: cache
jobs:
  recalculation_schedule: "0 4 * * *"
`)
	t.Setenv("TRUTHRANK_HTTP__PORT", "9100")
	t.Setenv("TRUTHRANK_RANKING__DORMANCY_THRESHOLD", "240h")
	t.Setenv("TRUTHRANK_JOBS__CONCURRENCY", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.App.Environment)
	assert.Equal(t, 9100, cfg.HTTP.Port, "env wins over file")
	assert.Equal(t, BackendPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://truthrank@db:5432/truthrank", cfg.Database.DSN())
	assert.Equal(t, 30*time.Minute, cfg.Ranking.Cooldown)
	assert.Equal(t, 240*time.Hour, cfg.Ranking.DormancyThreshold)
	assert.Equal(t, 50, cfg.Leaderboard.TopN)
	assert.Equal(t, 5*time.Minute, cfg.Leaderboard.TTL, "unset keys keep defaults")
	assert.Equal(t, "cache", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, 3, cfg.Jobs.Concurrency)
	assert.Equal(t, "0 4 * * *", cfg.Jobs.RecalculationSchedule)
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_PathFromEnv(t *testing.T) {
	t.Setenv(PathEnv, writeYAML(t, "http:\n  port: 7000\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.HTTP.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Port = 0
	cfg.HTTP.HealthTimeout = 0
	cfg.Database.Driver = "mysql"
	cfg.Ranking.Cooldown = 0
	cfg.Leaderboard.Backend = "memcached"
	cfg.Jobs.InactivitySchedule = "every day"
	cfg.Admin.TokenHash = "plaintext"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"http.port",
		"http.health_timeout",
		"database.driver",
		"ranking.cooldown",
		"leaderboard.backend",
		"jobs.inactivity_schedule",
		"admin.token_hash",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_ProductionNeedsDatabase(t *testing.T) {
	cfg := Default()
	cfg.App.Environment = EnvProduction
	assert.ErrorContains(t, cfg.Validate(), "not allowed in production")

	cfg.Database.Driver = BackendPostgres
	assert.NoError(t, cfg.Validate())
}

func TestValidate_AcceptsBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("token"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := Default()
	cfg.Admin.TokenHash = string(hash)
	assert.NoError(t, cfg.Validate())
}

func TestLoggerConfig(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"
	lc := cfg.Logger()
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "truthrank", lc.ServiceName)
}
