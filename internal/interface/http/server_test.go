package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/truthrank/truthrank/internal/application/command"
	"github.com/truthrank/truthrank/internal/application/query"
	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/infrastructure/persistence/memory"
	"github.com/truthrank/truthrank/internal/infrastructure/scheduler"
	"github.com/truthrank/truthrank/internal/interface/http/handlers"
	"github.com/truthrank/truthrank/pkg/metrics"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

const adminToken = "s3cret-admin-token"

var now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type stubJobs struct {
	result *scheduler.JobResult
	err    error
	ran    []string
}

func (j *stubJobs) RunNow(_ context.Context, name string) (*scheduler.JobResult, error) {
	j.ran = append(j.ran, name)
	return j.result, j.err
}

func (j *stubJobs) ListJobs() []scheduler.JobInfo {
	return []scheduler.JobInfo{{Name: "recalculate_ranks", Enabled: true, Schedule: "0 3 * * *"}}
}

type testServer struct {
	server *Server
	clock  *timeutil.FakeClock
	repo   *memory.UserStatsRepository
	jobs   *stubJobs
	health *handlers.CompositeHealthChecker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	require.NoError(t, err)

	clock := timeutil.NewFakeClock(now)
	repo := memory.NewUserStatsRepository(clock)
	catalog := rank.DefaultCatalog()
	updater := rank.NewUpdater(repo, catalog, 3, nil)
	calculator := rank.NewScoreCalculator(catalog, rank.DefaultScoringPolicy())
	limiter := rank.NewRateLimiter(time.Hour)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	cache := query.NewLeaderboardCache(repo, memory.NewSnapshotStore(), catalog,
		query.LeaderboardCacheConfig{TTL: time.Minute, TopN: 10}, m, clock, zerolog.Nop())

	jobs := &stubJobs{}
	health := handlers.NewCompositeHealthChecker("test")

	cfg := DefaultConfig()
	cfg.AdminTokenHash = string(hash)

	s := NewServer(cfg, Dependencies{
		RecalculateRank: command.NewRecalculateRankHandler(updater, calculator, rank.NewUpgradeEvaluator(catalog),
			limiter, nil, m, clock, zerolog.Nop()),
		RecordActivity: command.NewRecordActivityHandler(updater, catalog, m, clock, zerolog.Nop()),
		GetRankStatus:  query.NewGetRankStatusHandler(repo, catalog, calculator, limiter, clock),
		GetLeaderboard: query.NewGetLeaderboardHandler(cache),
		Leaderboards:   cache,
		Jobs:           jobs,
		HealthChecker:  health,
		Metrics:        m,
		Gatherer:       reg,
		Clock:          clock,
		Logger:         zerolog.Nop(),
	})
	return &testServer{server: s, clock: clock, repo: repo, jobs: jobs, health: health}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (ts *testServer) seed(t *testing.T, id string, tier rank.RankID, pct float64) {
	t.Helper()
	s := rank.NewUserStats(id, strings.ToUpper(id), tier, now.AddDate(0, 0, -20))
	s.RankPercentage = pct
	s.TotalPredictions = 5
	s.LastActiveAt = now.AddDate(0, 0, -1)
	require.NoError(t, ts.repo.Create(context.Background(), s))
}

func admin() map[string]string {
	return map[string]string{"Authorization": "Bearer " + adminToken}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	ts.health.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	rec, env = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.False(t, status.Healthy)
	assert.Equal(t, "connection refused", status.Checks["postgres"].Message)
}

func TestGetRankStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "alice", "observer", 10)

	rec, env := ts.do(t, http.MethodGet, "/api/v1/users/alice/rank", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status query.RankStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, "alice", status.UserID)
	assert.Equal(t, rank.RankID("observer"), status.CurrentRank)
	assert.True(t, status.RecalculationAllowed)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/users/nobody/rank", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestRecalculate(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "alice", "observer", 0)
	path := "/api/v1/users/alice/rank/recalculate"

	t.Run("anonymous", func(t *testing.T) {
		rec, _ := ts.do(t, http.MethodPost, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("other user", func(t *testing.T) {
		rec, _ := ts.do(t, http.MethodPost, path, "", map[string]string{UserIDHeader: "mallory"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("subject then cooldown", func(t *testing.T) {
		rec, env := ts.do(t, http.MethodPost, path, "", map[string]string{UserIDHeader: "alice"})
		require.Equal(t, http.StatusOK, rec.Code)
		var res command.RecalculateRankResult
		require.NoError(t, json.Unmarshal(env.Data, &res))
		assert.Equal(t, "alice", res.UserID)
		assert.False(t, res.Upgraded)

		rec, env = ts.do(t, http.MethodPost, path, "", map[string]string{UserIDHeader: "alice"})
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
		require.NotNil(t, env.Error)
		require.NotNil(t, env.Error.RetryAfter)
		assert.Equal(t, now.Add(time.Hour), env.Error.RetryAfter.UTC())
	})

	t.Run("privileged after cooldown", func(t *testing.T) {
		ts.clock.Advance(time.Hour)
		rec, _ := ts.do(t, http.MethodPost, path, "", admin())
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRecordActivity(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodPost, "/api/v1/users/bob/predictions", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/users/bob/predictions", `{}`,
		map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/users/bob/predictions", `{"display_name":`, admin())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/users/bob/predictions", `{"display_name":"Bob"}`, admin())
	require.Equal(t, http.StatusOK, rec.Code)
	var res command.ActivityResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Applied)
	assert.Equal(t, 1, res.TotalPredictions)

	body := `{"prediction_id":"p1","outcome":"yes","user_vote":"yes","distribution":{"yes":3,"no":7}}`
	rec, env = ts.do(t, http.MethodPost, "/api/v1/users/bob/resolutions", body, admin())
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, command.ResolutionCorrect, res.Result)
	assert.Equal(t, 1, res.CorrectPredictions)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/users/bob/resolutions", `{"outcome":"yes"}`, admin())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/users/ghost/resolutions",
		`{"prediction_id":"p1","outcome":"yes","user_vote":"yes","distribution":{"yes":1}}`, admin())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeaderboard(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "a", "observer", 30)
	ts.seed(t, "b", "observer", 90)
	ts.seed(t, "c", "observer", 60)

	rec, env := ts.do(t, http.MethodGet, "/api/v1/leaderboard/observer?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res query.LeaderboardResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "b", res.Entries[0].UserID)
	assert.Equal(t, "c", res.Entries[1].UserID)
	assert.Equal(t, 3, res.Candidates)

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/leaderboard/observer?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/leaderboard/grandmaster", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/admin/leaderboard/observer/invalidate", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/admin/leaderboard/observer/invalidate", "", admin())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJobs(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodGet, "/api/v1/admin/jobs", "", admin())
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []scheduler.JobInfo
	require.NoError(t, json.Unmarshal(env.Data, &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "recalculate_ranks", infos[0].Name)

	ts.jobs.err = scheduler.ErrJobNotFound
	rec, _ = ts.do(t, http.MethodPost, "/api/v1/admin/jobs/missing/run", "", admin())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.jobs.err = scheduler.ErrJobRunning
	rec, _ = ts.do(t, http.MethodPost, "/api/v1/admin/jobs/recalculate_ranks/run", "", admin())
	assert.Equal(t, http.StatusConflict, rec.Code)

	ts.jobs.err = errors.New("boom")
	ts.jobs.result = &scheduler.JobResult{JobName: "recalculate_ranks", Manual: true, Error: "boom"}
	rec, env = ts.do(t, http.MethodPost, "/api/v1/admin/jobs/recalculate_ranks/run", "", admin())
	require.Equal(t, http.StatusOK, rec.Code)
	var res scheduler.JobResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Error)
	assert.Equal(t, []string{"missing", "recalculate_ranks", "recalculate_ranks"}, ts.jobs.ran)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/v1/users/nobody/rank", "", nil)

	rec, _ := ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "truthrank_http_requests_total")
	assert.Contains(t, body, `route="/api/v1/users/{userID}/rank"`)
	assert.Contains(t, body, `code="404"`)
}

func TestNotFoundRoute(t *testing.T) {
	ts := newTestServer(t)
	rec, env := ts.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer ", ""},
		{"Bearer abc", "abc"},
		{"bearer abc ", "abc"},
		{"Basic abc", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", tt.header)
		assert.Equal(t, tt.want, bearerToken(r), tt.header)
	}
}
