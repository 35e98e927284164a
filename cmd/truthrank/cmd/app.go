package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/truthrank/truthrank/config"
	"github.com/truthrank/truthrank/internal/application/command"
	"github.com/truthrank/truthrank/internal/application/query"
	"github.com/truthrank/truthrank/internal/domain/leaderboard"
	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/infrastructure/messaging"
	"github.com/truthrank/truthrank/internal/infrastructure/persistence/memory"
	"github.com/truthrank/truthrank/internal/infrastructure/persistence/postgres"
	"github.com/truthrank/truthrank/internal/infrastructure/persistence/redis"
	"github.com/truthrank/truthrank/internal/infrastructure/scheduler"
	"github.com/truthrank/truthrank/internal/infrastructure/scheduler/jobs"
	apphttp "github.com/truthrank/truthrank/internal/interface/http"
	"github.com/truthrank/truthrank/internal/interface/http/handlers"
	"github.com/truthrank/truthrank/pkg/circuitbreaker"
	"github.com/truthrank/truthrank/pkg/metrics"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

// App holds the wired engine. Build it with NewApp and release it with Close.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Clock  timeutil.Clock

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Catalog  *rank.Catalog
	Repo     rank.Repository
	Updater  *rank.Updater
	EventBus *messaging.InMemoryEventBus

	RecalculateRank *command.RecalculateRankHandler
	RecordActivity  *command.RecordActivityHandler
	GetRankStatus   *query.GetRankStatusHandler
	GetLeaderboard  *query.GetLeaderboardHandler
	Leaderboards    *query.LeaderboardCache

	Scheduler *scheduler.Scheduler
	Health    *handlers.CompositeHealthChecker

	closers []func()
}

// NewApp connects the configured backends and wires every component. On
// error everything opened so far is closed again.
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, clock timeutil.Clock) (app *App, err error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	a := &App{
		Config: cfg,
		Logger: log,
		Clock:  clock,
		Health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}
	a.Health.SetTimeout(cfg.HTTP.HealthTimeout)
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	// ─────────────────────────────────────────────────────────────────────────
	// Catalog
	// ─────────────────────────────────────────────────────────────────────────
	a.Catalog = rank.DefaultCatalog()
	if cfg.Ranking.CatalogPath != "" {
		if a.Catalog, err = rank.LoadCatalog(cfg.Ranking.CatalogPath); err != nil {
			return nil, fmt.Errorf("load rank catalog: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Storage
	// ─────────────────────────────────────────────────────────────────────────
	switch cfg.Database.Driver {
	case config.BackendPostgres:
		if cfg.Database.AutoMigrate {
			if err = postgres.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		conn, err := postgres.NewConnection(ctx, cfg.Database.Config)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		a.Health.AddCheck("postgres", handlers.PingCheck(conn))
		a.Repo = postgres.NewUserStatsRepository(conn, clock)
	default:
		a.Repo = memory.NewUserStatsRepository(clock)
	}

	var cache *redis.Cache
	if cfg.UsesRedis() {
		if cache, err = redis.NewCache(ctx, cfg.Redis.Config); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = cache.Close() })
		a.Health.AddCheck("redis", handlers.PingCheck(cache))
	}

	var store leaderboard.SnapshotStore = memory.NewSnapshotStore()
	if cfg.Leaderboard.Backend == config.BackendRedis {
		store = redis.NewLeaderboardStore(cache, cfg.Leaderboard.Retention)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Events
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.WorkerPoolSize = cfg.Events.Workers
	busCfg.HandlerTimeout = cfg.Events.HandlerTimeout
	busCfg.Logger = log
	a.EventBus = messaging.NewInMemoryEventBus(busCfg)
	a.closers = append(a.closers, func() { _ = a.EventBus.Close() })

	if err = a.EventBus.SubscribeAll(messaging.LogEvents(log)); err != nil {
		return nil, err
	}
	if cfg.Events.Backend == config.BackendRedis {
		if err = a.EventBus.SubscribeAll(messaging.Forward(redis.NewEventPublisher(cache))); err != nil {
			return nil, err
		}
	}

	breaker := circuitbreaker.NotifierBreaker(clock, func(name string, from, to circuitbreaker.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
	})
	notifier := messaging.NewEventNotifier(a.EventBus, breaker, a.Metrics)

	// ─────────────────────────────────────────────────────────────────────────
	// Application
	// ─────────────────────────────────────────────────────────────────────────
	a.Updater = rank.NewUpdater(a.Repo, a.Catalog, cfg.Ranking.MaxUpdateAttempts, a.Metrics.RecordStoreConflict).
		WithRetryHook(func(attempt int, err error, delay time.Duration) {
			log.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("store conflict, retrying")
		})
	calculator := rank.NewScoreCalculator(a.Catalog, rank.DefaultScoringPolicy())
	limiter := rank.NewRateLimiter(cfg.Ranking.Cooldown)

	a.RecalculateRank = command.NewRecalculateRankHandler(
		a.Updater, calculator, rank.NewUpgradeEvaluator(a.Catalog), limiter, notifier, a.Metrics, clock, log)
	a.RecordActivity = command.NewRecordActivityHandler(a.Updater, a.Catalog, a.Metrics, clock, log)
	a.GetRankStatus = query.NewGetRankStatusHandler(a.Repo, a.Catalog, calculator, limiter, clock)
	a.Leaderboards = query.NewLeaderboardCache(a.Repo, store, a.Catalog, query.LeaderboardCacheConfig{
		TTL:            cfg.Leaderboard.TTL,
		TopN:           cfg.Leaderboard.TopN,
		PageSize:       cfg.Leaderboard.PageSize,
		RefreshTimeout: cfg.Leaderboard.RefreshTimeout,
	}, a.Metrics, clock, log)
	a.GetLeaderboard = query.NewGetLeaderboardHandler(a.Leaderboards)

	// ─────────────────────────────────────────────────────────────────────────
	// Jobs
	// ─────────────────────────────────────────────────────────────────────────
	if err = a.registerJobs(notifier); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) registerJobs(notifier rank.Notifier) error {
	cfg := a.Config
	a.Scheduler = scheduler.New(scheduler.Config{
		Logger:       a.Logger,
		Clock:        a.Clock,
		Timezone:     cfg.Location(),
		TickInterval: cfg.Jobs.TickInterval,
	})

	scan := jobs.ScanConfig{
		PageSize:    cfg.Jobs.PageSize,
		Concurrency: cfg.Jobs.Concurrency,
		PageTimeout: cfg.Jobs.PageTimeout,
	}
	entries := []struct {
		job  scheduler.Job
		spec string
	}{
		{jobs.NewRecalculationJob(a.Repo, a.RecalculateRank, scan, a.Metrics, a.Clock, a.Logger), cfg.Jobs.RecalculationSchedule},
		{jobs.NewInactivityDetectionJob(a.Updater, notifier, cfg.Ranking.DormancyThreshold, scan, a.Metrics, a.Clock, a.Logger), cfg.Jobs.InactivitySchedule},
		{jobs.NewLeaderboardRefreshJob(a.Leaderboards, a.Metrics, a.Logger), cfg.Jobs.LeaderboardSchedule},
	}
	for _, e := range entries {
		schedule, err := scheduler.ParseSchedule(e.spec)
		if err != nil {
			return fmt.Errorf("schedule for %s: %w", e.job.Name(), err)
		}
		if err := a.Scheduler.Register(e.job, schedule); err != nil {
			return err
		}
	}
	return nil
}

// HTTPServer builds the API server on top of the wired components.
func (a *App) HTTPServer() *apphttp.Server {
	cfg := a.Config
	return apphttp.NewServer(apphttp.Config{
		Host:           cfg.HTTP.Host,
		Port:           cfg.HTTP.Port,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: apphttp.DefaultConfig().MaxHeaderBytes,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		AdminTokenHash: cfg.Admin.TokenHash,
	}, apphttp.Dependencies{
		RecalculateRank: a.RecalculateRank,
		RecordActivity:  a.RecordActivity,
		GetRankStatus:   a.GetRankStatus,
		GetLeaderboard:  a.GetLeaderboard,
		Leaderboards:    a.Leaderboards,
		Jobs:            a.Scheduler,
		HealthChecker:   a.Health,
		Metrics:         a.Metrics,
		Gatherer:        a.Registry,
		Clock:           a.Clock,
		Logger:          a.Logger,
	})
}

// Close releases every backend in reverse order of opening.
func (a *App) Close() {
	if a.Scheduler != nil && a.Scheduler.IsRunning() {
		_ = a.Scheduler.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
