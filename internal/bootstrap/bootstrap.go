// Package bootstrap wires configuration into the running stack shared by the
// server and worker binaries: Postgres, optional Redis, the event bus with
// its handlers and the engine.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/skillquest/progression-engine/config"
	"github.com/skillquest/progression-engine/internal/application/engine"
	"github.com/skillquest/progression-engine/internal/application/eventhandler"
	"github.com/skillquest/progression-engine/internal/application/query"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/infrastructure/messaging"
	"github.com/skillquest/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/skillquest/progression-engine/internal/infrastructure/persistence/redis"
	"github.com/skillquest/progression-engine/internal/infrastructure/scheduler/jobs"
	"github.com/skillquest/progression-engine/internal/interface/http/handlers"
	"github.com/skillquest/progression-engine/pkg/circuitbreaker"
	"github.com/skillquest/progression-engine/pkg/logger"
	"github.com/skillquest/progression-engine/pkg/retry"
)

// NewLogger builds the process logger from the app config and installs it
// as the slog default.
func NewLogger(cfg config.AppConfig, out io.Writer) *logger.Logger {
	if out == nil {
		out = os.Stdout
	}
	log := logger.New(logger.Options{
		Output:    out,
		Level:     logger.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		AddSource: cfg.Environment == config.EnvDevelopment,
	}).With(
		logger.String("app", cfg.Name),
		logger.String("version", cfg.Version),
		logger.String("env", string(cfg.Environment)),
	)
	slog.SetDefault(log.Slog())
	return log
}

// ConnectPostgres opens the pool, waits for the database and applies
// migrations when AutoMigrate is set.
func ConnectPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*postgres.Connection, error) {
	pgCfg := postgres.DefaultConfig(cfg.URL)
	pgCfg.MaxConns = int32(cfg.MaxConns)
	pgCfg.MinConns = int32(cfg.MinConns)
	pgCfg.MaxConnLifetime = cfg.MaxConnLifetime
	pgCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	conn, err := postgres.NewConnection(connectCtx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	err = retry.DatabaseRetrier().
		With(retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("postgres not ready",
				logger.Int("attempt", attempt), logger.Err(err), logger.Duration("retry_in", delay))
		})).
		Do(connectCtx, conn.Ping)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	log.Info("connected to postgres")

	if cfg.AutoMigrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations applied")
	}
	return conn, nil
}

// ConnectRedis opens the cache connection.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Cache, error) {
	redisCfg := redis.DefaultConfig()
	redisCfg.Addr = cfg.Addr()
	redisCfg.Password = cfg.Password
	redisCfg.DB = cfg.DB
	redisCfg.PoolSize = cfg.PoolSize
	redisCfg.MinIdleConns = cfg.MinIdleConns
	redisCfg.DialTimeout = cfg.DialTimeout
	redisCfg.ReadTimeout = cfg.ReadTimeout
	redisCfg.WriteTimeout = cfg.WriteTimeout

	cache, err := redis.NewCache(ctx, redisCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis %s: %w", redisCfg.Addr, err)
	}
	return cache, nil
}

// Runtime is the assembled engine with everything it owns.
type Runtime struct {
	Config *config.Config
	Log    *logger.Logger

	DB    *postgres.Connection
	Cache *redis.Cache // nil when Redis is disabled

	// Stats is the dashboard cache; nil when Redis is disabled.
	Stats *redis.StatsCache

	Bus        *messaging.InMemoryEventBus
	Relay      *messaging.RedisEventBus // nil when Redis is disabled
	Dispatcher *messaging.Dispatcher
	Engine     *engine.Engine
}

// Open connects to the stores and assembles the engine. On error everything
// opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	rt.DB, err = ConnectPostgres(ctx, cfg.Database, log)
	if err != nil {
		return rt, err
	}

	var thresholds progression.ThresholdRepository = postgres.NewThresholdRepository(rt.DB)
	var stats query.StatsCache
	if cfg.Redis.Enabled {
		rt.Cache, err = ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return rt, err
		}
		log.Info("connected to redis", logger.String("addr", cfg.Redis.Addr()))

		onStateChange := func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		}
		thresholds = redis.NewThresholdCache(thresholds, rt.Cache, cfg.Engine.ThresholdCacheTTL,
			circuitbreaker.CacheBreaker(onStateChange), log)
		rt.Stats = redis.NewStatsCache(rt.Cache, cfg.Engine.StatsCacheTTL, circuitbreaker.CacheBreaker(onStateChange))
		stats = rt.Stats
	}

	rt.Bus = messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode:      cfg.Engine.EventBusAsync,
		WorkerPoolSize: cfg.Engine.EventBusWorkers,
		Logger:         log,
		EnableMetrics:  true,
	})

	var publisher shared.EventPublisher = rt.Bus
	if rt.Cache != nil {
		rt.Relay, err = messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewCacheClient(rt.Cache),
			LocalBus:       rt.Bus,
			Enabled:        cfg.Features.Gate(config.FeatureAnalyticsRelay),
			PublishTimeout: cfg.Engine.RelayTimeout,
			Logger:         log,
		})
		if err != nil {
			return rt, fmt.Errorf("create event relay: %w", err)
		}
		publisher = rt.Relay
	}

	rt.Dispatcher = messaging.NewDispatcher(messaging.DispatcherConfig{
		EventBus:            rt.Bus,
		DeadLetterQueueSize: 1000,
		Logger:              log,
	})
	rt.Dispatcher.Use(messaging.RecoveryMiddleware(log))
	rt.Dispatcher.Use(messaging.LoggingMiddleware(log))

	progressChanged := eventhandler.NewOnProgressChangedHandler(stats, log, cfg.Engine.HandlerTimeout)
	if err = rt.Dispatcher.Register("on_progress_changed", progressChanged.Handle, progressChanged.EventTypes()...); err != nil {
		return rt, fmt.Errorf("register on_progress_changed: %w", err)
	}
	milestone := eventhandler.NewOnMilestoneHandler(log)
	if err = rt.Dispatcher.Register("on_milestone", milestone.Handle, milestone.EventTypes()...); err != nil {
		return rt, fmt.Errorf("register on_milestone: %w", err)
	}
	if err = rt.Dispatcher.Start(); err != nil {
		return rt, fmt.Errorf("start dispatcher: %w", err)
	}

	rt.Engine = engine.New(engine.Repositories{
		Tx:             rt.DB,
		Profiles:       postgres.NewProfileRepository(rt.DB),
		Thresholds:     thresholds,
		Skills:         postgres.NewSkillCatalogRepository(rt.DB),
		UserSkills:     postgres.NewUserSkillRepository(rt.DB),
		Challenges:     postgres.NewChallengeCatalogRepository(rt.DB),
		UserChallenges: postgres.NewUserChallengeRepository(rt.DB),
		Lessons:        postgres.NewLessonCatalogRepository(rt.DB),
		Completions:    postgres.NewCompletionRepository(rt.DB),
	}, engine.Options{
		Publisher:  publisher,
		StatsCache: stats,
		UseStatsCache: func(userID shared.UserID) bool {
			return cfg.Features.IsEnabledFor(config.FeatureDashboardCache, string(userID))
		},
		Location:  cfg.App.Location,
		LevelSpan: cfg.Engine.LevelSpan,
		Retrier: retry.New(
			retry.WithMaxAttempts(cfg.Engine.RetryAttempts),
			retry.WithInitialDelay(cfg.Engine.RetryInitialDelay),
			retry.WithMaxDelay(cfg.Engine.RetryMaxDelay),
			retry.WithMultiplier(2.0),
			retry.WithJitter(0.3),
			retry.WithRetryIf(shared.IsRowConflict),
		),
		Logger: log,
	})

	if err = rt.Engine.RefreshLevels(ctx); err != nil {
		return rt, fmt.Errorf("load level thresholds: %w", err)
	}
	return rt, nil
}

// HealthChecker reports Postgres as required and Redis as optional.
func (rt *Runtime) HealthChecker() *handlers.CompositeHealthChecker {
	hc := handlers.NewCompositeHealthChecker(rt.Config.App.Version)
	hc.AddCheck("postgres", poolCheck(rt.DB))
	if rt.Cache != nil {
		hc.AddOptionalCheck("redis", handlers.NewPingCheck(rt.Cache))
	}
	return hc
}

// PoolHealth reports the database pool state.
type PoolHealth interface {
	Health(ctx context.Context) (*postgres.HealthStatus, error)
}

// poolCheck fails when the pool cannot reach the database.
func poolCheck(db PoolHealth) handlers.HealthCheckFunc {
	return func(ctx context.Context) error {
		status, err := db.Health(ctx)
		if err != nil {
			return err
		}
		if !status.Healthy {
			return errors.New(status.Error)
		}
		return nil
	}
}

// DashboardInvalidator returns the stats cache for the refresh job, or nil
// when Redis is disabled.
func (rt *Runtime) DashboardInvalidator() jobs.DashboardInvalidator {
	if rt.Stats == nil {
		return nil
	}
	return rt.Stats
}

// Close stops the dispatcher and closes the bus and the stores, in that order.
func (rt *Runtime) Close() {
	if rt.Dispatcher != nil {
		rt.Dispatcher.Stop()
	}
	switch {
	case rt.Relay != nil:
		if err := rt.Relay.Close(); err != nil {
			rt.Log.Error("close event relay", logger.Err(err))
		}
	case rt.Bus != nil:
		if err := rt.Bus.Close(); err != nil {
			rt.Log.Error("close event bus", logger.Err(err))
		}
	}
	if rt.Cache != nil {
		if err := rt.Cache.Close(); err != nil {
			rt.Log.Error("close redis", logger.Err(err))
		}
	}
	if rt.DB != nil {
		rt.DB.Close()
	}
}
