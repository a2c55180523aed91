// Package main - точка входа HTTP API движка прогрессии.
//
// Сервер принимает действия учащихся (уроки, навыки, события испытаний,
// начисления XP, ежедневные входы) и отдаёт дашборд, дерево навыков и
// таблицу уровней. Пользователь определяется заголовком X-User-ID,
// который выставляет шлюз перед сервисом.
//
// Таблица порогов перечитывается с тем же интервалом, что и в Worker,
// чтобы правки доходили до начислений без перезапуска.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skillquest/progression-engine/config"
	"github.com/skillquest/progression-engine/internal/bootstrap"
	"github.com/skillquest/progression-engine/internal/infrastructure/scheduler"
	"github.com/skillquest/progression-engine/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/skillquest/progression-engine/internal/interface/http"
	"github.com/skillquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := bootstrap.NewLogger(cfg.App, os.Stdout)
	log.Info("starting progression API",
		logger.String("timezone", cfg.App.Location.String()),
		logger.Bool("redis", cfg.Redis.Enabled),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩА, ШИНА СОБЫТИЙ И ДВИЖОК
	// ─────────────────────────────────────────────────────────────────────────
	rt, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing stores and event bus...")
		rt.Close()
	}()

	levels, err := rt.Engine.Levels().Resolver(ctx)
	if err != nil {
		return fmt.Errorf("resolve levels: %w", err)
	}
	if levels.Table().IsEmpty() {
		log.Warn("threshold table is empty, using the linear level curve; run cmd/seed",
			logger.Int("level_span", cfg.Engine.LevelSpan))
	} else {
		log.Info("level table loaded", logger.Int("levels", levels.Table().Len()))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ПЕРЕЧИТЫВАНИЕ ТАБЛИЦЫ ПОРОГОВ
	// ─────────────────────────────────────────────────────────────────────────
	sched, err := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:         log.Slog(),
		Timezone:       cfg.App.Location,
		MaxHistorySize: 100,
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	// Cached dashboards are dropped by the worker's copy of this job.
	refresh := jobs.NewRefreshThresholdsJob(rt.Engine, nil, jobs.RefreshThresholdsConfig{
		Enabled: cfg.Features.Gate(config.FeatureThresholdRefresh),
		Timeout: time.Minute,
	}, log.Slog())
	if err := sched.Register(refresh, scheduler.Every(cfg.Scheduler.ThresholdRefreshInterval)); err != nil {
		return fmt.Errorf("failed to register %s: %w", refresh.Name(), err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Error("scheduler stop failed", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpapi.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins

	server := httpapi.NewServer(httpCfg, httpapi.Dependencies{
		Engine:        rt.Engine,
		HealthChecker: rt.HealthChecker(),
		Logger:        log,
	})
	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ОЖИДАНИЕ СИГНАЛА ЗАВЕРШЕНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = err
		}
	case <-ctx.Done():
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("HTTP server shutdown failed", logger.Err(err))
	}

	log.Info("progression API stopped")
	return runErr
}
