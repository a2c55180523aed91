// Package main - точка входа для фоновых процессов (Worker) движка прогрессии.
//
// Worker отвечает за периодические задачи:
// - Перечитывание таблицы порогов уровней и сброс устаревших дашбордов
// - Ночная сверка уровней: профили, отставшие от правок таблицы,
//   получают свой уровень и открывающиеся навыки
//
// Флаг -run <job> выполняет одну задачу и завершает процесс.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skillquest/progression-engine/config"
	"github.com/skillquest/progression-engine/internal/bootstrap"
	"github.com/skillquest/progression-engine/internal/infrastructure/scheduler"
	"github.com/skillquest/progression-engine/internal/infrastructure/scheduler/jobs"
	"github.com/skillquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	runOnce := flag.String("run", "", "run one job (refresh_thresholds, reconcile_levels) and exit")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, *runOnce); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, runOnce string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Scheduler.Enabled && runOnce == "" {
		return errors.New("scheduler is disabled (SCHEDULER_ENABLED=false)")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := bootstrap.NewLogger(cfg.App, os.Stdout).With(logger.Component("worker"))
	log.Info("starting progression worker",
		logger.String("timezone", cfg.App.Location.String()),
		logger.String("reconcile_cron", cfg.Scheduler.ReconcileCron),
		logger.Duration("threshold_refresh", cfg.Scheduler.ThresholdRefreshInterval),
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

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ПЛАНИРОВЩИК И ЗАДАЧИ
	// ─────────────────────────────────────────────────────────────────────────
	sched, err := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:         log.Slog(),
		Timezone:       cfg.App.Location,
		MaxHistorySize: 500,
		EnableMetrics:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	refresh := jobs.NewRefreshThresholdsJob(rt.Engine, rt.DashboardInvalidator(), jobs.RefreshThresholdsConfig{
		Enabled: cfg.Features.Gate(config.FeatureThresholdRefresh),
		Timeout: time.Minute,
	}, log.Slog())
	if err := sched.Register(refresh, scheduler.Every(cfg.Scheduler.ThresholdRefreshInterval)); err != nil {
		return fmt.Errorf("failed to register %s: %w", refresh.Name(), err)
	}

	reconcile := jobs.NewReconcileLevelsJob(rt.Engine, jobs.ReconcileLevelsConfig{
		BatchSize: cfg.Scheduler.ReconcileBatchSize,
		Enabled:   cfg.Features.Gate(config.FeatureLevelReconcile),
		Timeout:   cfg.Scheduler.JobTimeout,
	}, log.Slog())
	if err := sched.Register(reconcile, scheduler.Cron(cfg.Scheduler.ReconcileCron)); err != nil {
		return fmt.Errorf("failed to register %s: %w", reconcile.Name(), err)
	}

	sched.OnJobComplete(func(result scheduler.JobResult) {
		if result.JobName != reconcile.Name() || !result.Success {
			return
		}
		if stats, ok := reconcile.LastRun(); ok {
			log.Info("levels reconciled",
				logger.Int("scanned", stats.Scanned),
				logger.Int("raised", stats.Raised),
				logger.Int("events", stats.Events),
				logger.Bool("manual", result.Manual))
		}
	})

	if runOnce != "" {
		if _, err := sched.RunNow(ctx, runOnce); err != nil {
			return fmt.Errorf("run %s: %w", runOnce, err)
		}
		return nil
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ОЖИДАНИЕ СИГНАЛА ЗАВЕРШЕНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case <-ctx.Done():
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	done := make(chan error, 1)
	go func() { done <- sched.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			log.Error("scheduler stop failed", logger.Err(err))
		}
	case <-time.After(cfg.App.ShutdownTimeout):
		log.Warn("shutdown timed out, jobs still running")
	}

	log.Info("progression worker stopped")
	return nil
}
