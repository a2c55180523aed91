// Package main - загрузка каталога в базу: таблица порогов уровней,
// навыки, уроки и испытания.
//
// Без флага -catalog загружается встроенный каталог по умолчанию.
// Флаг -check только проверяет файл и ничего не пишет.
//
// Обслуживание схемы:
// - -migrate-status печатает применённые и ожидающие миграции
// - -rollback откатывает последнюю применённую миграцию
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/skillquest/progression-engine/config"
	"github.com/skillquest/progression-engine/internal/bootstrap"
	"github.com/skillquest/progression-engine/internal/infrastructure/catalog"
	"github.com/skillquest/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/skillquest/progression-engine/pkg/logger"
)

type options struct {
	path          string
	check         bool
	migrateStatus bool
	rollback      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.path, "catalog", "", "catalog YAML file (default: built-in catalog)")
	flag.BoolVar(&opts.check, "check", false, "validate the catalog without writing")
	flag.BoolVar(&opts.migrateStatus, "migrate-status", false, "print migration status and exit")
	flag.BoolVar(&opts.rollback, "rollback", false, "roll back the last applied migration and exit")
	flag.Parse()

	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := bootstrap.NewLogger(cfg.App, os.Stdout).With(logger.Component("seed"))

	if opts.migrateStatus || opts.rollback {
		return maintainSchema(ctx, cfg.Database, opts, log)
	}
	path := opts.path

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ЧТЕНИЕ КАТАЛОГА
	// ─────────────────────────────────────────────────────────────────────────
	var cat *catalog.Catalog
	if path == "" {
		cat, err = catalog.Default(cfg.App.Location)
	} else {
		cat, err = catalog.Load(path, cfg.App.Location)
	}
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}
	log.Info("catalog parsed",
		logger.String("source", sourceName(path)),
		logger.Int("thresholds", len(cat.Thresholds)),
		logger.Int("skills", len(cat.Skills)),
		logger.Int("lessons", len(cat.Lessons)),
		logger.Int("challenges", len(cat.Challenges)),
	)
	if opts.check {
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ЗАПИСЬ В POSTGRESQL
	// ─────────────────────────────────────────────────────────────────────────
	conn, err := bootstrap.ConnectPostgres(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	stats, err := catalog.Apply(ctx, catalog.Repositories{
		Tx:         conn,
		Thresholds: postgres.NewThresholdRepository(conn),
		Skills:     postgres.NewSkillCatalogRepository(conn),
		Lessons:    postgres.NewLessonCatalogRepository(conn),
		Challenges: postgres.NewChallengeCatalogRepository(conn),
	}, cat)
	if err != nil {
		return fmt.Errorf("failed to apply catalog: %w", err)
	}

	log.Info("catalog applied",
		logger.Int("thresholds", stats.Thresholds),
		logger.Int("skills", stats.Skills),
		logger.Int("lessons", stats.Lessons),
		logger.Int("challenges", stats.Challenges),
	)
	if cfg.Redis.Enabled {
		log.Info("cached thresholds expire within the cache TTL; run the worker's refresh_thresholds job to apply them now",
			logger.Duration("ttl", cfg.Engine.ThresholdCacheTTL))
	}
	return nil
}

func sourceName(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}

// maintainSchema runs the schema commands. Auto-migration is skipped so a
// rollback is not undone on connect.
func maintainSchema(ctx context.Context, dbCfg config.DatabaseConfig, opts options, log *logger.Logger) error {
	dbCfg.AutoMigrate = false
	conn, err := bootstrap.ConnectPostgres(ctx, dbCfg, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	migrator := postgres.NewMigrator(conn)
	if opts.rollback {
		if err := migrator.Rollback(ctx); err != nil {
			return fmt.Errorf("failed to roll back: %w", err)
		}
		log.Info("last migration rolled back")
	}

	status, err := migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	pending := 0
	for _, m := range status {
		if !m.IsApplied {
			pending++
			log.Info("migration pending", logger.Int("version", m.Version), logger.String("name", m.Name))
			continue
		}
		log.Info("migration applied",
			logger.Int("version", m.Version),
			logger.String("name", m.Name),
			logger.String("applied_at", m.AppliedAt.Format(time.RFC3339)))
	}
	log.Info("migration status", logger.Int("total", len(status)), logger.Int("pending", pending))
	return nil
}
