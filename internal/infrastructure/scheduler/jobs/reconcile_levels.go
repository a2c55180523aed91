package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/skillquest/progression-engine/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE LEVELS JOB
// ══════════════════════════════════════════════════════════════════════════════

// LevelReconciler raises profile levels that lag behind the threshold table.
type LevelReconciler interface {
	RefreshLevels(ctx context.Context) error
	ReconcileLevels(ctx context.Context, batchSize int) (*command.ReconcileLevelsResult, error)
}

// ReconcileLevelsJob reloads the threshold table and sweeps all profiles.
type ReconcileLevelsJob struct {
	engine  LevelReconciler
	config  ReconcileLevelsConfig
	logger  *slog.Logger
	lastRun atomic.Value // ReconcileStats
}

// ReconcileLevelsConfig contains configuration for the job.
type ReconcileLevelsConfig struct {
	// BatchSize is the page size of the profile scan.
	BatchSize int

	// Enabled gates each run; nil means always on.
	Enabled func() bool

	// Timeout bounds one sweep.
	Timeout time.Duration
}

// DefaultReconcileLevelsConfig returns sensible defaults.
func DefaultReconcileLevelsConfig() ReconcileLevelsConfig {
	return ReconcileLevelsConfig{
		BatchSize: 200,
		Timeout:   10 * time.Minute,
	}
}

// ReconcileStats summarizes the last sweep.
type ReconcileStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Scanned   int
	Raised    int
	Events    int
}

// NewReconcileLevelsJob creates the job.
func NewReconcileLevelsJob(engine LevelReconciler, config ReconcileLevelsConfig, logger *slog.Logger) *ReconcileLevelsJob {
	defaults := DefaultReconcileLevelsConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Enabled == nil {
		config.Enabled = func() bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileLevelsJob{
		engine: engine,
		config: config,
		logger: logger.With("job", "reconcile_levels"),
	}
}

// Name returns the unique name of the job.
func (j *ReconcileLevelsJob) Name() string { return "reconcile_levels" }

// Description returns a human-readable description of the job.
func (j *ReconcileLevelsJob) Description() string {
	return "Raises stale profile levels after threshold edits and unlocks their skills"
}

// Run executes the job.
func (j *ReconcileLevelsJob) Run(ctx context.Context) error {
	if !j.config.Enabled() {
		j.logger.Debug("skipped: level_reconcile disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	startedAt := time.Now()

	if err := j.engine.RefreshLevels(ctx); err != nil {
		return fmt.Errorf("reconcile levels: refresh thresholds: %w", err)
	}

	res, err := j.engine.ReconcileLevels(ctx, j.config.BatchSize)
	if err != nil {
		return fmt.Errorf("reconcile levels: %w", err)
	}

	stats := ReconcileStats{
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Scanned:   res.Scanned,
		Raised:    res.Raised,
		Events:    len(res.Events),
	}
	j.lastRun.Store(stats)

	j.logger.Info("levels reconciled",
		"scanned", stats.Scanned,
		"raised", stats.Raised,
		"events", stats.Events,
		"duration", stats.Duration.String(),
	)
	return nil
}

// LastRun returns the stats of the last successful sweep.
func (j *ReconcileLevelsJob) LastRun() (ReconcileStats, bool) {
	stats, ok := j.lastRun.Load().(ReconcileStats)
	return stats, ok
}
