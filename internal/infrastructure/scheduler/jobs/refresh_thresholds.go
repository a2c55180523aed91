// Package jobs contains the engine's scheduled jobs.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH THRESHOLDS JOB
// ══════════════════════════════════════════════════════════════════════════════

// LevelRefresher reloads the level threshold table.
type LevelRefresher interface {
	RefreshLevels(ctx context.Context) error
}

// DashboardInvalidator drops every cached dashboard.
type DashboardInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// RefreshThresholdsJob reloads the threshold table so edits reach a running
// engine, then drops cached dashboards that were computed with the old table.
type RefreshThresholdsJob struct {
	levels    LevelRefresher
	dashboard DashboardInvalidator
	enabled   func() bool
	timeout   time.Duration
	logger    *slog.Logger
}

// RefreshThresholdsConfig contains configuration for the job.
type RefreshThresholdsConfig struct {
	// Enabled gates each run; nil means always on.
	Enabled func() bool

	// Timeout bounds one run.
	Timeout time.Duration
}

// NewRefreshThresholdsJob creates the job. dashboard may be nil when the
// dashboard cache is off.
func NewRefreshThresholdsJob(levels LevelRefresher, dashboard DashboardInvalidator, config RefreshThresholdsConfig, logger *slog.Logger) *RefreshThresholdsJob {
	if config.Enabled == nil {
		config.Enabled = func() bool { return true }
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshThresholdsJob{
		levels:    levels,
		dashboard: dashboard,
		enabled:   config.Enabled,
		timeout:   config.Timeout,
		logger:    logger.With("job", "refresh_thresholds"),
	}
}

// Name returns the unique name of the job.
func (j *RefreshThresholdsJob) Name() string { return "refresh_thresholds" }

// Description returns a human-readable description of the job.
func (j *RefreshThresholdsJob) Description() string {
	return "Reloads the level threshold table and drops cached dashboards"
}

// Run executes the job.
func (j *RefreshThresholdsJob) Run(ctx context.Context) error {
	if !j.enabled() {
		j.logger.Debug("skipped: threshold_refresh disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	if err := j.levels.RefreshLevels(ctx); err != nil {
		return fmt.Errorf("refresh thresholds: %w", err)
	}

	if j.dashboard != nil {
		if err := j.dashboard.InvalidateAll(ctx); err != nil {
			// The table is already live; cached dashboards expire on their own.
			j.logger.Warn("dashboard invalidation failed", "error", err)
		}
	}
	return nil
}
