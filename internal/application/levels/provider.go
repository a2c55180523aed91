// Package levels keeps the currently loaded threshold table and hands out
// level resolvers built from it.
package levels

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/pkg/logger"
)

// Provider loads the threshold table lazily and caches the resolver.
// Concurrent loads collapse into one repository call.
type Provider struct {
	repo   progression.ThresholdRepository
	span   int
	log    *logger.Logger
	group  singleflight.Group
	loaded atomic.Pointer[progression.LevelResolver]
}

// NewProvider creates a provider. span <= 0 selects the default span.
func NewProvider(repo progression.ThresholdRepository, span int, log *logger.Logger) *Provider {
	if log == nil {
		log = logger.Default()
	}
	return &Provider{
		repo: repo,
		span: span,
		log:  log.With(logger.Component("levels")),
	}
}

// Resolver returns the cached resolver, loading the table on first use.
func (p *Provider) Resolver(ctx context.Context) (*progression.LevelResolver, error) {
	if r := p.loaded.Load(); r != nil {
		return r, nil
	}
	return p.Refresh(ctx)
}

// Refresh reloads the table from the repository and swaps the resolver.
// An invalid table is rejected and the previous resolver stays in place.
func (p *Provider) Refresh(ctx context.Context) (*progression.LevelResolver, error) {
	v, err, _ := p.group.Do("thresholds", func() (any, error) {
		rows, err := p.repo.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("load thresholds: %w", err)
		}

		table, err := progression.NewThresholdTable(rows)
		if err != nil {
			return nil, err
		}
		if table.IsEmpty() {
			p.log.Warn("level threshold table is empty, using linear fallback curve",
				logger.Int("span", progression.DefaultLevelSpan))
		}

		r := progression.NewLevelResolver(table, p.span)
		p.loaded.Store(r)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*progression.LevelResolver), nil
}

// Set installs a table directly. Used by catalog seeding and tests.
func (p *Provider) Set(table progression.ThresholdTable) {
	p.loaded.Store(progression.NewLevelResolver(table, p.span))
}
