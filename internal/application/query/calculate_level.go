package query

import (
	"context"
	"fmt"

	"github.com/skillquest/progression-engine/internal/application/levels"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
)

// CalculateLevelHandler resolves an XP value against the loaded table.
type CalculateLevelHandler struct {
	levels *levels.Provider
}

// NewCalculateLevelHandler creates a new CalculateLevelHandler.
func NewCalculateLevelHandler(levels *levels.Provider) *CalculateLevelHandler {
	return &CalculateLevelHandler{levels: levels}
}

// Handle returns the level info for xp. Negative xp is rejected.
func (h *CalculateLevelHandler) Handle(ctx context.Context, xp int) (progression.LevelInfo, error) {
	if xp < 0 {
		return progression.LevelInfo{}, shared.Validationf("progression", "CalculateLevel", "xp cannot be negative")
	}

	resolver, err := h.levels.Resolver(ctx)
	if err != nil {
		return progression.LevelInfo{}, fmt.Errorf("calculate_level: %w", err)
	}
	return resolver.Resolve(xp), nil
}
