package query

import (
	"context"
	"fmt"

	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
)

// SkillTreeQuery requests the catalog with the user's statuses.
type SkillTreeQuery struct {
	UserID shared.UserID
}

// SkillTreeHandler handles SkillTreeQuery.
type SkillTreeHandler struct {
	catalog    skill.CatalogRepository
	userSkills skill.UserSkillRepository
}

// NewSkillTreeHandler creates a new SkillTreeHandler.
func NewSkillTreeHandler(catalog skill.CatalogRepository, userSkills skill.UserSkillRepository) *SkillTreeHandler {
	return &SkillTreeHandler{catalog: catalog, userSkills: userSkills}
}

// Handle returns every catalog skill as locked, available or completed.
func (h *SkillTreeHandler) Handle(ctx context.Context, q SkillTreeQuery) ([]skill.TreeNode, error) {
	if !q.UserID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}

	catalog, err := h.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("skill_tree: %w", err)
	}
	owned, err := h.userSkills.ListByUser(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("skill_tree: %w", err)
	}

	return skill.BuildTree(catalog, owned), nil
}
