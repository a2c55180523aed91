// Package skill содержит каталог навыков и состояние навыков пользователя.
//
// Состояния навыка пользователя:
//
//	locked (строки нет) → available (каскад по уровню) → completed (CompleteSkill)
//
// "locked" никогда не хранится: это отсутствие строки user_skills.
// Переход available → completed односторонний, CompletedAt ставится один раз.
package skill

import (
	"context"
	"sort"
	"time"

	"github.com/skillquest/progression-engine/internal/domain/shared"
)

// Skill - навык каталога. Для движка неизменяем.
type Skill struct {
	ID            shared.SkillID `json:"id" yaml:"id"`
	Name          string         `json:"name" yaml:"name"`
	Description   string         `json:"description" yaml:"description"`
	RequiredLevel int            `json:"required_level" yaml:"required_level"`
}

// Validate проверяет навык каталога.
func (s Skill) Validate() error {
	if !s.ID.IsValid() {
		return shared.Validationf("skill", "Validate", "invalid skill id %q", s.ID)
	}
	if s.RequiredLevel < 1 {
		return shared.Validationf("skill", "Validate", "skill %s: required level must be at least 1", s.ID)
	}
	return nil
}

// Status - хранимое состояние навыка пользователя.
type Status string

const (
	StatusAvailable Status = "available"
	StatusCompleted Status = "completed"

	// StatusLocked не хранится; используется только в дереве навыков.
	StatusLocked Status = "locked"
)

// UserSkill - строка user_skills.
type UserSkill struct {
	UserID      shared.UserID
	SkillID     shared.SkillID
	Status      Status
	UnlockedAt  time.Time
	CompletedAt *time.Time
}

// IsCompleted проверяет терминальное состояние.
func (us UserSkill) IsCompleted() bool {
	return us.Status == StatusCompleted
}

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCKER
// ══════════════════════════════════════════════════════════════════════════════

// Unlockable возвращает навыки каталога с RequiredLevel <= level,
// которых ещё нет у пользователя. Порядок: по уровню, затем по id.
// Чистая функция; повторный вызов после вставки даёт пустой результат.
func Unlockable(catalog []Skill, level int, existing map[shared.SkillID]struct{}) []Skill {
	out := make([]Skill, 0)
	for _, s := range catalog {
		if s.RequiredLevel > level {
			continue
		}
		if _, ok := existing[s.ID]; ok {
			continue
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].RequiredLevel != out[j].RequiredLevel {
			return out[i].RequiredLevel < out[j].RequiredLevel
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IDs собирает id навыков.
func IDs(skills []Skill) []shared.SkillID {
	ids := make([]shared.SkillID, len(skills))
	for i, s := range skills {
		ids[i] = s.ID
	}
	return ids
}

// ══════════════════════════════════════════════════════════════════════════════
// TREE
// ══════════════════════════════════════════════════════════════════════════════

// TreeNode - навык каталога со статусом для конкретного пользователя.
type TreeNode struct {
	Skill       Skill      `json:"skill"`
	Status      Status     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BuildTree соединяет каталог и строки пользователя.
func BuildTree(catalog []Skill, owned []UserSkill) []TreeNode {
	byID := make(map[shared.SkillID]UserSkill, len(owned))
	for _, us := range owned {
		byID[us.SkillID] = us
	}

	nodes := make([]TreeNode, 0, len(catalog))
	for _, s := range catalog {
		node := TreeNode{Skill: s, Status: StatusLocked}
		if us, ok := byID[s.ID]; ok {
			node.Status = us.Status
			node.CompletedAt = us.CompletedAt
		}
		nodes = append(nodes, node)
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Skill.RequiredLevel < nodes[j].Skill.RequiredLevel
	})
	return nodes
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORIES
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository - каталог навыков.
type CatalogRepository interface {
	// Get возвращает ErrSkillNotFound для неизвестного id.
	Get(ctx context.Context, id shared.SkillID) (Skill, error)

	// ListUpToLevel возвращает навыки с RequiredLevel <= level.
	ListUpToLevel(ctx context.Context, level int) ([]Skill, error)

	// List возвращает весь каталог.
	List(ctx context.Context) ([]Skill, error)

	// Upsert добавляет или обновляет навыки (загрузка каталога).
	Upsert(ctx context.Context, skills []Skill) error
}

// UserSkillRepository - навыки пользователя.
type UserSkillRepository interface {
	// Get возвращает ErrSkillLocked, если строки нет.
	Get(ctx context.Context, userID shared.UserID, skillID shared.SkillID) (UserSkill, error)

	// ListByUser возвращает все строки пользователя.
	ListByUser(ctx context.Context, userID shared.UserID) ([]UserSkill, error)

	// InsertAvailable вставляет навыки со статусом available,
	// пропуская существующие пары. Возвращает id реально вставленных строк.
	InsertAvailable(ctx context.Context, userID shared.UserID, skillIDs []shared.SkillID, at time.Time) ([]shared.SkillID, error)

	// MarkCompleted выполняет условный переход available → completed.
	// ok == false, если строка не в статусе available.
	MarkCompleted(ctx context.Context, userID shared.UserID, skillID shared.SkillID, at time.Time) (ok bool, err error)

	// CountByStatus считает строки пользователя в статусе.
	CountByStatus(ctx context.Context, userID shared.UserID, status Status) (int, error)
}
