// Package lesson содержит каталог уроков и завершения уроков.
//
// Пара (пользователь, урок) уникальна: XP за урок начисляется не более одного раза.
// Завершение хранит снимок начисленного XP, независимый от последующих правок каталога.
package lesson

import (
	"context"
	"time"

	"github.com/skillquest/progression-engine/internal/domain/shared"
)

// Lesson - урок каталога.
type Lesson struct {
	ID       shared.LessonID `json:"id" yaml:"id"`
	Title    string          `json:"title" yaml:"title"`
	XPReward int             `json:"xp_reward" yaml:"xp_reward"`
	IsActive bool            `json:"is_active" yaml:"is_active"`
}

// Validate проверяет урок каталога.
func (l Lesson) Validate() error {
	if !l.ID.IsValid() {
		return shared.Validationf("lesson", "Validate", "invalid lesson id %q", l.ID)
	}
	if l.XPReward < 0 {
		return shared.Validationf("lesson", "Validate", "lesson %s: xp reward cannot be negative", l.ID)
	}
	if l.XPReward > shared.MaxXP {
		return shared.Validationf("lesson", "Validate", "lesson %s: xp reward above %d", l.ID, shared.MaxXP)
	}
	return nil
}

// Completion - строка lesson_completions.
type Completion struct {
	UserID           shared.UserID
	LessonID         shared.LessonID
	XPEarned         int
	TimeSpentSeconds *int
	CompletedAt      time.Time
}

// NewCompletion создаёт завершение со снимком награды урока.
func NewCompletion(userID shared.UserID, l Lesson, timeSpent *int, at time.Time) (Completion, error) {
	if timeSpent != nil && *timeSpent < 0 {
		return Completion{}, shared.ErrNegativeTimeSpent
	}
	return Completion{
		UserID:           userID,
		LessonID:         l.ID,
		XPEarned:         l.XPReward,
		TimeSpentSeconds: timeSpent,
		CompletedAt:      at,
	}, nil
}

// CatalogRepository - каталог уроков.
type CatalogRepository interface {
	// Get возвращает ErrLessonNotFound для неизвестного id.
	Get(ctx context.Context, id shared.LessonID) (Lesson, error)
	List(ctx context.Context) ([]Lesson, error)
	Upsert(ctx context.Context, lessons []Lesson) error
}

// CompletionRepository - завершения уроков.
type CompletionRepository interface {
	// Insert вставляет завершение, если пары ещё нет (ON CONFLICT DO NOTHING).
	// created == false - урок уже завершён.
	Insert(ctx context.Context, c Completion) (created bool, err error)

	// Get возвращает ErrLessonNotFound, если завершения нет.
	Get(ctx context.Context, userID shared.UserID, lessonID shared.LessonID) (Completion, error)

	CountByUser(ctx context.Context, userID shared.UserID) (int, error)
}
