// Package challenge содержит челленджи, их совместимость с событиями
// и переход прогресса.
//
// Состояния челленджа пользователя:
//
//	active (CompletedAt == nil) → completed (CompletedAt установлен, терминально)
//
// Прогресс никогда не превышает цель; CompletedAt ставится не более одного раза.
package challenge

import (
	"time"

	"github.com/skillquest/progression-engine/internal/domain/shared"
)

// Type - тип челленджа.
type Type string

const (
	TypeDaily   Type = "daily"
	TypeWeekly  Type = "weekly"
	TypeSpecial Type = "special"
)

// IsValid проверяет тип.
func (t Type) IsValid() bool {
	switch t {
	case TypeDaily, TypeWeekly, TypeSpecial:
		return true
	}
	return false
}

// Challenge - челлендж каталога.
type Challenge struct {
	ID          shared.ChallengeID `json:"id" yaml:"id"`
	Title       string             `json:"title" yaml:"title"`
	Type        Type               `json:"type" yaml:"type"`
	TargetValue int                `json:"target_value" yaml:"target_value"`
	XPReward    int                `json:"xp_reward" yaml:"xp_reward"`
	IsActive    bool               `json:"is_active" yaml:"is_active"`
	StartDate   *time.Time         `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate     *time.Time         `json:"end_date,omitempty" yaml:"end_date,omitempty"`
}

// Validate проверяет челлендж каталога.
func (c Challenge) Validate() error {
	switch {
	case !c.ID.IsValid():
		return shared.Validationf("challenge", "Validate", "invalid challenge id %q", c.ID)
	case !c.Type.IsValid():
		return shared.Validationf("challenge", "Validate", "challenge %s: unknown type %q", c.ID, c.Type)
	case c.XPReward < 0:
		return shared.Validationf("challenge", "Validate", "challenge %s: xp reward cannot be negative", c.ID)
	case c.XPReward > shared.MaxXP:
		return shared.Validationf("challenge", "Validate", "challenge %s: xp reward above %d", c.ID, shared.MaxXP)
	case c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate):
		return shared.Validationf("challenge", "Validate", "challenge %s: end date before start date", c.ID)
	}
	return nil
}

// Target возвращает цель; значение <= 0 считается равным 1.
func (c Challenge) Target() int {
	if c.TargetValue <= 0 {
		return 1
	}
	return c.TargetValue
}

// IsOpen - челлендж активен и now попадает в окно [StartDate, EndDate].
// Отсутствующая граница окна не ограничивает.
func (c Challenge) IsOpen(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return false
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return false
	}
	return true
}

// UserChallenge - участие пользователя в челлендже.
type UserChallenge struct {
	UserID          shared.UserID
	ChallengeID     shared.ChallengeID
	CurrentProgress int
	JoinedAt        time.Time
	CompletedAt     *time.Time
}

// IsCompleted проверяет терминальное состояние.
func (uc UserChallenge) IsCompleted() bool {
	return uc.CompletedAt != nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS TRANSITION
// ══════════════════════════════════════════════════════════════════════════════

// Step - вычисленный переход прогресса одного челленджа.
type Step struct {
	OldProgress int
	NewProgress int

	// Completes - запись должна установить CompletedAt.
	Completes bool
}

// Changed - нужна ли запись.
func (s Step) Changed() bool {
	return s.NewProgress != s.OldProgress || s.Completes
}

// Advance вычисляет новый прогресс: min(progress + increment, target).
// Завершённый челлендж не двигается.
func Advance(uc UserChallenge, c Challenge, increment int) Step {
	step := Step{OldProgress: uc.CurrentProgress, NewProgress: uc.CurrentProgress}
	if uc.IsCompleted() || increment < 1 {
		return step
	}

	target := c.Target()
	next := uc.CurrentProgress + increment
	if next > target {
		next = target
	}

	step.NewProgress = next
	step.Completes = next >= target
	return step
}

// Result - итог по одному челленджу после применения события.
type Result struct {
	ChallengeID shared.ChallengeID `json:"challenge_id"`
	NewProgress int                `json:"new_progress"`
	Target      int                `json:"target"`
	Completed   bool               `json:"completed"`
	XPAwarded   int                `json:"xp_awarded"`
}
