package progression

import (
	"time"

	"github.com/skillquest/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE AGGREGATE
// ══════════════════════════════════════════════════════════════════════════════

// Profile - агрегат прогресса пользователя. Запись выполняет только движок.
type Profile struct {
	UserID shared.UserID

	// XP - накопленный опыт, не убывает.
	XP int

	// Level и Tier - кэш результата LevelResolver для XP.
	Level int
	Tier  Tier

	CurrentStreak int
	LongestStreak int

	// LastActiveDate - календарный день последней активности (nil до первой).
	LastActiveDate *time.Time

	Role shared.Role

	// Version - счётчик оптимистичной блокировки.
	// Хранилище принимает запись только при совпадении версии.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InitialVersion - версия только что созданного профиля.
const InitialVersion int64 = 1

// NewProfile создаёт профиль в начальном состоянии регистрации.
func NewProfile(userID shared.UserID, role shared.Role, now time.Time) (*Profile, error) {
	if !userID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	if role == "" {
		role = shared.RoleStudent
	}
	if !role.IsValid() {
		return nil, shared.Validationf("progression", "Register", "unknown role %q", role)
	}

	return &Profile{
		UserID:    userID,
		XP:        0,
		Level:     1,
		Tier:      TierBronze,
		Role:      role,
		Version:   InitialVersion,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Clone возвращает независимую копию.
func (p *Profile) Clone() *Profile {
	c := *p
	if p.LastActiveDate != nil {
		d := *p.LastActiveDate
		c.LastActiveDate = &d
	}
	return &c
}

// Validate проверяет инварианты агрегата.
func (p *Profile) Validate() error {
	switch {
	case p.XP < 0:
		return shared.Validationf("progression", "Validate", "xp cannot be negative")
	case p.Level < 1:
		return shared.Validationf("progression", "Validate", "level must be at least 1")
	case p.CurrentStreak < 0:
		return shared.Validationf("progression", "Validate", "streak cannot be negative")
	case p.LongestStreak < p.CurrentStreak:
		return shared.Validationf("progression", "Validate", "longest streak %d below current %d", p.LongestStreak, p.CurrentStreak)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// XP
// ──────────────────────────────────────────────────────────────────────────────

// XPChange описывает результат начисления опыта.
type XPChange struct {
	OldXP     int
	NewXP     int
	OldLevel  int
	NewLevel  int
	NewTier   Tier
	LeveledUp bool
}

// ApplyXP начисляет amount и пересчитывает уровень.
// OldLevel берётся из резолвера по старому XP, а не из кэша профиля.
// Кэш уровня не опускается: резолвер может работать по устаревшей таблице,
// а сверка уже подняла уровень по новой.
func (p *Profile) ApplyXP(amount int, resolver *LevelResolver, now time.Time) (XPChange, error) {
	if amount < 0 {
		return XPChange{}, shared.ErrNegativeXP
	}
	if !shared.XP(p.XP).CanAdd(amount) {
		return XPChange{}, shared.ErrXPOverflow
	}

	oldInfo := resolver.Resolve(p.XP)
	newXP := shared.XP(p.XP).Add(amount).Int()
	newInfo := resolver.Resolve(newXP)

	change := XPChange{
		OldXP:     p.XP,
		NewXP:     newXP,
		OldLevel:  oldInfo.Level,
		NewLevel:  newInfo.Level,
		NewTier:   newInfo.Tier,
		LeveledUp: newInfo.Level > oldInfo.Level,
	}

	p.XP = newXP
	if newInfo.Level >= p.Level {
		p.Level = newInfo.Level
		p.Tier = newInfo.Tier
	}
	p.UpdatedAt = now

	return change, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// STREAK
// ──────────────────────────────────────────────────────────────────────────────

// StreakState возвращает текущее состояние серии.
func (p *Profile) StreakState() StreakState {
	return StreakState{
		Current:        p.CurrentStreak,
		Longest:        p.LongestStreak,
		LastActiveDate: p.LastActiveDate,
	}
}

// ApplyStreak переводит серию на день today и сохраняет результат в профиле.
func (p *Profile) ApplyStreak(today time.Time, now time.Time) StreakTransition {
	tr := AdvanceStreak(p.StreakState(), today)
	if !tr.Changed {
		return tr
	}

	p.CurrentStreak = tr.After.Current
	p.LongestStreak = tr.After.Longest
	p.LastActiveDate = tr.After.LastActiveDate
	p.UpdatedAt = now
	return tr
}
