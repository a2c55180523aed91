package progression

import (
	"context"

	"github.com/skillquest/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// ProfileRepository - хранилище профилей.
type ProfileRepository interface {
	// Get возвращает профиль.
	// Возвращает ErrProfileNotFound, если профиля нет.
	Get(ctx context.Context, userID shared.UserID) (*Profile, error)

	// Create вставляет профиль, если его ещё нет.
	// created == false означает, что профиль уже существовал.
	Create(ctx context.Context, profile *Profile) (created bool, err error)

	// Save записывает изменяемые поля одним условным UPDATE
	// (WHERE version = profile.Version) и увеличивает profile.Version.
	// Возвращает ErrProfileVersionStale, если версия изменилась,
	// и ErrProfileNotFound, если профиля нет.
	Save(ctx context.Context, profile *Profile) error

	// ListAfter возвращает до limit профилей с UserID > after в порядке UserID.
	// Используется для постраничного обхода.
	ListAfter(ctx context.Context, after shared.UserID, limit int) ([]*Profile, error)

	// CountWithMoreXP возвращает число профилей с XP строго больше xp.
	CountWithMoreXP(ctx context.Context, xp int) (int, error)
}

// ThresholdRepository - хранилище таблицы level_thresholds.
type ThresholdRepository interface {
	// List возвращает все строки в порядке уровня.
	List(ctx context.Context) ([]Threshold, error)

	// Replace заменяет таблицу целиком (используется при загрузке каталога).
	Replace(ctx context.Context, rows []Threshold) error
}
