package challenge

import (
	"context"
	"time"

	"github.com/skillquest/progression-engine/internal/domain/shared"
)

// CatalogRepository - каталог челленджей.
type CatalogRepository interface {
	// Get возвращает ErrChallengeNotFound для неизвестного id.
	Get(ctx context.Context, id shared.ChallengeID) (Challenge, error)

	// GetMany возвращает найденные челленджи по id; отсутствующие пропускаются.
	GetMany(ctx context.Context, ids []shared.ChallengeID) (map[shared.ChallengeID]Challenge, error)

	List(ctx context.Context) ([]Challenge, error)

	Upsert(ctx context.Context, challenges []Challenge) error
}

// UserChallengeRepository - участие пользователей в челленджах.
type UserChallengeRepository interface {
	// Get возвращает ErrChallengeNotFound, если пользователь не участвует.
	Get(ctx context.Context, userID shared.UserID, challengeID shared.ChallengeID) (UserChallenge, error)

	// Join вставляет участие с прогрессом 0, если его ещё нет.
	Join(ctx context.Context, userID shared.UserID, challengeID shared.ChallengeID, at time.Time) (created bool, err error)

	// ListActive возвращает незавершённые участия пользователя.
	ListActive(ctx context.Context, userID shared.UserID) ([]UserChallenge, error)

	// SaveProgress пишет прогресс условно:
	// WHERE completed_at IS NULL AND current_progress = oldProgress.
	// completedAt != nil устанавливает завершение той же записью.
	// ok == false означает, что строка изменилась.
	SaveProgress(ctx context.Context, userID shared.UserID, challengeID shared.ChallengeID,
		oldProgress, newProgress int, completedAt *time.Time) (ok bool, err error)

	// CountActive считает незавершённые участия.
	CountActive(ctx context.Context, userID shared.UserID) (int, error)
}
