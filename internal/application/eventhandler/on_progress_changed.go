// Package eventhandler содержит обработчики доменных событий.
// Обработчики реагируют на уже зафиксированные изменения и запускают
// побочные эффекты: сброс кешей и журналирование достижений.
// Ошибка обработчика никогда не откатывает исходную операцию.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/skillquest/progression-engine/internal/application/query"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS CHANGED HANDLER
// Сбрасывает закешированную статистику дашборда пользователя после любого
// события, меняющего XP, уровень, навыки, испытания, уроки или серию.
//
// Ранги остальных пользователей при этом не пересчитываются: их кеш
// живёт не дольше TTL.
// ═══════════════════════════════════════════════════════════════════════════

// OnProgressChangedHandler сбрасывает кеш статистики дашборда.
type OnProgressChangedHandler struct {
	cache   query.StatsCache
	logger  *logger.Logger
	timeout time.Duration
}

// NewOnProgressChangedHandler создаёт обработчик. timeout <= 0 означает 2 секунды.
func NewOnProgressChangedHandler(cache query.StatsCache, log *logger.Logger, timeout time.Duration) *OnProgressChangedHandler {
	if log == nil {
		log = logger.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &OnProgressChangedHandler{
		cache:   cache,
		logger:  log.With(logger.Component("on_progress_changed")),
		timeout: timeout,
	}
}

// EventTypes возвращает события, на которые подписан обработчик.
func (h *OnProgressChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventXPAwarded,
		shared.EventLevelUp,
		shared.EventSkillUnlocked,
		shared.EventSkillCompleted,
		shared.EventChallengeComplete,
		shared.EventLessonCompleted,
		shared.EventDailyLogin,
	}
}

// Handle обрабатывает событие.
func (h *OnProgressChangedHandler) Handle(event shared.Event) error {
	if h.cache == nil {
		return nil
	}

	userID := shared.UserID(event.AggregateID())
	if !userID.IsValid() {
		h.logger.Warn("event without a valid user id",
			logger.EventType(string(event.EventType())),
			logger.String("aggregate_id", event.AggregateID()),
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("invalidate dashboard for %s: %w", userID, err)
	}

	h.logger.Debug("dashboard cache invalidated",
		logger.UserID(userID.String()),
		logger.EventType(string(event.EventType())),
	)
	return nil
}
