package eventhandler

import (
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON MILESTONE HANDLER
// Пишет в журнал достижения пользователя: новый уровень, рекорд серии,
// закрытое испытание. Журнал служит аудитом начислений.
// ═══════════════════════════════════════════════════════════════════════════

// OnMilestoneHandler журналирует достижения.
type OnMilestoneHandler struct {
	logger *logger.Logger
}

// NewOnMilestoneHandler создаёт обработчик.
func NewOnMilestoneHandler(log *logger.Logger) *OnMilestoneHandler {
	if log == nil {
		log = logger.Default()
	}
	return &OnMilestoneHandler{logger: log.With(logger.Component("on_milestone"))}
}

// EventTypes возвращает события, на которые подписан обработчик.
func (h *OnMilestoneHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventLevelUp,
		shared.EventStreakMilestone,
		shared.EventChallengeComplete,
	}
}

// Handle обрабатывает событие.
func (h *OnMilestoneHandler) Handle(event shared.Event) error {
	base := event.Base()
	fields := []logger.Field{
		logger.UserID(event.AggregateID()),
		logger.EventType(string(event.EventType())),
		logger.String("correlation_id", base.CorrelationID),
	}

	switch e := event.(type) {
	case shared.LevelUpEvent:
		h.logger.Info("level up", append(fields,
			logger.Int("old_level", e.OldLevel),
			logger.LevelValue(e.NewLevel),
			logger.String("tier", e.Tier),
			logger.Int("total_xp", e.TotalXP),
		)...)
	case shared.StreakMilestoneEvent:
		h.logger.Info("streak record", append(fields, logger.Int("streak", e.Streak))...)
	case shared.ChallengeCompletedEvent:
		h.logger.Info("challenge completed", append(fields,
			logger.String("challenge_id", string(e.ChallengeID)),
			logger.XPAmount(e.XPReward),
		)...)
	default:
		h.logger.Debug("milestone event ignored", fields...)
	}
	return nil
}
