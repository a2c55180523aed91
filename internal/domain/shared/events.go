package shared

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

// Progression event types. Analytics consumers key on these names.
const (
	EventXPAwarded         EventType = "xp_awarded"
	EventLevelUp           EventType = "level_up"
	EventSkillUnlocked     EventType = "skill_unlocked"
	EventSkillCompleted    EventType = "skill_complete"
	EventChallengeComplete EventType = "challenge_complete"
	EventStreakMilestone   EventType = "streak_milestone"
	EventDailyLogin        EventType = "daily_login"
	EventLessonCompleted   EventType = "lesson_complete"
)

// SchemaVersion of every payload defined in this file.
const SchemaVersion = 1

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the user the event belongs to.
	AggregateID() string

	// Base returns the event header.
	Base() BaseEvent
}

// BaseEvent is the header shared by all events. It is carried in the
// envelope, never inside the payload.
type BaseEvent struct {
	ID            string    `json:"-"`
	Type          EventType `json:"-"`
	Timestamp     time.Time `json:"-"`
	AggregateId   string    `json:"-"`
	Version       int       `json:"-"`
	CorrelationID string    `json:"-"`
	SessionID     string    `json:"-"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// Base implements Event interface.
func (e BaseEvent) Base() BaseEvent {
	return e
}

func (e *BaseEvent) setBase(b BaseEvent) {
	*e = b
}

// NewBaseEvent creates a new event header with a fresh id, stamped with the
// request metadata and the handler clock's now.
func NewBaseEvent(eventType EventType, userID UserID, meta RequestMeta, now time.Time) BaseEvent {
	return BaseEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		Timestamp:     now.UTC(),
		AggregateId:   string(userID),
		Version:       SchemaVersion,
		CorrelationID: meta.CorrelationID,
		SessionID:     meta.SessionID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// XP & Level Events
// ═══════════════════════════════════════════════════════════════════════════

// XPAwardedEvent is emitted for every non-zero XP award.
type XPAwardedEvent struct {
	BaseEvent
	UserID   UserID   `json:"user_id"`
	Amount   int      `json:"amount"`
	Source   XPSource `json:"source"`
	SourceID string   `json:"source_id,omitempty"`
	NewTotal int      `json:"new_total"`
}

// NewXPAwardedEvent creates a new XPAwardedEvent.
func NewXPAwardedEvent(userID UserID, amount int, source XPSource, sourceID string, newTotal int, meta RequestMeta, now time.Time) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent: NewBaseEvent(EventXPAwarded, userID, meta, now),
		UserID:    userID,
		Amount:    amount,
		Source:    source,
		SourceID:  sourceID,
		NewTotal:  newTotal,
	}
}

// LevelUpEvent is emitted when an award moves the user to a higher level.
type LevelUpEvent struct {
	BaseEvent
	UserID   UserID `json:"user_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
	Tier     string `json:"tier"`
	TotalXP  int    `json:"total_xp"`
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID UserID, oldLevel, newLevel int, tier string, totalXP int, meta RequestMeta, now time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID, meta, now),
		UserID:    userID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		Tier:      tier,
		TotalXP:   totalXP,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Skill Events
// ═══════════════════════════════════════════════════════════════════════════

// SkillUnlockedEvent is emitted for each skill the level cascade makes available.
type SkillUnlockedEvent struct {
	BaseEvent
	UserID        UserID  `json:"user_id"`
	SkillID       SkillID `json:"skill_id"`
	RequiredLevel int     `json:"required_level"`
	UserLevel     int     `json:"user_level"`
}

// NewSkillUnlockedEvent creates a new SkillUnlockedEvent.
func NewSkillUnlockedEvent(userID UserID, skillID SkillID, requiredLevel, userLevel int, meta RequestMeta, now time.Time) SkillUnlockedEvent {
	return SkillUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventSkillUnlocked, userID, meta, now),
		UserID:        userID,
		SkillID:       skillID,
		RequiredLevel: requiredLevel,
		UserLevel:     userLevel,
	}
}

// SkillCompletedEvent is emitted when a user completes an available skill.
type SkillCompletedEvent struct {
	BaseEvent
	UserID  UserID  `json:"user_id"`
	SkillID SkillID `json:"skill_id"`
}

// NewSkillCompletedEvent creates a new SkillCompletedEvent.
func NewSkillCompletedEvent(userID UserID, skillID SkillID, meta RequestMeta, now time.Time) SkillCompletedEvent {
	return SkillCompletedEvent{
		BaseEvent: NewBaseEvent(EventSkillCompleted, userID, meta, now),
		UserID:    userID,
		SkillID:   skillID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Challenge & Lesson Events
// ═══════════════════════════════════════════════════════════════════════════

// ChallengeCompletedEvent is emitted once per user challenge, when progress
// first reaches the target.
type ChallengeCompletedEvent struct {
	BaseEvent
	UserID      UserID      `json:"user_id"`
	ChallengeID ChallengeID `json:"challenge_id"`
	XPReward    int         `json:"xp_reward"`
}

// NewChallengeCompletedEvent creates a new ChallengeCompletedEvent.
func NewChallengeCompletedEvent(userID UserID, challengeID ChallengeID, xpReward int, meta RequestMeta, now time.Time) ChallengeCompletedEvent {
	return ChallengeCompletedEvent{
		BaseEvent:   NewBaseEvent(EventChallengeComplete, userID, meta, now),
		UserID:      userID,
		ChallengeID: challengeID,
		XPReward:    xpReward,
	}
}

// LessonCompletedEvent is emitted when a lesson completion is recorded.
type LessonCompletedEvent struct {
	BaseEvent
	UserID           UserID   `json:"user_id"`
	LessonID         LessonID `json:"lesson_id"`
	XPEarned         int      `json:"xp_earned"`
	TimeSpentSeconds *int     `json:"time_spent_seconds,omitempty"`
}

// NewLessonCompletedEvent creates a new LessonCompletedEvent.
func NewLessonCompletedEvent(userID UserID, lessonID LessonID, xpEarned int, timeSpent *int, meta RequestMeta, now time.Time) LessonCompletedEvent {
	return LessonCompletedEvent{
		BaseEvent:        NewBaseEvent(EventLessonCompleted, userID, meta, now),
		UserID:           userID,
		LessonID:         lessonID,
		XPEarned:         xpEarned,
		TimeSpentSeconds: timeSpent,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// DailyLoginEvent is emitted on every call that advances the streak day.
type DailyLoginEvent struct {
	BaseEvent
	UserID      UserID `json:"user_id"`
	Day         string `json:"day"`
	Streak      int    `json:"streak"`
	IsNewRecord bool   `json:"is_new_record"`
}

// NewDailyLoginEvent creates a new DailyLoginEvent.
func NewDailyLoginEvent(userID UserID, day string, streak int, isNewRecord bool, meta RequestMeta, now time.Time) DailyLoginEvent {
	return DailyLoginEvent{
		BaseEvent:   NewBaseEvent(EventDailyLogin, userID, meta, now),
		UserID:      userID,
		Day:         day,
		Streak:      streak,
		IsNewRecord: isNewRecord,
	}
}

// StreakMilestoneEvent is emitted when the current streak sets a new record.
type StreakMilestoneEvent struct {
	BaseEvent
	UserID UserID `json:"user_id"`
	Streak int    `json:"streak"`
}

// NewStreakMilestoneEvent creates a new StreakMilestoneEvent.
func NewStreakMilestoneEvent(userID UserID, streak int, meta RequestMeta, now time.Time) StreakMilestoneEvent {
	return StreakMilestoneEvent{
		BaseEvent: NewBaseEvent(EventStreakMilestone, userID, meta, now),
		UserID:    userID,
		Streak:    streak,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope serializes an event. The envelope id is the event id; events
// built without a constructor get a fresh one.
func NewEnvelope(event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s payload: %w", event.EventType(), err)
	}

	base := event.Base()
	id := base.ID
	if id == "" {
		id = uuid.NewString()
	}
	return EventEnvelope{
		ID:            id,
		Type:          base.Type,
		AggregateID:   base.AggregateId,
		Timestamp:     base.Timestamp,
		Version:       base.Version,
		CorrelationID: base.CorrelationID,
		SessionID:     base.SessionID,
		Payload:       payload,
	}, nil
}

type eventDecoder func(base BaseEvent, payload json.RawMessage) (Event, error)

var eventDecoders = map[EventType]eventDecoder{
	EventXPAwarded:         decodeInto[XPAwardedEvent, *XPAwardedEvent],
	EventLevelUp:           decodeInto[LevelUpEvent, *LevelUpEvent],
	EventSkillUnlocked:     decodeInto[SkillUnlockedEvent, *SkillUnlockedEvent],
	EventSkillCompleted:    decodeInto[SkillCompletedEvent, *SkillCompletedEvent],
	EventChallengeComplete: decodeInto[ChallengeCompletedEvent, *ChallengeCompletedEvent],
	EventLessonCompleted:   decodeInto[LessonCompletedEvent, *LessonCompletedEvent],
	EventDailyLogin:        decodeInto[DailyLoginEvent, *DailyLoginEvent],
	EventStreakMilestone:   decodeInto[StreakMilestoneEvent, *StreakMilestoneEvent],
}

func decodeInto[T any, PT interface {
	*T
	setBase(BaseEvent)
}](base BaseEvent, payload json.RawMessage) (Event, error) {
	var v T
	if err := strictUnmarshal(payload, PT(&v)); err != nil {
		return nil, err
	}
	PT(&v).setBase(base)

	event, ok := any(v).(Event)
	if !ok {
		return nil, fmt.Errorf("%T does not implement Event", v)
	}
	return event, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// DecodeEnvelope parses a serialized envelope into its typed event.
// Unknown event types, unknown schema versions and unknown fields are rejected.
func DecodeEnvelope(data []byte) (EventEnvelope, Event, error) {
	var env EventEnvelope
	if err := strictUnmarshal(data, &env); err != nil {
		return EventEnvelope{}, nil, WrapError("events", "Decode", ErrValidation, "malformed envelope", err)
	}

	decode, ok := eventDecoders[env.Type]
	if !ok {
		return env, nil, Validationf("events", "Decode", "unknown event type %q", env.Type)
	}
	if env.Version != SchemaVersion {
		return env, nil, Validationf("events", "Decode", "unsupported %s schema version %d", env.Type, env.Version)
	}

	event, err := decode(BaseEvent{
		ID:            env.ID,
		Type:          env.Type,
		Timestamp:     env.Timestamp,
		AggregateId:   env.AggregateID,
		Version:       env.Version,
		CorrelationID: env.CorrelationID,
		SessionID:     env.SessionID,
	}, env.Payload)
	if err != nil {
		return env, nil, WrapError("events", "Decode", ErrValidation, "malformed payload", err)
	}

	return env, event, nil
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
