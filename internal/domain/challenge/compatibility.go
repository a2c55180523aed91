package challenge

import (
	"fmt"

	"github.com/skillquest/progression-engine/internal/domain/shared"
)

// EventKind - вид события, двигающего челленджи.
type EventKind string

const (
	EventLessonComplete EventKind = "lesson_complete"
	EventVideoComplete  EventKind = "video_complete"
	EventSkillComplete  EventKind = "skill_complete"
)

// IsValid проверяет вид события.
func (k EventKind) IsValid() bool {
	switch k {
	case EventLessonComplete, EventVideoComplete, EventSkillComplete:
		return true
	}
	return false
}

// ParseEventKind разбирает строку из запроса.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.IsValid() {
		return "", shared.WrapError("challenge", "ApplyEvent", shared.ErrValidation,
			"unrecognized event type", fmt.Errorf("event type %q", s))
	}
	return k, nil
}

// Compatibility - проверенная таблица "вид события → допустимые типы челленджей".
type Compatibility struct {
	eligible map[EventKind]map[Type]struct{}
}

// DefaultCompatibilityTable - таблица по умолчанию.
// Завершение навыка не засчитывается ежедневным челленджам.
func DefaultCompatibilityTable() map[EventKind][]Type {
	return map[EventKind][]Type{
		EventLessonComplete: {TypeDaily, TypeWeekly, TypeSpecial},
		EventVideoComplete:  {TypeDaily, TypeWeekly, TypeSpecial},
		EventSkillComplete:  {TypeWeekly, TypeSpecial},
	}
}

// NewCompatibility проверяет таблицу: виды и типы известны, наборы не пусты.
func NewCompatibility(table map[EventKind][]Type) (*Compatibility, error) {
	if len(table) == 0 {
		return nil, shared.Validationf("challenge", "NewCompatibility", "compatibility table is empty")
	}

	eligible := make(map[EventKind]map[Type]struct{}, len(table))
	for kind, types := range table {
		if !kind.IsValid() {
			return nil, shared.Validationf("challenge", "NewCompatibility", "unknown event kind %q", kind)
		}
		if len(types) == 0 {
			return nil, shared.Validationf("challenge", "NewCompatibility", "event kind %q has no eligible types", kind)
		}

		set := make(map[Type]struct{}, len(types))
		for _, t := range types {
			if !t.IsValid() {
				return nil, shared.Validationf("challenge", "NewCompatibility", "event kind %q: unknown challenge type %q", kind, t)
			}
			set[t] = struct{}{}
		}
		eligible[kind] = set
	}

	return &Compatibility{eligible: eligible}, nil
}

// MustCompatibility паникует при невалидной таблице.
func MustCompatibility(table map[EventKind][]Type) *Compatibility {
	c, err := NewCompatibility(table)
	if err != nil {
		panic(err)
	}
	return c
}

// Accepts - засчитывается ли событие kind челленджу типа t.
func (c *Compatibility) Accepts(kind EventKind, t Type) bool {
	set, ok := c.eligible[kind]
	if !ok {
		return false
	}
	_, ok = set[t]
	return ok
}

// Knows - есть ли вид события в таблице.
func (c *Compatibility) Knows(kind EventKind) bool {
	_, ok := c.eligible[kind]
	return ok
}
