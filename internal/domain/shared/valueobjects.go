package shared

import (
	"math"
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies an already-authenticated user (UUID format).
type UserID string

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsValid checks if the user ID is a valid UUID.
func (u UserID) IsValid() bool {
	return uuidRegex.MatchString(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.ToLower(strings.TrimSpace(id)))
	if !uid.IsValid() {
		return "", ErrInvalidUserID
	}
	return uid, nil
}

// catalogIDRegex accepts UUIDs as well as slugs like "intro-to-go".
var catalogIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:-]{0,63}$`)

// LessonID identifies a lesson in the catalog.
type LessonID string

// SkillID identifies a skill in the catalog.
type SkillID string

// ChallengeID identifies a challenge in the catalog.
type ChallengeID string

// IsValid checks the lesson ID format.
func (id LessonID) IsValid() bool { return catalogIDRegex.MatchString(string(id)) }

// IsValid checks the skill ID format.
func (id SkillID) IsValid() bool { return catalogIDRegex.MatchString(string(id)) }

// IsValid checks the challenge ID format.
func (id ChallengeID) IsValid() bool { return catalogIDRegex.MatchString(string(id)) }

func (id LessonID) String() string    { return string(id) }
func (id SkillID) String() string     { return string(id) }
func (id ChallengeID) String() string { return string(id) }

// NewLessonID validates and builds a LessonID.
func NewLessonID(id string) (LessonID, error) {
	lid := LessonID(strings.TrimSpace(id))
	if !lid.IsValid() {
		return "", Validationf("lesson", "Validate", "invalid lesson id %q", id)
	}
	return lid, nil
}

// NewSkillID validates and builds a SkillID.
func NewSkillID(id string) (SkillID, error) {
	sid := SkillID(strings.TrimSpace(id))
	if !sid.IsValid() {
		return "", Validationf("skill", "Validate", "invalid skill id %q", id)
	}
	return sid, nil
}

// NewChallengeID validates and builds a ChallengeID.
func NewChallengeID(id string) (ChallengeID, error) {
	cid := ChallengeID(strings.TrimSpace(id))
	if !cid.IsValid() {
		return "", Validationf("challenge", "Validate", "invalid challenge id %q", id)
	}
	return cid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XP is a cumulative, non-negative experience point counter.
type XP int

// MaxXP is the largest total a profile can hold; xp columns are INTEGER.
const MaxXP = math.MaxInt32

// IsValid checks that the value is non-negative.
func (x XP) IsValid() bool {
	return x >= 0
}

// Int returns the underlying int value.
func (x XP) Int() int {
	return int(x)
}

// CanAdd reports whether a non-negative amount fits under MaxXP.
func (x XP) CanAdd(amount int) bool {
	return amount >= 0 && amount <= MaxXP-int(x)
}

// Add returns x + amount. Callers check CanAdd beforehand.
func (x XP) Add(amount int) XP {
	return XP(int(x) + amount)
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Sources
// ═══════════════════════════════════════════════════════════════════════════

// XPSource labels where awarded XP came from.
type XPSource string

const (
	SourceLessonCompletion    XPSource = "lesson_completion"
	SourceChallengeCompletion XPSource = "challenge_completion"
	SourceManualGrant         XPSource = "manual_grant"
)

// IsValid requires a non-empty, reasonably short label.
func (s XPSource) IsValid() bool {
	trimmed := strings.TrimSpace(string(s))
	return trimmed != "" && len(trimmed) <= 64
}

// ═══════════════════════════════════════════════════════════════════════════
// Roles
// ═══════════════════════════════════════════════════════════════════════════

// Role is the profile's role column. The engine stores it but makes no
// authorization decisions with it.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// IsValid checks if the role is known.
func (r Role) IsValid() bool {
	return r == RoleStudent || r == RoleAdmin
}
