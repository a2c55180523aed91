package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/skillquest/progression-engine/internal/application/command"
	"github.com/skillquest/progression-engine/internal/application/saga"
	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEVELS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleCalculateLevel(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("xp")
	xp, err := strconv.Atoi(raw)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, string(shared.KindValidation), "xp must be an integer")
		return
	}

	info, err := s.deps.Engine.CalculateLevel(r.Context(), xp)
	if err != nil {
		s.writeDomainError(w, r, "calculate_level", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE & READ MODELS
// ══════════════════════════════════════════════════════════════════════════════

type profileResponse struct {
	Created        bool             `json:"created"`
	UserID         shared.UserID    `json:"user_id"`
	XP             int              `json:"xp"`
	Level          int              `json:"level"`
	Tier           progression.Tier `json:"tier"`
	CurrentStreak  int              `json:"current_streak"`
	LongestStreak  int              `json:"longest_streak"`
	LastActiveDate string           `json:"last_active_date,omitempty"`
	Role           shared.Role      `json:"role"`
	CreatedAt      time.Time        `json:"created_at"`
}

func (s *Server) handleRegisterProfile(w http.ResponseWriter, r *http.Request, userID shared.UserID) {
	res, err := s.deps.Engine.RegisterProfile(r.Context(), command.RegisterProfileCommand{
		UserID: userID,
		Role:   shared.RoleStudent,
	})
	if err != nil {
		s.writeDomainError(w, r, "register_profile", err)
		return
	}

	p := res.Profile
	body := profileResponse{
		Created:       res.Created,
		UserID:        p.UserID,
		XP:            p.XP,
		Level:         p.Level,
		Tier:          p.Tier,
		CurrentStreak: p.CurrentStreak,
		LongestStreak: p.LongestStreak,
		Role:          p.Role,
		CreatedAt:     p.CreatedAt,
	}
	if p.LastActiveDate != nil {
		body.LastActiveDate = timeutil.FormatDay(*p.LastActiveDate)
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, body)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, userID shared.UserID) {
	stats, err := s.deps.Engine.DashboardStats(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, "dashboard_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSkillTree(w http.ResponseWriter, r *http.Request, userID shared.UserID) {
	tree, err := s.deps.Engine.SkillTree(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, "skill_tree", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": tree})
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

type awardXPRequest struct {
	Amount   int             `json:"amount"`
	Source   shared.XPSource `json:"source"`
	SourceID string          `json:"source_id"`
}

func (s *Server) handleAwardXP(w http.ResponseWriter, r *http.Request, userID shared.UserID) {
	var req awardXPRequest
	if err := s.decodeJSON(w, r, &req, false); err != nil {
		s.writeDomainError(w, r, "award_xp", err)
		return
	}
	if req.Source == "" {
		req.Source = shared.SourceManualGrant
	}

	res, err := s.deps.Engine.AwardXP(r.Context(), command.AwardXPCommand{
		UserID:   userID,
		Amount:   req.Amount,
		Source:   req.Source,
		SourceID: req.SourceID,
	})
	if err != nil {
		s.writeDomainError(w, r, "award_xp", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type completeLessonRequest struct {
	TimeSpentSeconds *int `json:"time_spent_seconds"`
}

type completeLessonResponse struct {
	Status      string                 `json:"status"`
	LessonID    shared.LessonID        `json:"lesson_id"`
	XPEarned    int                    `json:"xp_earned"`
	CompletedAt time.Time              `json:"completed_at"`
	XP          *command.AwardXPResult `json:"xp,omitempty"`
	Challenges  []challenge.Result     `json:"challenges"`
}

func (s *Server) handleCompleteLesson(w http.ResponseWriter, r *http.Request, userID shared.UserID) {
	var req completeLessonRequest
	if err := s.decodeJSON(w, r, &req, true); err != nil {
		s.writeDomainError(w, r, "complete_lesson", err)
		return
	}

	res, err := s.deps.Engine.CompleteLesson(r.Context(), saga.LessonCompletionInput{
		UserID:           userID,
		LessonID:         shared.LessonID(r.PathValue("lessonID")),
		TimeSpentSeconds: req.TimeSpentSeconds,
	})
	if err != nil {
		s.writeDomainError(w, r, "complete_lesson", err)
		return
	}

	writeJSON(w, http.StatusOK, completeLessonResponse{
		Status:      "completed",
		LessonID:    res.Completion.LessonID,
		XPEarned:    res.Completion.XPEarned,
		CompletedAt: res.Completion.CompletedAt,
		XP:          res.XP,
		Challenges:  nonNilResults(res.Challenges),
	})
}

func (s *Server) handleCompleteSkill(w http.ResponseWriter, r *http.Request, userID shared.UserID) {
	res, err := s.deps.Engine.CompleteSkill(r.Context(), command.CompleteSkillCommand{
		UserID:  userID,
		SkillID: shared.SkillID(r.PathValue("skillID")),
	})
	if err != nil {
		s.writeDomainError(w, r, "complete_skill", err)
		return
	}
	res.Challenges = nonNilResults(res.Challenges)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpdateStreak(w http.ResponseWriter, r *http.Request, userID shared.UserID) {
	res, err := s.deps.Engine.UpdateStreak(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, "update_streak", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleJoinChallenge(w http.ResponseWriter, r *http.Request, userID shared.UserID) {
	res, err := s.deps.Engine.JoinChallenge(r.Context(), command.JoinChallengeCommand{
		UserID:      userID,
		ChallengeID: shared.ChallengeID(r.PathValue("challengeID")),
	})
	if err != nil {
		s.writeDomainError(w, r, "join_challenge", err)
		return
	}

	status := http.StatusOK
	if res.Joined {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

type challengeEventRequest struct {
	Kind      challenge.EventKind `json:"kind"`
	Increment *int                `json:"increment"`
}

func (s *Server) handleChallengeEvent(w http.ResponseWriter, r *http.Request, userID shared.UserID) {
	var req challengeEventRequest
	if err := s.decodeJSON(w, r, &req, false); err != nil {
		s.writeDomainError(w, r, "apply_challenge_event", err)
		return
	}
	increment := 1
	if req.Increment != nil {
		increment = *req.Increment
	}

	res, err := s.deps.Engine.ApplyChallengeEvent(r.Context(), command.ApplyChallengeEventCommand{
		UserID:    userID,
		Kind:      req.Kind,
		Increment: increment,
	})
	if err != nil {
		s.writeDomainError(w, r, "apply_challenge_event", err)
		return
	}
	res.Challenges = nonNilResults(res.Challenges)
	writeJSON(w, http.StatusOK, res)
}

func nonNilResults(results []challenge.Result) []challenge.Result {
	if results == nil {
		return []challenge.Result{}
	}
	return results
}
