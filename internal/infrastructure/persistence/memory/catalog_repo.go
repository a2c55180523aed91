package memory

import (
	"context"
	"sort"
	"time"

	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/lesson"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
)

// ══════════════════════════════════════════════════════════════════════════════
// SKILLS
// ══════════════════════════════════════════════════════════════════════════════

// SkillCatalogRepository implements skill.CatalogRepository.
type SkillCatalogRepository struct{ s *Store }

func (r *SkillCatalogRepository) Get(_ context.Context, id shared.SkillID) (skill.Skill, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sk, ok := r.s.data.skills[id]
	if !ok {
		return skill.Skill{}, shared.ErrSkillNotFound
	}
	return sk, nil
}

func (r *SkillCatalogRepository) ListUpToLevel(ctx context.Context, level int) ([]skill.Skill, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, sk := range all {
		if sk.RequiredLevel <= level {
			out = append(out, sk)
		}
	}
	return out, nil
}

func (r *SkillCatalogRepository) List(_ context.Context) ([]skill.Skill, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]skill.Skill, 0, len(r.s.data.skills))
	for _, sk := range r.s.data.skills {
		out = append(out, sk)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequiredLevel != out[j].RequiredLevel {
			return out[i].RequiredLevel < out[j].RequiredLevel
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *SkillCatalogRepository) Upsert(_ context.Context, skills []skill.Skill) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, sk := range skills {
		r.s.data.skills[sk.ID] = sk
	}
	return nil
}

// UserSkillRepository implements skill.UserSkillRepository.
type UserSkillRepository struct{ s *Store }

func (r *UserSkillRepository) Get(_ context.Context, userID shared.UserID, skillID shared.SkillID) (skill.UserSkill, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	us, ok := r.s.data.userSkills[userSkillKey{userID, skillID}]
	if !ok {
		return skill.UserSkill{}, shared.ErrSkillLocked
	}
	return us, nil
}

func (r *UserSkillRepository) ListByUser(_ context.Context, userID shared.UserID) ([]skill.UserSkill, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []skill.UserSkill
	for k, us := range r.s.data.userSkills {
		if k.user == userID {
			out = append(out, us)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SkillID < out[j].SkillID })
	return out, nil
}

func (r *UserSkillRepository) InsertAvailable(_ context.Context, userID shared.UserID, skillIDs []shared.SkillID, at time.Time) ([]shared.SkillID, error) {
	if err := r.s.fault("userSkills.InsertAvailable"); err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var inserted []shared.SkillID
	for _, id := range skillIDs {
		key := userSkillKey{userID, id}
		if _, ok := r.s.data.userSkills[key]; ok {
			continue
		}
		r.s.data.userSkills[key] = skill.UserSkill{
			UserID:     userID,
			SkillID:    id,
			Status:     skill.StatusAvailable,
			UnlockedAt: at,
		}
		inserted = append(inserted, id)
	}
	return inserted, nil
}

func (r *UserSkillRepository) MarkCompleted(_ context.Context, userID shared.UserID, skillID shared.SkillID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := userSkillKey{userID, skillID}
	us, ok := r.s.data.userSkills[key]
	if !ok || us.Status != skill.StatusAvailable {
		return false, nil
	}
	us.Status = skill.StatusCompleted
	us.CompletedAt = &at
	r.s.data.userSkills[key] = us
	return true, nil
}

func (r *UserSkillRepository) CountByStatus(_ context.Context, userID shared.UserID, status skill.Status) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for k, us := range r.s.data.userSkills {
		if k.user == userID && us.Status == status {
			n++
		}
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGES
// ══════════════════════════════════════════════════════════════════════════════

// ChallengeCatalogRepository implements challenge.CatalogRepository.
type ChallengeCatalogRepository struct{ s *Store }

func (r *ChallengeCatalogRepository) Get(_ context.Context, id shared.ChallengeID) (challenge.Challenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.data.challenges[id]
	if !ok {
		return challenge.Challenge{}, shared.ErrChallengeNotFound
	}
	return c, nil
}

func (r *ChallengeCatalogRepository) GetMany(_ context.Context, ids []shared.ChallengeID) (map[shared.ChallengeID]challenge.Challenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make(map[shared.ChallengeID]challenge.Challenge, len(ids))
	for _, id := range ids {
		if c, ok := r.s.data.challenges[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (r *ChallengeCatalogRepository) List(_ context.Context) ([]challenge.Challenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]challenge.Challenge, 0, len(r.s.data.challenges))
	for _, c := range r.s.data.challenges {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ChallengeCatalogRepository) Upsert(_ context.Context, challenges []challenge.Challenge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range challenges {
		r.s.data.challenges[c.ID] = c
	}
	return nil
}

// UserChallengeRepository implements challenge.UserChallengeRepository.
type UserChallengeRepository struct{ s *Store }

func (r *UserChallengeRepository) Get(_ context.Context, userID shared.UserID, challengeID shared.ChallengeID) (challenge.UserChallenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	uc, ok := r.s.data.userChallenges[userChallengeKey{userID, challengeID}]
	if !ok {
		return challenge.UserChallenge{}, shared.ErrChallengeNotFound
	}
	return uc, nil
}

func (r *UserChallengeRepository) Join(_ context.Context, userID shared.UserID, challengeID shared.ChallengeID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := userChallengeKey{userID, challengeID}
	if _, ok := r.s.data.userChallenges[key]; ok {
		return false, nil
	}
	r.s.data.userChallenges[key] = challenge.UserChallenge{
		UserID:      userID,
		ChallengeID: challengeID,
		JoinedAt:    at,
	}
	return true, nil
}

func (r *UserChallengeRepository) ListActive(_ context.Context, userID shared.UserID) ([]challenge.UserChallenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []challenge.UserChallenge
	for k, uc := range r.s.data.userChallenges {
		if k.user == userID && uc.CompletedAt == nil {
			out = append(out, uc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChallengeID < out[j].ChallengeID })
	return out, nil
}

func (r *UserChallengeRepository) SaveProgress(_ context.Context, userID shared.UserID, challengeID shared.ChallengeID,
	oldProgress, newProgress int, completedAt *time.Time) (bool, error) {

	if err := r.s.fault("userChallenges.SaveProgress"); err != nil {
		return false, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := userChallengeKey{userID, challengeID}
	uc, ok := r.s.data.userChallenges[key]
	if !ok || uc.CompletedAt != nil || uc.CurrentProgress != oldProgress {
		return false, nil
	}
	uc.CurrentProgress = newProgress
	uc.CompletedAt = completedAt
	r.s.data.userChallenges[key] = uc
	return true, nil
}

func (r *UserChallengeRepository) CountActive(_ context.Context, userID shared.UserID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for k, uc := range r.s.data.userChallenges {
		if k.user == userID && uc.CompletedAt == nil {
			n++
		}
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LESSONS
// ══════════════════════════════════════════════════════════════════════════════

// LessonCatalogRepository implements lesson.CatalogRepository.
type LessonCatalogRepository struct{ s *Store }

func (r *LessonCatalogRepository) Get(_ context.Context, id shared.LessonID) (lesson.Lesson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	l, ok := r.s.data.lessons[id]
	if !ok {
		return lesson.Lesson{}, shared.ErrLessonNotFound
	}
	return l, nil
}

func (r *LessonCatalogRepository) List(_ context.Context) ([]lesson.Lesson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]lesson.Lesson, 0, len(r.s.data.lessons))
	for _, l := range r.s.data.lessons {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *LessonCatalogRepository) Upsert(_ context.Context, lessons []lesson.Lesson) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, l := range lessons {
		r.s.data.lessons[l.ID] = l
	}
	return nil
}

// CompletionRepository implements lesson.CompletionRepository.
type CompletionRepository struct{ s *Store }

func (r *CompletionRepository) Insert(_ context.Context, c lesson.Completion) (bool, error) {
	if err := r.s.fault("completions.Insert"); err != nil {
		return false, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := completionKey{c.UserID, c.LessonID}
	if _, ok := r.s.data.completions[key]; ok {
		return false, nil
	}
	r.s.data.completions[key] = c
	return true, nil
}

func (r *CompletionRepository) Get(_ context.Context, userID shared.UserID, lessonID shared.LessonID) (lesson.Completion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.data.completions[completionKey{userID, lessonID}]
	if !ok {
		return lesson.Completion{}, shared.ErrLessonNotFound
	}
	return c, nil
}

func (r *CompletionRepository) CountByUser(_ context.Context, userID shared.UserID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for k := range r.s.data.completions {
		if k.user == userID {
			n++
		}
	}
	return n, nil
}
