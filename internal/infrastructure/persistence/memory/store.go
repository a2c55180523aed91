// Package memory implements every repository in process memory with the same
// conditional-write semantics as the PostgreSQL store. It backs the test suites
// and the dev server when no DATABASE_URL is configured.
package memory

import (
	"context"
	"sync"

	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/lesson"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
)

type userSkillKey struct {
	user  shared.UserID
	skill shared.SkillID
}

type userChallengeKey struct {
	user      shared.UserID
	challenge shared.ChallengeID
}

type completionKey struct {
	user   shared.UserID
	lesson shared.LessonID
}

type state struct {
	profiles       map[shared.UserID]*progression.Profile
	thresholds     []progression.Threshold
	skills         map[shared.SkillID]skill.Skill
	userSkills     map[userSkillKey]skill.UserSkill
	challenges     map[shared.ChallengeID]challenge.Challenge
	userChallenges map[userChallengeKey]challenge.UserChallenge
	lessons        map[shared.LessonID]lesson.Lesson
	completions    map[completionKey]lesson.Completion
}

func newState() *state {
	return &state{
		profiles:       make(map[shared.UserID]*progression.Profile),
		skills:         make(map[shared.SkillID]skill.Skill),
		userSkills:     make(map[userSkillKey]skill.UserSkill),
		challenges:     make(map[shared.ChallengeID]challenge.Challenge),
		userChallenges: make(map[userChallengeKey]challenge.UserChallenge),
		lessons:        make(map[shared.LessonID]lesson.Lesson),
		completions:    make(map[completionKey]lesson.Completion),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.profiles {
		c.profiles[k] = v.Clone()
	}
	c.thresholds = append(c.thresholds, s.thresholds...)
	for k, v := range s.skills {
		c.skills[k] = v
	}
	for k, v := range s.userSkills {
		c.userSkills[k] = v
	}
	for k, v := range s.challenges {
		c.challenges[k] = v
	}
	for k, v := range s.userChallenges {
		c.userChallenges[k] = v
	}
	for k, v := range s.lessons {
		c.lessons[k] = v
	}
	for k, v := range s.completions {
		c.completions[k] = v
	}
	return c
}

// Store holds all tables.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	data *state

	faultMu sync.Mutex
	faults  map[string][]error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		data:   newState(),
		faults: make(map[string][]error),
	}
}

type txKey struct{}

// WithinTx implements shared.Transactor. Transactions are serialized;
// a failing fn restores the snapshot taken at the outermost call.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	committed := false
	defer func() {
		if !committed {
			s.mu.Lock()
			s.data = snapshot
			s.mu.Unlock()
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, struct{}{})); err != nil {
		return err
	}

	committed = true
	return nil
}

// Fail queues errors returned by the next calls of op (e.g. "profiles.Save").
// Each queued error is returned once, in order.
func (s *Store) Fail(op string, errs ...error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = append(s.faults[op], errs...)
}

func (s *Store) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()

	queue := s.faults[op]
	if len(queue) == 0 {
		return nil
	}
	s.faults[op] = queue[1:]
	return queue[0]
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Profiles returns the profile repository.
func (s *Store) Profiles() *ProfileRepository { return &ProfileRepository{s: s} }

// Thresholds returns the threshold repository.
func (s *Store) Thresholds() *ThresholdRepository { return &ThresholdRepository{s: s} }

// Skills returns the skill catalog repository.
func (s *Store) Skills() *SkillCatalogRepository { return &SkillCatalogRepository{s: s} }

// UserSkills returns the user skill repository.
func (s *Store) UserSkills() *UserSkillRepository { return &UserSkillRepository{s: s} }

// Challenges returns the challenge catalog repository.
func (s *Store) Challenges() *ChallengeCatalogRepository { return &ChallengeCatalogRepository{s: s} }

// UserChallenges returns the user challenge repository.
func (s *Store) UserChallenges() *UserChallengeRepository { return &UserChallengeRepository{s: s} }

// Lessons returns the lesson catalog repository.
func (s *Store) Lessons() *LessonCatalogRepository { return &LessonCatalogRepository{s: s} }

// Completions returns the lesson completion repository.
func (s *Store) Completions() *CompletionRepository { return &CompletionRepository{s: s} }
