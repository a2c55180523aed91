package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
	"github.com/skillquest/progression-engine/internal/infrastructure/persistence/memory"
)

func TestDefault(t *testing.T) {
	cat, err := Default(nil)
	require.NoError(t, err)

	assert.Len(t, cat.Thresholds, 10)
	assert.Len(t, cat.Skills, 7)
	assert.Len(t, cat.Lessons, 6)
	assert.Len(t, cat.Challenges, 3)

	table, err := progression.NewThresholdTable(cat.Thresholds)
	require.NoError(t, err)
	assert.Equal(t, 10, table.MaxLevel())

	var legacyActive *bool
	for _, l := range cat.Lessons {
		if l.ID == "legacy-quiz" {
			active := l.IsActive
			legacyActive = &active
		} else {
			assert.True(t, l.IsActive, l.ID)
		}
	}
	require.NotNil(t, legacyActive)
	assert.False(t, *legacyActive)

	launch := cat.Challenges[2]
	require.Equal(t, shared.ChallengeID("launch-week"), launch.ID)
	require.NotNil(t, launch.StartDate)
	require.NotNil(t, launch.EndDate)
	assert.Equal(t, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), *launch.StartDate)
	assert.Equal(t, time.Date(2026, 1, 11, 23, 59, 59, 999999999, time.UTC), *launch.EndDate)
	assert.True(t, launch.IsOpen(time.Date(2026, 1, 11, 22, 0, 0, 0, time.UTC)))
	assert.False(t, launch.IsOpen(time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)))

	assert.Nil(t, cat.Challenges[0].StartDate)
	assert.Nil(t, cat.Challenges[0].EndDate)
}

func TestParse_WindowInLocation(t *testing.T) {
	almaty := time.FixedZone("ALMT", 5*60*60)
	cat, err := Parse([]byte(`
version: 1
thresholds:
  - { level: 1, min_xp: 0, tier: bronze }
challenges:
  - { id: weekend, title: Weekend, type: special, target_value: 1, xp_reward: 5, start_date: "2026-03-07", end_date: "2026-03-08" }
`), almaty)
	require.NoError(t, err)
	require.Len(t, cat.Challenges, 1)
	assert.Equal(t, time.Date(2026, 3, 7, 0, 0, 0, 0, almaty), *cat.Challenges[0].StartDate)
	assert.True(t, cat.Challenges[0].EndDate.Equal(time.Date(2026, 3, 8, 18, 59, 59, 999999999, time.UTC)))
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte(`
version: 1
thresholds:
  - { level: 1, min_xp: 0, tier: bronze, colour: red }
`), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	assert.Contains(t, err.Error(), "colour")
}

func TestParse_Version(t *testing.T) {
	_, err := Parse([]byte("version: 2\n"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	assert.Contains(t, err.Error(), "unsupported catalog version 2")

	_, err = Parse(nil, nil)
	assert.Contains(t, err.Error(), "unsupported catalog version 0")
}

func TestParse_CollectsAllErrors(t *testing.T) {
	_, err := Parse([]byte(`
version: 1
thresholds:
  - { level: 1, min_xp: 0, tier: bronze }
  - { level: 2, min_xp: 50, tier: copper }
skills:
  - { id: loops, name: Loops, required_level: 1 }
  - { id: loops, name: Loops again, required_level: 1 }
  - { id: advanced, name: Advanced, required_level: 4 }
lessons:
  - { id: "bad id", title: Bad, xp_reward: 10 }
challenges:
  - { id: odd, title: Odd, type: monthly, target_value: 1, xp_reward: 1 }
  - { id: dated, title: Dated, type: daily, target_value: 1, xp_reward: 1, start_date: "07/03/2026" }
`), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))

	msg := err.Error()
	assert.Contains(t, msg, `unknown tier "copper"`)
	assert.Contains(t, msg, `skills: duplicate id "loops"`)
	assert.Contains(t, msg, `bad id`)
	assert.Contains(t, msg, "dated start_date")
	assert.Contains(t, msg, "monthly")
}

func TestParse_SkillAboveTable(t *testing.T) {
	_, err := Parse([]byte(`
version: 1
thresholds:
  - { level: 1, min_xp: 0, tier: bronze }
  - { level: 2, min_xp: 100, tier: bronze }
skills:
  - { id: far, name: Far away, required_level: 3 }
`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skills: far requires level 3 but the table ends at 2")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 1
thresholds:
  - { level: 1, min_xp: 0, tier: bronze }
lessons:
  - { id: only, title: Only lesson, xp_reward: 15 }
`), 0o600))

	cat, err := Load(path, nil)
	require.NoError(t, err)
	require.Len(t, cat.Lessons, 1)
	assert.Equal(t, 15, cat.Lessons[0].XPReward)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	def, err := Load("", nil)
	require.NoError(t, err)
	assert.Len(t, def.Skills, 7)
}

func storeRepos(s *memory.Store) Repositories {
	return Repositories{
		Tx:         s,
		Thresholds: s.Thresholds(),
		Skills:     s.Skills(),
		Lessons:    s.Lessons(),
		Challenges: s.Challenges(),
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cat, err := Default(nil)
	require.NoError(t, err)

	stats, err := Apply(ctx, storeRepos(store), cat)
	require.NoError(t, err)
	assert.Equal(t, ApplyStats{Thresholds: 10, Skills: 7, Lessons: 6, Challenges: 3}, stats)

	rows, err := store.Thresholds().List(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 10)

	skills, err := store.Skills().List(ctx)
	require.NoError(t, err)
	assert.Len(t, skills, 7)

	legacy, err := store.Lessons().Get(ctx, "legacy-quiz")
	require.NoError(t, err)
	assert.False(t, legacy.IsActive)

	// Applying again keeps rows that the file no longer lists.
	_, err = Apply(ctx, storeRepos(store), &Catalog{Thresholds: cat.Thresholds[:3]})
	require.NoError(t, err)
	rows, err = store.Thresholds().List(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	skills, err = store.Skills().List(ctx)
	require.NoError(t, err)
	assert.Len(t, skills, 7)
}

type failingSkills struct {
	skill.CatalogRepository
}

func (failingSkills) Upsert(context.Context, []skill.Skill) error {
	return errors.New("disk full")
}

func TestApply_RollsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cat, err := Default(nil)
	require.NoError(t, err)

	repos := storeRepos(store)
	repos.Skills = failingSkills{}

	_, err = Apply(ctx, repos, cat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert skills: disk full")

	rows, err := store.Thresholds().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
