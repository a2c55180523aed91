package skill

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skillquest/progression-engine/internal/domain/shared"
)

var catalog = []Skill{
	{ID: "go-basics", RequiredLevel: 1},
	{ID: "go-concurrency", RequiredLevel: 2},
	{ID: "go-generics", RequiredLevel: 2},
	{ID: "go-runtime", RequiredLevel: 5},
}

func TestUnlockable_SetDifference(t *testing.T) {
	existing := map[shared.SkillID]struct{}{"go-basics": {}}

	got := Unlockable(catalog, 2, existing)
	assert.Equal(t, []shared.SkillID{"go-concurrency", "go-generics"}, IDs(got))
}

func TestUnlockable_Idempotent(t *testing.T) {
	existing := map[shared.SkillID]struct{}{}
	for _, s := range Unlockable(catalog, 2, existing) {
		existing[s.ID] = struct{}{}
	}

	assert.Empty(t, Unlockable(catalog, 2, existing))
	assert.Empty(t, Unlockable(catalog, 1, existing))
	assert.Equal(t, []shared.SkillID{"go-runtime"}, IDs(Unlockable(catalog, 5, existing)))
}

func TestBuildTree(t *testing.T) {
	owned := []UserSkill{
		{SkillID: "go-basics", Status: StatusCompleted},
		{SkillID: "go-concurrency", Status: StatusAvailable},
	}

	tree := BuildTree(catalog, owned)
	assert.Len(t, tree, 4)

	statuses := map[shared.SkillID]Status{}
	for _, n := range tree {
		statuses[n.Skill.ID] = n.Status
	}
	assert.Equal(t, StatusCompleted, statuses["go-basics"])
	assert.Equal(t, StatusAvailable, statuses["go-concurrency"])
	assert.Equal(t, StatusLocked, statuses["go-generics"])
	assert.Equal(t, StatusLocked, statuses["go-runtime"])
}

func TestSkill_Validate(t *testing.T) {
	assert.NoError(t, Skill{ID: "ok", RequiredLevel: 1}.Validate())
	assert.True(t, shared.IsValidation(Skill{ID: "ok", RequiredLevel: 0}.Validate()))
	assert.True(t, shared.IsValidation(Skill{ID: "", RequiredLevel: 1}.Validate()))
}
