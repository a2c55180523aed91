// Package catalog loads the content catalog (level thresholds, skills,
// lessons and challenges) from YAML and writes it to the repositories.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/lesson"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

// SupportedVersion is the only catalog file version understood.
const SupportedVersion = 1

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Catalog is a validated content catalog.
type Catalog struct {
	Thresholds []progression.Threshold
	Skills     []skill.Skill
	Lessons    []lesson.Lesson
	Challenges []challenge.Challenge
}

type yamlCatalog struct {
	Version    int             `yaml:"version"`
	Thresholds []yamlThreshold `yaml:"thresholds"`
	Skills     []yamlSkill     `yaml:"skills"`
	Lessons    []yamlLesson    `yaml:"lessons"`
	Challenges []yamlChallenge `yaml:"challenges"`
}

type yamlThreshold struct {
	Level int    `yaml:"level"`
	MinXP int    `yaml:"min_xp"`
	Tier  string `yaml:"tier"`
}

type yamlSkill struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	RequiredLevel int    `yaml:"required_level"`
}

type yamlLesson struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	XPReward int    `yaml:"xp_reward"`
	Active   *bool  `yaml:"active"`
}

type yamlChallenge struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Type        string `yaml:"type"`
	TargetValue int    `yaml:"target_value"`
	XPReward    int    `yaml:"xp_reward"`
	Active      *bool  `yaml:"active"`
	StartDate   string `yaml:"start_date"`
	EndDate     string `yaml:"end_date"`
}

// Default returns the built-in catalog.
func Default(loc *time.Location) (*Catalog, error) {
	return Parse(defaultCatalog, loc)
}

// Load reads a catalog file; an empty path selects the built-in catalog.
func Load(path string, loc *time.Location) (*Catalog, error) {
	if path == "" {
		return Default(loc)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	cat, err := Parse(data, loc)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes and validates a catalog. Unknown keys are rejected.
// Challenge window dates are calendar days in loc (UTC when nil); the
// end date is inclusive.
func Parse(data []byte, loc *time.Location) (*Catalog, error) {
	if loc == nil {
		loc = time.UTC
	}

	var raw yamlCatalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, shared.WrapError("catalog", "Parse", shared.ErrValidation, "malformed catalog yaml", err)
	}
	if raw.Version != SupportedVersion {
		return nil, shared.Validationf("catalog", "Parse", "unsupported catalog version %d", raw.Version)
	}

	var errs []error
	cat := &Catalog{}

	for _, t := range raw.Thresholds {
		cat.Thresholds = append(cat.Thresholds, progression.Threshold{Level: t.Level, MinXP: t.MinXP, Tier: progression.Tier(t.Tier)})
	}
	table, err := progression.NewThresholdTable(cat.Thresholds)
	if err != nil {
		errs = append(errs, err)
	}
	if len(cat.Thresholds) == 0 {
		errs = append(errs, errors.New("thresholds: at least level 1 is required"))
	}

	seenSkills := make(map[shared.SkillID]struct{})
	for _, s := range raw.Skills {
		sk := skill.Skill{
			ID:            shared.SkillID(s.ID),
			Name:          s.Name,
			Description:   s.Description,
			RequiredLevel: s.RequiredLevel,
		}
		if err := sk.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seenSkills[sk.ID]; dup {
			errs = append(errs, fmt.Errorf("skills: duplicate id %q", sk.ID))
			continue
		}
		if top := table.MaxLevel(); top > 0 && sk.RequiredLevel > top {
			errs = append(errs, fmt.Errorf("skills: %s requires level %d but the table ends at %d", sk.ID, sk.RequiredLevel, top))
		}
		seenSkills[sk.ID] = struct{}{}
		cat.Skills = append(cat.Skills, sk)
	}

	seenLessons := make(map[shared.LessonID]struct{})
	for _, l := range raw.Lessons {
		ls := lesson.Lesson{
			ID:       shared.LessonID(l.ID),
			Title:    l.Title,
			XPReward: l.XPReward,
			IsActive: l.Active == nil || *l.Active,
		}
		if err := ls.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seenLessons[ls.ID]; dup {
			errs = append(errs, fmt.Errorf("lessons: duplicate id %q", ls.ID))
			continue
		}
		seenLessons[ls.ID] = struct{}{}
		cat.Lessons = append(cat.Lessons, ls)
	}

	seenChallenges := make(map[shared.ChallengeID]struct{})
	for _, c := range raw.Challenges {
		ch := challenge.Challenge{
			ID:          shared.ChallengeID(c.ID),
			Title:       c.Title,
			Type:        challenge.Type(c.Type),
			TargetValue: c.TargetValue,
			XPReward:    c.XPReward,
			IsActive:    c.Active == nil || *c.Active,
		}
		start, err := windowBound(c.StartDate, loc, false)
		if err != nil {
			errs = append(errs, fmt.Errorf("challenges: %s start_date: %w", c.ID, err))
			continue
		}
		end, err := windowBound(c.EndDate, loc, true)
		if err != nil {
			errs = append(errs, fmt.Errorf("challenges: %s end_date: %w", c.ID, err))
			continue
		}
		ch.StartDate, ch.EndDate = start, end

		if err := ch.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seenChallenges[ch.ID]; dup {
			errs = append(errs, fmt.Errorf("challenges: duplicate id %q", ch.ID))
			continue
		}
		seenChallenges[ch.ID] = struct{}{}
		cat.Challenges = append(cat.Challenges, ch)
	}

	if len(errs) > 0 {
		return nil, shared.WrapError("catalog", "Parse", shared.ErrValidation, "invalid catalog", errors.Join(errs...))
	}
	return cat, nil
}

// windowBound turns a YYYY-MM-DD day into the first (or, for an end
// bound, the last) instant of that day in loc.
func windowBound(day string, loc *time.Location, end bool) (*time.Time, error) {
	if day == "" {
		return nil, nil
	}
	d, err := timeutil.ParseDate(day)
	if err != nil {
		return nil, err
	}
	t := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	if end {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLY
// ══════════════════════════════════════════════════════════════════════════════

// Repositories are the catalog's destinations.
type Repositories struct {
	Tx         shared.Transactor
	Thresholds progression.ThresholdRepository
	Skills     skill.CatalogRepository
	Lessons    lesson.CatalogRepository
	Challenges challenge.CatalogRepository
}

// ApplyStats counts what was written.
type ApplyStats struct {
	Thresholds int
	Skills     int
	Lessons    int
	Challenges int
}

// Apply writes the catalog in one transaction. The threshold table is
// replaced; catalog rows are upserted, so entries missing from the file
// stay in place.
func Apply(ctx context.Context, repos Repositories, cat *Catalog) (ApplyStats, error) {
	tx := repos.Tx
	if tx == nil {
		tx = shared.NoTx
	}

	err := tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := repos.Thresholds.Replace(ctx, cat.Thresholds); err != nil {
			return fmt.Errorf("replace thresholds: %w", err)
		}
		if len(cat.Skills) > 0 {
			if err := repos.Skills.Upsert(ctx, cat.Skills); err != nil {
				return fmt.Errorf("upsert skills: %w", err)
			}
		}
		if len(cat.Lessons) > 0 {
			if err := repos.Lessons.Upsert(ctx, cat.Lessons); err != nil {
				return fmt.Errorf("upsert lessons: %w", err)
			}
		}
		if len(cat.Challenges) > 0 {
			if err := repos.Challenges.Upsert(ctx, cat.Challenges); err != nil {
				return fmt.Errorf("upsert challenges: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return ApplyStats{}, err
	}

	return ApplyStats{
		Thresholds: len(cat.Thresholds),
		Skills:     len(cat.Skills),
		Lessons:    len(cat.Lessons),
		Challenges: len(cat.Challenges),
	}, nil
}
