package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
)

// ══════════════════════════════════════════════════════════════════════════════
// SKILL CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// SkillCatalogRepository implements skill.CatalogRepository for PostgreSQL.
type SkillCatalogRepository struct {
	conn *Connection
}

// NewSkillCatalogRepository creates a new SkillCatalogRepository.
func NewSkillCatalogRepository(conn *Connection) *SkillCatalogRepository {
	return &SkillCatalogRepository{conn: conn}
}

// Get returns a catalog skill.
func (r *SkillCatalogRepository) Get(ctx context.Context, id shared.SkillID) (skill.Skill, error) {
	row := r.conn.Q(ctx).QueryRow(ctx,
		`SELECT id, name, description, required_level FROM skills WHERE id = $1`, string(id))

	s, err := scanSkill(row)
	if err != nil {
		if IsNoRows(err) {
			return skill.Skill{}, shared.ErrSkillNotFound
		}
		return skill.Skill{}, storeError("skill", "GetSkill", err)
	}
	return s, nil
}

// ListUpToLevel returns skills unlockable at level.
func (r *SkillCatalogRepository) ListUpToLevel(ctx context.Context, level int) ([]skill.Skill, error) {
	return r.list(ctx, `SELECT id, name, description, required_level FROM skills
		WHERE required_level <= $1 ORDER BY required_level, id`, level)
}

// List returns the whole catalog.
func (r *SkillCatalogRepository) List(ctx context.Context) ([]skill.Skill, error) {
	return r.list(ctx, `SELECT id, name, description, required_level FROM skills ORDER BY required_level, id`)
}

func (r *SkillCatalogRepository) list(ctx context.Context, query string, args ...any) ([]skill.Skill, error) {
	rows, err := r.conn.Q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, storeError("skill", "ListSkills", err)
	}
	defer rows.Close()

	var out []skill.Skill
	for rows.Next() {
		s, err := scanSkill(rows)
		if err != nil {
			return nil, storeError("skill", "ListSkills", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("skill", "ListSkills", err)
	}
	return out, nil
}

// Upsert inserts or updates catalog skills.
func (r *SkillCatalogRepository) Upsert(ctx context.Context, skills []skill.Skill) error {
	batch := &pgx.Batch{}
	for _, s := range skills {
		batch.Queue(`
			INSERT INTO skills (id, name, description, required_level) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				required_level = EXCLUDED.required_level
		`, string(s.ID), s.Name, s.Description, s.RequiredLevel)
	}

	if err := r.conn.Q(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return storeError("skill", "UpsertSkills", err)
	}
	return nil
}

func scanSkill(row pgx.Row) (skill.Skill, error) {
	var s skill.Skill
	var id string
	if err := row.Scan(&id, &s.Name, &s.Description, &s.RequiredLevel); err != nil {
		return skill.Skill{}, err
	}
	s.ID = shared.SkillID(id)
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USER SKILLS
// ══════════════════════════════════════════════════════════════════════════════

// UserSkillRepository implements skill.UserSkillRepository for PostgreSQL.
type UserSkillRepository struct {
	conn *Connection
}

// NewUserSkillRepository creates a new UserSkillRepository.
func NewUserSkillRepository(conn *Connection) *UserSkillRepository {
	return &UserSkillRepository{conn: conn}
}

// Get returns the user's row for a skill.
func (r *UserSkillRepository) Get(ctx context.Context, userID shared.UserID, skillID shared.SkillID) (skill.UserSkill, error) {
	row := r.conn.Q(ctx).QueryRow(ctx, `
		SELECT user_id, skill_id, status, unlocked_at, completed_at
		FROM user_skills WHERE user_id = $1 AND skill_id = $2
	`, string(userID), string(skillID))

	us, err := scanUserSkill(row)
	if err != nil {
		if IsNoRows(err) {
			return skill.UserSkill{}, shared.ErrSkillLocked
		}
		return skill.UserSkill{}, storeError("skill", "GetUserSkill", err)
	}
	return us, nil
}

// ListByUser returns all rows of a user.
func (r *UserSkillRepository) ListByUser(ctx context.Context, userID shared.UserID) ([]skill.UserSkill, error) {
	rows, err := r.conn.Q(ctx).Query(ctx, `
		SELECT user_id, skill_id, status, unlocked_at, completed_at
		FROM user_skills WHERE user_id = $1 ORDER BY unlocked_at, skill_id
	`, string(userID))
	if err != nil {
		return nil, storeError("skill", "ListUserSkills", err)
	}
	defer rows.Close()

	var out []skill.UserSkill
	for rows.Next() {
		us, err := scanUserSkill(rows)
		if err != nil {
			return nil, storeError("skill", "ListUserSkills", err)
		}
		out = append(out, us)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("skill", "ListUserSkills", err)
	}
	return out, nil
}

// InsertAvailable batch-inserts available rows, returning the ids actually inserted.
func (r *UserSkillRepository) InsertAvailable(ctx context.Context, userID shared.UserID, skillIDs []shared.SkillID, at time.Time) ([]shared.SkillID, error) {
	if len(skillIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(skillIDs))
	for i, id := range skillIDs {
		ids[i] = string(id)
	}

	rows, err := r.conn.Q(ctx).Query(ctx, `
		INSERT INTO user_skills (user_id, skill_id, status, unlocked_at)
		SELECT $1, unnest($2::text[]), 'available', $3
		ON CONFLICT (user_id, skill_id) DO NOTHING
		RETURNING skill_id
	`, string(userID), ids, at)
	if err != nil {
		return nil, storeError("skill", "UnlockSkills", err)
	}

	inserted, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeError("skill", "UnlockSkills", err)
	}

	out := make([]shared.SkillID, len(inserted))
	for i, id := range inserted {
		out[i] = shared.SkillID(id)
	}
	return out, nil
}

// MarkCompleted performs the guarded available → completed transition.
func (r *UserSkillRepository) MarkCompleted(ctx context.Context, userID shared.UserID, skillID shared.SkillID, at time.Time) (bool, error) {
	tag, err := r.conn.Q(ctx).Exec(ctx, `
		UPDATE user_skills SET status = 'completed', completed_at = $3
		WHERE user_id = $1 AND skill_id = $2 AND status = 'available'
	`, string(userID), string(skillID), at)
	if err != nil {
		return false, storeError("skill", "CompleteSkill", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountByStatus counts a user's rows in status.
func (r *UserSkillRepository) CountByStatus(ctx context.Context, userID shared.UserID, status skill.Status) (int, error) {
	var n int
	err := r.conn.Q(ctx).QueryRow(ctx,
		`SELECT count(*) FROM user_skills WHERE user_id = $1 AND status = $2`,
		string(userID), string(status)).Scan(&n)
	if err != nil {
		return 0, storeError("skill", "CountUserSkills", err)
	}
	return n, nil
}

func scanUserSkill(row pgx.Row) (skill.UserSkill, error) {
	var (
		us              skill.UserSkill
		uid, sid, state string
	)
	if err := row.Scan(&uid, &sid, &state, &us.UnlockedAt, &us.CompletedAt); err != nil {
		return skill.UserSkill{}, err
	}
	us.UserID = shared.UserID(uid)
	us.SkillID = shared.SkillID(sid)
	us.Status = skill.Status(state)
	return us, nil
}
