package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProfileRepository implements progression.ProfileRepository for PostgreSQL.
type ProfileRepository struct {
	conn *Connection
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(conn *Connection) *ProfileRepository {
	return &ProfileRepository{conn: conn}
}

const profileColumns = `id, xp, level, tier, current_streak, longest_streak,
	last_active_date, role, version, created_at, updated_at`

// Get returns a profile by user id.
func (r *ProfileRepository) Get(ctx context.Context, userID shared.UserID) (*progression.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	p, err := scanProfile(r.conn.Q(ctx).QueryRow(ctx, query, string(userID)))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProfileNotFound
		}
		return nil, storeError("progression", "GetProfile", err)
	}
	return p, nil
}

// Create inserts a profile unless one already exists.
func (r *ProfileRepository) Create(ctx context.Context, p *progression.Profile) (bool, error) {
	query := `
		INSERT INTO profiles (
			id, xp, level, tier, current_streak, longest_streak,
			last_active_date, role, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	tag, err := r.conn.Q(ctx).Exec(ctx, query,
		string(p.UserID),
		p.XP,
		p.Level,
		string(p.Tier),
		p.CurrentStreak,
		p.LongestStreak,
		p.LastActiveDate,
		string(p.Role),
		p.Version,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return false, storeError("progression", "CreateProfile", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Save writes the mutable fields guarded by the read version.
func (r *ProfileRepository) Save(ctx context.Context, p *progression.Profile) error {
	query := `
		UPDATE profiles SET
			xp = $1,
			level = $2,
			tier = $3,
			current_streak = $4,
			longest_streak = $5,
			last_active_date = $6,
			updated_at = $7,
			version = version + 1
		WHERE id = $8 AND version = $9
	`

	q := r.conn.Q(ctx)
	tag, err := q.Exec(ctx, query,
		p.XP,
		p.Level,
		string(p.Tier),
		p.CurrentStreak,
		p.LongestStreak,
		p.LastActiveDate,
		p.UpdatedAt,
		string(p.UserID),
		p.Version,
	)
	if err != nil {
		return storeError("progression", "SaveProfile", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM profiles WHERE id = $1)`, string(p.UserID)).Scan(&exists); err != nil {
			return storeError("progression", "SaveProfile", err)
		}
		if !exists {
			return shared.ErrProfileNotFound
		}
		return shared.ErrProfileVersionStale
	}

	p.Version++
	return nil
}

// ListAfter returns a page of profiles ordered by id.
func (r *ProfileRepository) ListAfter(ctx context.Context, after shared.UserID, limit int) ([]*progression.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id > $1 ORDER BY id LIMIT $2`

	rows, err := r.conn.Q(ctx).Query(ctx, query, string(after), limit)
	if err != nil {
		return nil, storeError("progression", "ListProfiles", err)
	}
	defer rows.Close()

	profiles := make([]*progression.Profile, 0, limit)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, storeError("progression", "ListProfiles", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("progression", "ListProfiles", err)
	}

	return profiles, nil
}

// CountWithMoreXP counts profiles strictly ahead of xp.
func (r *ProfileRepository) CountWithMoreXP(ctx context.Context, xp int) (int, error) {
	var n int
	if err := r.conn.Q(ctx).QueryRow(ctx, `SELECT count(*) FROM profiles WHERE xp > $1`, xp).Scan(&n); err != nil {
		return 0, storeError("progression", "CountAhead", err)
	}
	return n, nil
}

func scanProfile(row pgx.Row) (*progression.Profile, error) {
	var (
		p          progression.Profile
		id         string
		tier, role string
		lastActive *time.Time
	)

	err := row.Scan(
		&id,
		&p.XP,
		&p.Level,
		&tier,
		&p.CurrentStreak,
		&p.LongestStreak,
		&lastActive,
		&role,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.UserID = shared.UserID(id)
	p.Tier = progression.Tier(tier)
	p.Role = shared.Role(role)
	if lastActive != nil {
		day := lastActive.UTC()
		p.LastActiveDate = &day
	}

	return &p, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ThresholdRepository implements progression.ThresholdRepository for PostgreSQL.
type ThresholdRepository struct {
	conn *Connection
}

// NewThresholdRepository creates a new ThresholdRepository.
func NewThresholdRepository(conn *Connection) *ThresholdRepository {
	return &ThresholdRepository{conn: conn}
}

// List returns all thresholds ordered by level.
func (r *ThresholdRepository) List(ctx context.Context) ([]progression.Threshold, error) {
	rows, err := r.conn.Q(ctx).Query(ctx, `SELECT level, min_xp, tier FROM level_thresholds ORDER BY level`)
	if err != nil {
		return nil, storeError("progression", "ListThresholds", err)
	}
	defer rows.Close()

	var out []progression.Threshold
	for rows.Next() {
		var t progression.Threshold
		var tier string
		if err := rows.Scan(&t.Level, &t.MinXP, &tier); err != nil {
			return nil, storeError("progression", "ListThresholds", err)
		}
		t.Tier = progression.Tier(tier)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("progression", "ListThresholds", err)
	}

	return out, nil
}

// Replace swaps the whole table inside one transaction.
func (r *ThresholdRepository) Replace(ctx context.Context, thresholds []progression.Threshold) error {
	return r.conn.WithinTx(ctx, func(ctx context.Context) error {
		q := r.conn.Q(ctx)
		if _, err := q.Exec(ctx, `DELETE FROM level_thresholds`); err != nil {
			return storeError("progression", "ReplaceThresholds", err)
		}

		batch := &pgx.Batch{}
		for _, t := range thresholds {
			batch.Queue(`INSERT INTO level_thresholds (level, min_xp, tier) VALUES ($1, $2, $3)`,
				t.Level, t.MinXP, string(t.Tier))
		}
		if err := q.SendBatch(ctx, batch).Close(); err != nil {
			return storeError("progression", "ReplaceThresholds", err)
		}
		return nil
	})
}
