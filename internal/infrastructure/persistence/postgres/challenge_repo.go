package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// ChallengeCatalogRepository implements challenge.CatalogRepository for PostgreSQL.
type ChallengeCatalogRepository struct {
	conn *Connection
}

// NewChallengeCatalogRepository creates a new ChallengeCatalogRepository.
func NewChallengeCatalogRepository(conn *Connection) *ChallengeCatalogRepository {
	return &ChallengeCatalogRepository{conn: conn}
}

const challengeColumns = `id, title, type, target_value, xp_reward, is_active, start_date, end_date`

// Get returns a catalog challenge.
func (r *ChallengeCatalogRepository) Get(ctx context.Context, id shared.ChallengeID) (challenge.Challenge, error) {
	row := r.conn.Q(ctx).QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, string(id))

	c, err := scanChallenge(row)
	if err != nil {
		if IsNoRows(err) {
			return challenge.Challenge{}, shared.ErrChallengeNotFound
		}
		return challenge.Challenge{}, storeError("challenge", "GetChallenge", err)
	}
	return c, nil
}

// GetMany returns the challenges found among ids.
func (r *ChallengeCatalogRepository) GetMany(ctx context.Context, ids []shared.ChallengeID) (map[shared.ChallengeID]challenge.Challenge, error) {
	out := make(map[shared.ChallengeID]challenge.Challenge, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}

	list, err := r.list(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = ANY($1)`, raw)
	if err != nil {
		return nil, err
	}
	for _, c := range list {
		out[c.ID] = c
	}
	return out, nil
}

// List returns the whole catalog.
func (r *ChallengeCatalogRepository) List(ctx context.Context) ([]challenge.Challenge, error) {
	return r.list(ctx, `SELECT `+challengeColumns+` FROM challenges ORDER BY id`)
}

func (r *ChallengeCatalogRepository) list(ctx context.Context, query string, args ...any) ([]challenge.Challenge, error) {
	rows, err := r.conn.Q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, storeError("challenge", "ListChallenges", err)
	}
	defer rows.Close()

	var out []challenge.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, storeError("challenge", "ListChallenges", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("challenge", "ListChallenges", err)
	}
	return out, nil
}

// Upsert inserts or updates catalog challenges.
func (r *ChallengeCatalogRepository) Upsert(ctx context.Context, challenges []challenge.Challenge) error {
	batch := &pgx.Batch{}
	for _, c := range challenges {
		batch.Queue(`
			INSERT INTO challenges (`+challengeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title,
				type = EXCLUDED.type,
				target_value = EXCLUDED.target_value,
				xp_reward = EXCLUDED.xp_reward,
				is_active = EXCLUDED.is_active,
				start_date = EXCLUDED.start_date,
				end_date = EXCLUDED.end_date
		`, string(c.ID), c.Title, string(c.Type), c.TargetValue, c.XPReward, c.IsActive, c.StartDate, c.EndDate)
	}

	if err := r.conn.Q(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return storeError("challenge", "UpsertChallenges", err)
	}
	return nil
}

func scanChallenge(row pgx.Row) (challenge.Challenge, error) {
	var (
		c        challenge.Challenge
		id, kind string
	)
	err := row.Scan(&id, &c.Title, &kind, &c.TargetValue, &c.XPReward, &c.IsActive, &c.StartDate, &c.EndDate)
	if err != nil {
		return challenge.Challenge{}, err
	}
	c.ID = shared.ChallengeID(id)
	c.Type = challenge.Type(kind)
	return c, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USER CHALLENGES
// ══════════════════════════════════════════════════════════════════════════════

// UserChallengeRepository implements challenge.UserChallengeRepository for PostgreSQL.
type UserChallengeRepository struct {
	conn *Connection
}

// NewUserChallengeRepository creates a new UserChallengeRepository.
func NewUserChallengeRepository(conn *Connection) *UserChallengeRepository {
	return &UserChallengeRepository{conn: conn}
}

const userChallengeColumns = `user_id, challenge_id, current_progress, joined_at, completed_at`

// Get returns a user's enrolment.
func (r *UserChallengeRepository) Get(ctx context.Context, userID shared.UserID, challengeID shared.ChallengeID) (challenge.UserChallenge, error) {
	row := r.conn.Q(ctx).QueryRow(ctx,
		`SELECT `+userChallengeColumns+` FROM user_challenges WHERE user_id = $1 AND challenge_id = $2`,
		string(userID), string(challengeID))

	uc, err := scanUserChallenge(row)
	if err != nil {
		if IsNoRows(err) {
			return challenge.UserChallenge{}, shared.ErrChallengeNotFound
		}
		return challenge.UserChallenge{}, storeError("challenge", "GetUserChallenge", err)
	}
	return uc, nil
}

// Join enrols the user with zero progress unless already enrolled.
func (r *UserChallengeRepository) Join(ctx context.Context, userID shared.UserID, challengeID shared.ChallengeID, at time.Time) (bool, error) {
	tag, err := r.conn.Q(ctx).Exec(ctx, `
		INSERT INTO user_challenges (user_id, challenge_id, current_progress, joined_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (user_id, challenge_id) DO NOTHING
	`, string(userID), string(challengeID), at)
	if err != nil {
		return false, storeError("challenge", "JoinChallenge", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListActive returns the user's enrolments that are not completed.
func (r *UserChallengeRepository) ListActive(ctx context.Context, userID shared.UserID) ([]challenge.UserChallenge, error) {
	rows, err := r.conn.Q(ctx).Query(ctx, `
		SELECT `+userChallengeColumns+` FROM user_challenges
		WHERE user_id = $1 AND completed_at IS NULL
		ORDER BY joined_at, challenge_id
	`, string(userID))
	if err != nil {
		return nil, storeError("challenge", "ListActiveChallenges", err)
	}
	defer rows.Close()

	var out []challenge.UserChallenge
	for rows.Next() {
		uc, err := scanUserChallenge(rows)
		if err != nil {
			return nil, storeError("challenge", "ListActiveChallenges", err)
		}
		out = append(out, uc)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("challenge", "ListActiveChallenges", err)
	}
	return out, nil
}

// SaveProgress writes progress guarded by the read progress and an open completion.
func (r *UserChallengeRepository) SaveProgress(ctx context.Context, userID shared.UserID, challengeID shared.ChallengeID,
	oldProgress, newProgress int, completedAt *time.Time) (bool, error) {

	tag, err := r.conn.Q(ctx).Exec(ctx, `
		UPDATE user_challenges SET
			current_progress = $3,
			completed_at = $4
		WHERE user_id = $1 AND challenge_id = $2
		  AND completed_at IS NULL
		  AND current_progress = $5
	`, string(userID), string(challengeID), newProgress, completedAt, oldProgress)
	if err != nil {
		return false, storeError("challenge", "SaveProgress", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountActive counts open enrolments.
func (r *UserChallengeRepository) CountActive(ctx context.Context, userID shared.UserID) (int, error) {
	var n int
	err := r.conn.Q(ctx).QueryRow(ctx,
		`SELECT count(*) FROM user_challenges WHERE user_id = $1 AND completed_at IS NULL`,
		string(userID)).Scan(&n)
	if err != nil {
		return 0, storeError("challenge", "CountActive", err)
	}
	return n, nil
}

func scanUserChallenge(row pgx.Row) (challenge.UserChallenge, error) {
	var (
		uc       challenge.UserChallenge
		uid, cid string
	)
	if err := row.Scan(&uid, &cid, &uc.CurrentProgress, &uc.JoinedAt, &uc.CompletedAt); err != nil {
		return challenge.UserChallenge{}, err
	}
	uc.UserID = shared.UserID(uid)
	uc.ChallengeID = shared.ChallengeID(cid)
	return uc, nil
}
