package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/skillquest/progression-engine/internal/domain/lesson"
	"github.com/skillquest/progression-engine/internal/domain/shared"
)

// LessonCatalogRepository implements lesson.CatalogRepository for PostgreSQL.
type LessonCatalogRepository struct {
	conn *Connection
}

// NewLessonCatalogRepository creates a new LessonCatalogRepository.
func NewLessonCatalogRepository(conn *Connection) *LessonCatalogRepository {
	return &LessonCatalogRepository{conn: conn}
}

// Get returns a catalog lesson.
func (r *LessonCatalogRepository) Get(ctx context.Context, id shared.LessonID) (lesson.Lesson, error) {
	var (
		l   lesson.Lesson
		lid string
	)
	err := r.conn.Q(ctx).QueryRow(ctx,
		`SELECT id, title, xp_reward, is_active FROM lessons WHERE id = $1`, string(id)).
		Scan(&lid, &l.Title, &l.XPReward, &l.IsActive)
	if err != nil {
		if IsNoRows(err) {
			return lesson.Lesson{}, shared.ErrLessonNotFound
		}
		return lesson.Lesson{}, storeError("lesson", "GetLesson", err)
	}
	l.ID = shared.LessonID(lid)
	return l, nil
}

// List returns the whole catalog.
func (r *LessonCatalogRepository) List(ctx context.Context) ([]lesson.Lesson, error) {
	rows, err := r.conn.Q(ctx).Query(ctx, `SELECT id, title, xp_reward, is_active FROM lessons ORDER BY id`)
	if err != nil {
		return nil, storeError("lesson", "ListLessons", err)
	}
	defer rows.Close()

	var out []lesson.Lesson
	for rows.Next() {
		var (
			l   lesson.Lesson
			lid string
		)
		if err := rows.Scan(&lid, &l.Title, &l.XPReward, &l.IsActive); err != nil {
			return nil, storeError("lesson", "ListLessons", err)
		}
		l.ID = shared.LessonID(lid)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("lesson", "ListLessons", err)
	}
	return out, nil
}

// Upsert inserts or updates catalog lessons.
func (r *LessonCatalogRepository) Upsert(ctx context.Context, lessons []lesson.Lesson) error {
	batch := &pgx.Batch{}
	for _, l := range lessons {
		batch.Queue(`
			INSERT INTO lessons (id, title, xp_reward, is_active) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title,
				xp_reward = EXCLUDED.xp_reward,
				is_active = EXCLUDED.is_active
		`, string(l.ID), l.Title, l.XPReward, l.IsActive)
	}

	if err := r.conn.Q(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return storeError("lesson", "UpsertLessons", err)
	}
	return nil
}

// CompletionRepository implements lesson.CompletionRepository for PostgreSQL.
type CompletionRepository struct {
	conn *Connection
}

// NewCompletionRepository creates a new CompletionRepository.
func NewCompletionRepository(conn *Connection) *CompletionRepository {
	return &CompletionRepository{conn: conn}
}

// Insert records a completion unless the pair already exists.
func (r *CompletionRepository) Insert(ctx context.Context, c lesson.Completion) (bool, error) {
	tag, err := r.conn.Q(ctx).Exec(ctx, `
		INSERT INTO lesson_completions (user_id, lesson_id, xp_earned, time_spent_seconds, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, lesson_id) DO NOTHING
	`, string(c.UserID), string(c.LessonID), c.XPEarned, c.TimeSpentSeconds, c.CompletedAt)
	if err != nil {
		return false, storeError("lesson", "RecordCompletion", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns a user's completion of a lesson.
func (r *CompletionRepository) Get(ctx context.Context, userID shared.UserID, lessonID shared.LessonID) (lesson.Completion, error) {
	var (
		c        lesson.Completion
		uid, lid string
	)
	err := r.conn.Q(ctx).QueryRow(ctx, `
		SELECT user_id, lesson_id, xp_earned, time_spent_seconds, completed_at
		FROM lesson_completions WHERE user_id = $1 AND lesson_id = $2
	`, string(userID), string(lessonID)).Scan(&uid, &lid, &c.XPEarned, &c.TimeSpentSeconds, &c.CompletedAt)
	if err != nil {
		if IsNoRows(err) {
			return lesson.Completion{}, shared.ErrLessonNotFound
		}
		return lesson.Completion{}, storeError("lesson", "GetCompletion", err)
	}
	c.UserID = shared.UserID(uid)
	c.LessonID = shared.LessonID(lid)
	return c, nil
}

// CountByUser counts a user's completions.
func (r *CompletionRepository) CountByUser(ctx context.Context, userID shared.UserID) (int, error) {
	var n int
	err := r.conn.Q(ctx).QueryRow(ctx,
		`SELECT count(*) FROM lesson_completions WHERE user_id = $1`, string(userID)).Scan(&n)
	if err != nil {
		return 0, storeError("lesson", "CountCompletions", err)
	}
	return n, nil
}
