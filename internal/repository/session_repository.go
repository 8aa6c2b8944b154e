package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medprep/session-engine/internal/model"
)

// ErrStateChanged is returned by guarded updates when the session row no
// longer matches the expected state (for example it was finished meanwhile).
var ErrStateChanged = errors.New("session state changed")

const sessionColumns = `id, user_id, mode, course_id, topic_ids, requested_count, timed,
	time_limit_minutes, current_index, flagged_question_ids, status, paused_seconds,
	created_at, paused_at, finished_at`

// SessionRepository handles study session rows and their frozen question order.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// CreateSession inserts the session row and its frozen question order atomically.
func (r *SessionRepository) CreateSession(ctx context.Context, s *model.Session) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO study_sessions (id, user_id, mode, course_id, topic_ids, requested_count,
		                            timed, time_limit_minutes, current_index, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)
		 RETURNING created_at`,
		s.ID, s.UserID, s.Mode, s.CourseID, s.TopicIDs, s.RequestedCount,
		s.Timed, s.TimeLimitMinutes, model.SessionStatusInProgress,
	).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	rows := make([][]any, len(s.QuestionIDs))
	for i, qid := range s.QuestionIDs {
		rows[i] = []any{s.ID, i, qid}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"session_questions"},
		[]string{"session_id", "position", "question_id"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("insert question order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.Status = model.SessionStatusInProgress
	s.FlaggedIDs = []uuid.UUID{}
	return nil
}

// DeleteSession removes a session; answers, notes and order cascade.
func (r *SessionRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM study_sessions WHERE id = $1`, id)
	return err
}

// GetSession retrieves a session with its frozen question order.
// Returns pgx.ErrNoRows when the session does not exist.
func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM study_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id FROM session_questions WHERE session_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	s.QuestionIDs, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateProgress sets the current position of an unfinished session.
func (r *SessionRepository) UpdateProgress(ctx context.Context, id uuid.UUID, index int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE study_sessions SET current_index = $2
		 WHERE id = $1 AND status <> $3`,
		id, index, model.SessionStatusFinished)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStateChanged
	}
	return nil
}

// ToggleFlag adds or removes questionID from the flagged set and returns the result.
func (r *SessionRepository) ToggleFlag(ctx context.Context, id, questionID uuid.UUID) ([]uuid.UUID, error) {
	var flagged []uuid.UUID
	err := r.pool.QueryRow(ctx,
		`UPDATE study_sessions
		 SET flagged_question_ids = CASE
		     WHEN $2::uuid = ANY(flagged_question_ids) THEN array_remove(flagged_question_ids, $2::uuid)
		     ELSE array_append(flagged_question_ids, $2::uuid)
		 END
		 WHERE id = $1 AND status <> $3
		 RETURNING flagged_question_ids`,
		id, questionID, model.SessionStatusFinished,
	).Scan(&flagged)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStateChanged
	}
	return flagged, err
}

// PauseSession moves an in-progress session to paused at the given position.
func (r *SessionRepository) PauseSession(ctx context.Context, id uuid.UUID, index int, at time.Time) error {
	return r.guardedExec(ctx,
		`UPDATE study_sessions
		 SET status = 'paused', paused_at = $3, current_index = $2
		 WHERE id = $1 AND status = 'in_progress'`,
		id, index, at)
}

// ResumeSession moves a paused session back to in_progress, adding the
// paused span to paused_seconds.
func (r *SessionRepository) ResumeSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.guardedExec(ctx,
		`UPDATE study_sessions
		 SET status = 'in_progress',
		     paused_seconds = paused_seconds + GREATEST(0, EXTRACT(EPOCH FROM ($2::timestamptz - paused_at)))::int,
		     paused_at = NULL
		 WHERE id = $1 AND status = 'paused'`,
		id, at)
}

// FinishSession marks the session finished once. index nil keeps the
// current position.
func (r *SessionRepository) FinishSession(ctx context.Context, id uuid.UUID, index *int, at time.Time) error {
	return r.guardedExec(ctx,
		`UPDATE study_sessions
		 SET status = 'finished',
		     finished_at = $3::timestamptz,
		     current_index = COALESCE($2::int, current_index),
		     paused_seconds = paused_seconds + CASE
		         WHEN status = 'paused' THEN GREATEST(0, EXTRACT(EPOCH FROM ($3::timestamptz - paused_at)))::int
		         ELSE 0
		     END,
		     paused_at = NULL
		 WHERE id = $1 AND status <> 'finished'`,
		id, index, at)
}

func (r *SessionRepository) guardedExec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStateChanged
	}
	return nil
}

func scanSession(row pgx.Row) (*model.Session, error) {
	s := &model.Session{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.Mode, &s.CourseID, &s.TopicIDs, &s.RequestedCount, &s.Timed,
		&s.TimeLimitMinutes, &s.CurrentIndex, &s.FlaggedIDs, &s.Status, &s.PausedSeconds,
		&s.CreatedAt, &s.PausedAt, &s.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
