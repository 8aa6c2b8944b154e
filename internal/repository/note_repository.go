package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medprep/session-engine/internal/model"
)

// NoteRepository handles per-question session notes.
type NoteRepository struct {
	pool *pgxpool.Pool
}

// NewNoteRepository creates a new NoteRepository.
func NewNoteRepository(pool *pgxpool.Pool) *NoteRepository {
	return &NoteRepository{pool: pool}
}

// UpsertNote creates or overwrites the note of (session, question).
func (r *NoteRepository) UpsertNote(ctx context.Context, n *model.Note) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO session_notes (session_id, question_id, text)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id, question_id) DO UPDATE
		 SET text = EXCLUDED.text, updated_at = NOW()
		 RETURNING updated_at`,
		n.SessionID, n.QuestionID, n.Text,
	).Scan(&n.UpdatedAt)
}

// DeleteNote removes the note of (session, question), if any.
func (r *NoteRepository) DeleteNote(ctx context.Context, sessionID, questionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM session_notes WHERE session_id = $1 AND question_id = $2`,
		sessionID, questionID)
	return err
}

// ListNotes returns every note of a session.
func (r *NoteRepository) ListNotes(ctx context.Context, sessionID uuid.UUID) ([]model.Note, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, question_id, text, updated_at
		 FROM session_notes WHERE session_id = $1
		 ORDER BY updated_at`, sessionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[model.Note])
}
