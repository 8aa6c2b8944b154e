package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medprep/session-engine/internal/model"
)

// ErrDuplicateAttempt is returned when (session, question, attempt) already exists.
var ErrDuplicateAttempt = errors.New("attempt already recorded")

const pgUniqueViolation = "23505"

const answerColumns = `id, session_id, question_id, option_label, is_correct, attempt, created_at`

// AnswerRepository handles submitted answers.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// ListAnswers returns the answers of one question in attempt order.
func (r *AnswerRepository) ListAnswers(ctx context.Context, sessionID, questionID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+answerColumns+` FROM session_answers
		 WHERE session_id = $1 AND question_id = $2
		 ORDER BY attempt`, sessionID, questionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAnswer)
}

// ListSessionAnswers returns every answer of a session grouped by question
// and ordered by attempt.
func (r *AnswerRepository) ListSessionAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+answerColumns+` FROM session_answers
		 WHERE session_id = $1
		 ORDER BY question_id, attempt`, sessionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAnswer)
}

// InsertAnswer records one attempt. The unique (session, question, attempt)
// constraint turns a concurrent duplicate into ErrDuplicateAttempt.
func (r *AnswerRepository) InsertAnswer(ctx context.Context, a *model.Answer) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO session_answers (session_id, question_id, option_label, is_correct, attempt)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		a.SessionID, a.QuestionID, a.OptionLabel, a.IsCorrect, a.Attempt,
	).Scan(&a.ID, &a.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicateAttempt
	}
	return err
}

func scanAnswer(row pgx.CollectableRow) (model.Answer, error) {
	var a model.Answer
	err := row.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.OptionLabel, &a.IsCorrect, &a.Attempt, &a.CreatedAt)
	return a, err
}
