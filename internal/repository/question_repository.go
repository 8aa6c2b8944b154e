package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medprep/session-engine/internal/model"
)

// QuestionRepository reads the question bank.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// scopeClause builds the WHERE clause for a filter, numbering placeholders from 1.
func scopeClause(f model.QuestionFilter) (string, []any) {
	args := []any{f.TopicIDs}
	clause := "WHERE topic_id = ANY($1::uuid[])"

	if f.CourseID != nil {
		args = append(args, *f.CourseID)
		clause += fmt.Sprintf(" AND course_id = $%d", len(args))
	}
	if f.UniversityID != nil {
		args = append(args, *f.UniversityID)
		clause += fmt.Sprintf(" AND university_id = $%d", len(args))
	}
	return clause, args
}

// SampleIDs returns up to limit random question ids matching the filter.
func (r *QuestionRepository) SampleIDs(ctx context.Context, f model.QuestionFilter, limit int) ([]uuid.UUID, error) {
	clause, args := scopeClause(f)
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id FROM questions %s ORDER BY random() LIMIT $%d`, clause, len(args))
	return r.queryIDs(ctx, query, args...)
}

// ListIDs returns up to limit question ids matching the filter, ordered by id.
func (r *QuestionRepository) ListIDs(ctx context.Context, f model.QuestionFilter, limit int) ([]uuid.UUID, error) {
	clause, args := scopeClause(f)
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id FROM questions %s ORDER BY id LIMIT $%d`, clause, len(args))
	return r.queryIDs(ctx, query, args...)
}

func (r *QuestionRepository) queryIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// GetByIDs loads questions with their option pools. Missing ids are skipped;
// the result follows the order of ids.
func (r *QuestionRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, topic_id, course_id, university_id, question_type, prompt,
		        matching_key, left_items, right_items
		 FROM questions WHERE id = ANY($1::uuid[])`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*model.Question, len(ids))
	for rows.Next() {
		var (
			q                model.Question
			key, left, right []byte
		)
		if err := rows.Scan(&q.ID, &q.TopicID, &q.CourseID, &q.UniversityID, &q.Type, &q.Prompt, &key, &left, &right); err != nil {
			return nil, err
		}
		if err := unmarshalIfSet(key, &q.MatchingKey); err != nil {
			// A malformed key is recovered by the option builder, not here.
			q.MatchingKey = nil
		}
		if err := unmarshalIfSet(left, &q.LeftItems); err != nil {
			return nil, fmt.Errorf("question %s left items: %w", q.ID, err)
		}
		if err := unmarshalIfSet(right, &q.RightItems); err != nil {
			return nil, fmt.Errorf("question %s right items: %w", q.ID, err)
		}
		byID[q.ID] = &q
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	optRows, err := r.pool.Query(ctx,
		`SELECT question_id, label, text, explanation, is_correct
		 FROM question_options WHERE question_id = ANY($1::uuid[])
		 ORDER BY question_id, label`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer optRows.Close()

	for optRows.Next() {
		var (
			qid uuid.UUID
			o   model.Option
		)
		if err := optRows.Scan(&qid, &o.Label, &o.Text, &o.Explanation, &o.IsCorrect); err != nil {
			return nil, err
		}
		if q, ok := byID[qid]; ok {
			q.Options = append(q.Options, o)
		}
	}
	if err := optRows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.Question, 0, len(byID))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			out = append(out, *q)
		}
	}
	return out, nil
}

// Create inserts a question and its option pool in one transaction.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	key, err := marshalOrNull(q.MatchingKey)
	if err != nil {
		return err
	}
	left, _ := json.Marshal(nonNil(q.LeftItems))
	right, _ := json.Marshal(nonNil(q.RightItems))

	err = tx.QueryRow(ctx,
		`INSERT INTO questions (topic_id, course_id, university_id, question_type, prompt, matching_key, left_items, right_items)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		q.TopicID, q.CourseID, q.UniversityID, q.Type, q.Prompt, key, left, right,
	).Scan(&q.ID)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}

	if len(q.Options) > 0 {
		rows := make([][]any, len(q.Options))
		for i, o := range q.Options {
			rows[i] = []any{q.ID, strings.TrimSpace(o.Label), o.Text, o.Explanation, o.IsCorrect}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"question_options"},
			[]string{"question_id", "label", "text", "explanation", "is_correct"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("insert options: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func unmarshalIfSet[T any](raw []byte, dst *T) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func marshalOrNull(v []int) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
