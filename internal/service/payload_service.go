package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medprep/session-engine/internal/model"
	"github.com/medprep/session-engine/internal/options"
	"github.com/rs/zerolog"
)

// SessionPayload is everything a client needs to continue or review a session.
type SessionPayload struct {
	Session          *model.Session `json:"session"`
	Questions        []QuestionView `json:"questions"`
	Answers          []AnswerGroup  `json:"answers"`
	Notes            []model.Note   `json:"notes"`
	Summary          Summary        `json:"summary"`
	RemainingSeconds *int           `json:"remaining_seconds,omitempty"`
	Expired          bool           `json:"expired"`
}

// QuestionView is one question of the frozen order with its displayed choices.
type QuestionView struct {
	ID         uuid.UUID          `json:"id"`
	Position   int                `json:"position"`
	TopicID    uuid.UUID          `json:"topic_id"`
	Type       model.QuestionType `json:"type"`
	Prompt     string             `json:"prompt"`
	Options    []OptionView       `json:"options"`
	LeftItems  []string           `json:"left_items,omitempty"`
	RightItems []string           `json:"right_items,omitempty"`
	Flagged    bool               `json:"flagged"`
	Revealed   bool               `json:"revealed"`
}

// OptionView is a displayed choice. Correctness and explanation are only
// set once the question is revealed.
type OptionView struct {
	Label       string `json:"label"`
	Text        string `json:"text"`
	Permutation []int  `json:"permutation,omitempty"`
	Explanation string `json:"explanation,omitempty"`
	IsCorrect   *bool  `json:"is_correct,omitempty"`
}

// AnswerGroup is the attempt history of one question.
type AnswerGroup struct {
	QuestionID    uuid.UUID      `json:"question_id"`
	Attempts      []model.Answer `json:"attempts"`
	Authoritative *model.Answer  `json:"authoritative"`
}

// PayloadService assembles session payloads.
type PayloadService struct {
	sessions  SessionStore
	answers   AnswerStore
	notes     NoteStore
	questions QuestionReader
	now       func() time.Time
	log       zerolog.Logger
}

// NewPayloadService creates a new PayloadService.
func NewPayloadService(sessions SessionStore, answers AnswerStore, notes NoteStore, questions QuestionReader, log zerolog.Logger) *PayloadService {
	return &PayloadService{
		sessions:  sessions,
		answers:   answers,
		notes:     notes,
		questions: questions,
		now:       time.Now,
		log:       log.With().Str("component", "payload_service").Logger(),
	}
}

// Get rebuilds the payload of a session owned by userID.
func (s *PayloadService) Get(ctx context.Context, userID, sessionID uuid.UUID) (*SessionPayload, error) {
	sess, err := loadOwned(ctx, s.sessions, sessionID, userID)
	if err != nil {
		return nil, err
	}

	questions, err := s.questions.GetByIDs(ctx, sess.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	byID := make(map[uuid.UUID]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	answers, err := s.answers.ListSessionAnswers(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	attempts := make(map[uuid.UUID][]model.Answer)
	for _, a := range answers {
		attempts[a.QuestionID] = append(attempts[a.QuestionID], a)
	}

	notes, err := s.notes.ListNotes(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	if notes == nil {
		notes = []model.Note{}
	}

	flagged := make(map[uuid.UUID]bool, len(sess.FlaggedIDs))
	for _, id := range sess.FlaggedIDs {
		flagged[id] = true
	}

	p := &SessionPayload{
		Session:   sess,
		Questions: make([]QuestionView, 0, len(sess.QuestionIDs)),
		Answers:   []AnswerGroup{},
		Notes:     notes,
		Summary:   Summarize(sess.Mode, sess.QuestionIDs, attempts),
	}

	for pos, qid := range sess.QuestionIDs {
		history := attempts[qid]
		if len(history) > 0 {
			p.Answers = append(p.Answers, AnswerGroup{
				QuestionID:    qid,
				Attempts:      history,
				Authoritative: AuthoritativeAnswer(sess.Mode, history),
			})
		}

		q, ok := byID[qid]
		if !ok {
			s.log.Warn().
				Str("session_id", sess.ID.String()).
				Str("question_id", qid.String()).
				Msg("Session question missing from bank")
			continue
		}
		view := s.view(sess, q, revealed(sess.Mode, sess.Status, len(history) > 0))
		view.Position = pos
		view.Flagged = flagged[qid]
		p.Questions = append(p.Questions, view)
	}

	if p.RemainingSeconds = sess.RemainingSeconds(s.now()); p.RemainingSeconds != nil {
		p.Expired = *p.RemainingSeconds == 0
	}

	return p, nil
}

// view recomputes the displayed choices of q for sess.
func (s *PayloadService) view(sess *model.Session, q *model.Question, reveal bool) QuestionView {
	v := QuestionView{
		ID:       q.ID,
		TopicID:  q.TopicID,
		Type:     q.Type,
		Prompt:   q.Prompt,
		Revealed: reveal,
	}
	seed := options.QuestionSeed(sess.ID.String(), q.ID.String())

	if q.Type == model.QuestionTypeMatching {
		candidates, keyValid := options.BuildMatching(seed, q.MatchingKey, q.MatchingSize())
		if !keyValid {
			s.log.Warn().Str("question_id", q.ID.String()).Msg("Invalid matching key, showing identity permutation as correct")
		}
		v.LeftItems = q.LeftItems
		v.RightItems = q.RightItems
		v.Options = make([]OptionView, len(candidates))
		for i, c := range candidates {
			v.Options[i] = OptionView{Label: c.Label, Text: c.Text, Permutation: c.Permutation}
			if reveal {
				v.Options[i].IsCorrect = boolPtr(c.IsCorrect)
			}
		}
		return v
	}

	displayed := options.SelectStandard(q.Options, seed)
	v.Options = make([]OptionView, len(displayed))
	for i, o := range displayed {
		v.Options[i] = OptionView{Label: o.Label, Text: o.Text}
		if reveal {
			v.Options[i].Explanation = o.Explanation
			v.Options[i].IsCorrect = boolPtr(o.IsCorrect)
		}
	}
	return v
}

func boolPtr(b bool) *bool { return &b }
