package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/medprep/session-engine/internal/model"
	"github.com/medprep/session-engine/internal/options"
	"github.com/medprep/session-engine/internal/repository"
	"github.com/medprep/session-engine/internal/sampler"
	"github.com/rs/zerolog"
)

// QuestionReader loads full question rows.
type QuestionReader interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Question, error)
}

// QuestionSampler draws question ids for a new session.
type QuestionSampler interface {
	Sample(ctx context.Context, filter model.QuestionFilter, limit int, seed string) ([]uuid.UUID, error)
}

// SessionStore persists sessions. Guarded updates return
// repository.ErrStateChanged when the row is no longer in the expected state,
// and GetSession returns pgx.ErrNoRows for unknown ids.
type SessionStore interface {
	CreateSession(ctx context.Context, s *model.Session) error
	DeleteSession(ctx context.Context, id uuid.UUID) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, index int) error
	ToggleFlag(ctx context.Context, id, questionID uuid.UUID) ([]uuid.UUID, error)
	PauseSession(ctx context.Context, id uuid.UUID, index int, at time.Time) error
	ResumeSession(ctx context.Context, id uuid.UUID, at time.Time) error
	FinishSession(ctx context.Context, id uuid.UUID, index *int, at time.Time) error
}

// AnswerStore persists answers. InsertAnswer returns
// repository.ErrDuplicateAttempt when the attempt number is taken.
type AnswerStore interface {
	ListAnswers(ctx context.Context, sessionID, questionID uuid.UUID) ([]model.Answer, error)
	ListSessionAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error)
	InsertAnswer(ctx context.Context, a *model.Answer) error
}

// NoteStore persists notes.
type NoteStore interface {
	UpsertNote(ctx context.Context, n *model.Note) error
	DeleteNote(ctx context.Context, sessionID, questionID uuid.UUID) error
	ListNotes(ctx context.Context, sessionID uuid.UUID) ([]model.Note, error)
}

// CreateResult reports the outcome of session creation.
type CreateResult struct {
	SessionID      uuid.UUID `json:"session_id"`
	QuestionCount  int       `json:"question_count"`
	RequestedCount int       `json:"requested_count"`
	Underfilled    bool      `json:"underfilled"`
}

// SubmitResult is the outcome of one answer submission. Locked means the
// submission was not recorded and Attempt/IsCorrect describe the prior answer.
type SubmitResult struct {
	Locked    bool `json:"locked"`
	Attempt   int  `json:"attempt"`
	IsCorrect bool `json:"is_correct"`
}

// SessionService drives the session state machine.
type SessionService struct {
	sessions     SessionStore
	answers      AnswerStore
	notes        NoteStore
	questions    QuestionReader
	sampler      QuestionSampler
	maxQuestions int
	now          func() time.Time
	log          zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessions SessionStore,
	answers AnswerStore,
	notes NoteStore,
	questions QuestionReader,
	smp QuestionSampler,
	maxQuestions int,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessions:     sessions,
		answers:      answers,
		notes:        notes,
		questions:    questions,
		sampler:      smp,
		maxQuestions: maxQuestions,
		now:          time.Now,
		log:          log.With().Str("component", "session_service").Logger(),
	}
}

// Create samples a question set, freezes its order and persists the session.
func (s *SessionService) Create(ctx context.Context, userID uuid.UUID, universityID *uuid.UUID, req *model.CreateSessionRequest) (*CreateResult, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	id := uuid.New()
	filter := model.QuestionFilter{
		TopicIDs:     uniqueIDs(req.TopicIDs),
		CourseID:     req.CourseID,
		UniversityID: universityID,
	}

	ids, err := s.sampler.Sample(ctx, filter, req.QuestionCount, id.String())
	if err != nil {
		return nil, fmt.Errorf("sample questions: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrPoolExhausted
	}
	if req.RequireFull && len(ids) < req.QuestionCount {
		return nil, fmt.Errorf("%w: %d of %d available", ErrPoolExhausted, len(ids), req.QuestionCount)
	}

	sess := &model.Session{
		ID:             id,
		UserID:         userID,
		Mode:           req.Mode,
		CourseID:       req.CourseID,
		TopicIDs:       filter.TopicIDs,
		QuestionIDs:    sampler.FreezeOrder(ids, id),
		RequestedCount: req.QuestionCount,
		Timed:          req.Timed,
	}
	if req.Timed {
		sess.TimeLimitMinutes = req.TimeLimitMinutes
	}

	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	// Warm the question rows; a session whose questions cannot be loaded is unusable.
	if _, err := s.questions.GetByIDs(ctx, sess.QuestionIDs); err != nil {
		if delErr := s.sessions.DeleteSession(context.WithoutCancel(ctx), id); delErr != nil {
			s.log.Error().Err(delErr).Str("session_id", id.String()).Msg("Rollback of session failed")
		}
		return nil, fmt.Errorf("load session questions: %w", err)
	}

	res := &CreateResult{
		SessionID:      id,
		QuestionCount:  len(sess.QuestionIDs),
		RequestedCount: req.QuestionCount,
		Underfilled:    len(sess.QuestionIDs) < req.QuestionCount,
	}

	s.log.Info().
		Str("session_id", id.String()).
		Str("user_id", userID.String()).
		Str("mode", string(req.Mode)).
		Int("requested", res.RequestedCount).
		Int("questions", res.QuestionCount).
		Msg("Session created")

	return res, nil
}

func (s *SessionService) validateCreate(req *model.CreateSessionRequest) error {
	switch {
	case !req.Mode.Valid():
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, req.Mode)
	case len(req.TopicIDs) == 0:
		return fmt.Errorf("%w: at least one topic is required", ErrInvalidInput)
	case req.QuestionCount <= 0:
		return fmt.Errorf("%w: question count must be positive", ErrInvalidInput)
	case s.maxQuestions > 0 && req.QuestionCount > s.maxQuestions:
		return fmt.Errorf("%w: question count above %d", ErrInvalidInput, s.maxQuestions)
	case req.Timed && req.Mode == model.ModeReview:
		return fmt.Errorf("%w: review sessions are untimed", ErrInvalidInput)
	case req.Timed && (req.TimeLimitMinutes == nil || *req.TimeLimitMinutes <= 0):
		return fmt.Errorf("%w: timed sessions need a time limit", ErrInvalidInput)
	}
	for _, t := range req.TopicIDs {
		if t == uuid.Nil {
			return fmt.Errorf("%w: empty topic id", ErrInvalidInput)
		}
	}
	return nil
}

// Get returns the session row of an owned session.
func (s *SessionService) Get(ctx context.Context, userID, sessionID uuid.UUID) (*model.Session, error) {
	return loadOwned(ctx, s.sessions, sessionID, userID)
}

// Submit grades an answer and records it according to the session mode.
func (s *SessionService) Submit(ctx context.Context, userID, sessionID uuid.UUID, req *model.SubmitAnswerRequest) (*SubmitResult, error) {
	sess, err := loadOwned(ctx, s.sessions, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionStatusFinished {
		return nil, ErrSessionFinished
	}
	if !sess.Contains(req.QuestionID) {
		return nil, ErrQuestionNotInSession
	}
	if err := checkIndex(sess, req.CurrentIndex); err != nil {
		return nil, err
	}
	label := strings.TrimSpace(req.OptionLabel)
	if label == "" {
		return nil, fmt.Errorf("%w: option label is required", ErrInvalidInput)
	}

	q, err := s.loadQuestion(ctx, req.QuestionID)
	if err != nil {
		return nil, err
	}
	correct, err := s.grade(sess, q, label)
	if err != nil {
		return nil, err
	}

	prior, err := s.answers.ListAnswers(ctx, sess.ID, q.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	log := s.log.With().
		Str("session_id", sess.ID.String()).
		Str("question_id", q.ID.String()).
		Logger()

	var res SubmitResult
	if sess.Mode == model.ModePractice && len(prior) > 0 {
		first := AuthoritativeAnswer(sess.Mode, prior)
		res = SubmitResult{Locked: true, Attempt: first.Attempt, IsCorrect: first.IsCorrect}
		log.Debug().Msg("Practice answer locked")
	} else {
		a := &model.Answer{
			SessionID:   sess.ID,
			QuestionID:  q.ID,
			OptionLabel: label,
			IsCorrect:   correct,
			Attempt:     lastAttempt(prior) + 1,
		}
		if err := s.answers.InsertAnswer(ctx, a); err != nil {
			if errors.Is(err, repository.ErrDuplicateAttempt) {
				return nil, ErrAttemptConflict
			}
			return nil, fmt.Errorf("insert answer: %w", err)
		}
		res = SubmitResult{Attempt: a.Attempt, IsCorrect: a.IsCorrect}
	}

	if err := s.sessions.UpdateProgress(ctx, sess.ID, req.CurrentIndex); err != nil {
		if !errors.Is(err, repository.ErrStateChanged) {
			return nil, fmt.Errorf("update progress: %w", err)
		}
		log.Warn().Msg("Session finished while answering, position not saved")
	}

	return &res, nil
}

func (s *SessionService) loadQuestion(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	qs, err := s.questions.GetByIDs(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("load question: %w", err)
	}
	if len(qs) == 0 {
		return nil, ErrQuestionNotFound
	}
	return &qs[0], nil
}

// grade recomputes the displayed choices and reports whether label is the
// correct one. A label that is not displayed is rejected.
func (s *SessionService) grade(sess *model.Session, q *model.Question, label string) (bool, error) {
	seed := options.QuestionSeed(sess.ID.String(), q.ID.String())

	if q.Type == model.QuestionTypeMatching {
		candidates, keyValid := options.BuildMatching(seed, q.MatchingKey, q.MatchingSize())
		if !keyValid {
			s.log.Warn().Str("question_id", q.ID.String()).Msg("Invalid matching key, graded against identity permutation")
		}
		c, ok := options.FindCandidate(candidates, label)
		if !ok {
			return false, ErrInvalidOption
		}
		return c.IsCorrect, nil
	}

	displayed := options.SelectStandard(q.Options, seed)
	if !options.HasCorrect(displayed) {
		s.log.Warn().Str("question_id", q.ID.String()).Msg("Question has no correct option")
	}
	o, ok := options.FindOption(displayed, label)
	if !ok {
		return false, ErrInvalidOption
	}
	return o.IsCorrect, nil
}

// ToggleFlag flips the flag of one question and returns the resulting flag set.
func (s *SessionService) ToggleFlag(ctx context.Context, userID, sessionID, questionID uuid.UUID) ([]uuid.UUID, error) {
	sess, err := s.loadActive(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Contains(questionID) {
		return nil, ErrQuestionNotInSession
	}

	flagged, err := s.sessions.ToggleFlag(ctx, sess.ID, questionID)
	if errors.Is(err, repository.ErrStateChanged) {
		return nil, ErrSessionFinished
	}
	if err != nil {
		return nil, fmt.Errorf("toggle flag: %w", err)
	}
	if flagged == nil {
		flagged = []uuid.UUID{}
	}
	return flagged, nil
}

// SaveNote stores the note of one question. Blank text deletes the note and
// returns nil.
func (s *SessionService) SaveNote(ctx context.Context, userID, sessionID uuid.UUID, req *model.SaveNoteRequest) (*model.Note, error) {
	sess, err := s.loadActive(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Contains(req.QuestionID) {
		return nil, ErrQuestionNotInSession
	}

	if strings.TrimSpace(req.Text) == "" {
		if err := s.notes.DeleteNote(ctx, sess.ID, req.QuestionID); err != nil {
			return nil, fmt.Errorf("delete note: %w", err)
		}
		return nil, nil
	}

	n := &model.Note{SessionID: sess.ID, QuestionID: req.QuestionID, Text: req.Text}
	if err := s.notes.UpsertNote(ctx, n); err != nil {
		return nil, fmt.Errorf("save note: %w", err)
	}
	return n, nil
}

// Pause suspends a practice session at index. Pausing a paused session only
// moves its position.
func (s *SessionService) Pause(ctx context.Context, userID, sessionID uuid.UUID, index int) error {
	sess, err := s.loadActive(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if sess.Mode != model.ModePractice {
		return ErrPauseNotAllowed
	}
	if err := checkIndex(sess, index); err != nil {
		return err
	}

	if sess.Status == model.SessionStatusPaused {
		return s.saveIndex(ctx, sess.ID, index)
	}

	err = s.sessions.PauseSession(ctx, sess.ID, index, s.now())
	if errors.Is(err, repository.ErrStateChanged) {
		return s.settle(ctx, sess.ID)
	}
	if err != nil {
		return fmt.Errorf("pause session: %w", err)
	}

	s.log.Info().Str("session_id", sess.ID.String()).Int("index", index).Msg("Session paused")
	return nil
}

// Resume returns a paused session to in_progress; otherwise it does nothing.
func (s *SessionService) Resume(ctx context.Context, userID, sessionID uuid.UUID) error {
	sess, err := loadOwned(ctx, s.sessions, sessionID, userID)
	if err != nil {
		return err
	}
	if sess.Status != model.SessionStatusPaused {
		return nil
	}

	err = s.sessions.ResumeSession(ctx, sess.ID, s.now())
	if err != nil && !errors.Is(err, repository.ErrStateChanged) {
		return fmt.Errorf("resume session: %w", err)
	}
	return nil
}

// Finish ends the session once and returns its final state. Finishing a
// finished session returns it unchanged.
func (s *SessionService) Finish(ctx context.Context, userID, sessionID uuid.UUID, req *model.FinishSessionRequest) (*model.Session, error) {
	sess, err := loadOwned(ctx, s.sessions, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionStatusFinished {
		return sess, nil
	}
	if req.CurrentIndex != nil {
		if err := checkIndex(sess, *req.CurrentIndex); err != nil {
			return nil, err
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = model.FinishReasonUser
	}

	err = s.sessions.FinishSession(ctx, sess.ID, req.CurrentIndex, s.now())
	if err != nil && !errors.Is(err, repository.ErrStateChanged) {
		return nil, fmt.Errorf("finish session: %w", err)
	}

	final, err := loadOwned(ctx, s.sessions, sessionID, userID)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("user_id", userID.String()).
		Str("reason", string(reason)).
		Msg("Session finished")

	return final, nil
}

// SaveProgress checkpoints the position without finishing.
func (s *SessionService) SaveProgress(ctx context.Context, userID, sessionID uuid.UUID, index int) error {
	sess, err := s.loadActive(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if err := checkIndex(sess, index); err != nil {
		return err
	}
	return s.saveIndex(ctx, sess.ID, index)
}

func (s *SessionService) saveIndex(ctx context.Context, id uuid.UUID, index int) error {
	err := s.sessions.UpdateProgress(ctx, id, index)
	if errors.Is(err, repository.ErrStateChanged) {
		return ErrSessionFinished
	}
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// settle re-reads a session after a guarded update lost a race.
func (s *SessionService) settle(ctx context.Context, id uuid.UUID) error {
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if sess.Status == model.SessionStatusFinished {
		return ErrSessionFinished
	}
	return nil
}

// loadActive loads an owned session that is not finished.
func (s *SessionService) loadActive(ctx context.Context, userID, sessionID uuid.UUID) (*model.Session, error) {
	sess, err := loadOwned(ctx, s.sessions, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionStatusFinished {
		return nil, ErrSessionFinished
	}
	return sess, nil
}

// loadOwned reports sessions of other users exactly like missing ones.
func loadOwned(ctx context.Context, store SessionStore, sessionID, userID uuid.UUID) (*model.Session, error) {
	sess, err := store.GetSession(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func checkIndex(sess *model.Session, index int) error {
	if index < 0 || (len(sess.QuestionIDs) > 0 && index >= len(sess.QuestionIDs)) {
		return fmt.Errorf("%w: position %d out of range", ErrInvalidInput, index)
	}
	return nil
}

func lastAttempt(answers []model.Answer) int {
	last := 0
	for _, a := range answers {
		if a.Attempt > last {
			last = a.Attempt
		}
	}
	return last
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
