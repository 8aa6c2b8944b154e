package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/medprep/session-engine/internal/model"
	"github.com/medprep/session-engine/internal/options"
	"github.com/medprep/session-engine/internal/repository"
	"github.com/medprep/session-engine/internal/sampler"
	"github.com/rs/zerolog"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// memStore is an in-memory SessionStore, AnswerStore and NoteStore with the
// same guard semantics as the PostgreSQL repositories.
type memStore struct {
	mu       sync.Mutex
	clock    *fakeClock
	sessions map[uuid.UUID]*model.Session
	answers  []model.Answer
	notes    map[[2]uuid.UUID]model.Note

	insertErr error
}

func newMemStore(clock *fakeClock) *memStore {
	return &memStore{
		clock:    clock,
		sessions: make(map[uuid.UUID]*model.Session),
		notes:    make(map[[2]uuid.UUID]model.Note),
	}
}

func cloneSession(s *model.Session) *model.Session {
	c := *s
	c.TopicIDs = slices.Clone(s.TopicIDs)
	c.QuestionIDs = slices.Clone(s.QuestionIDs)
	c.FlaggedIDs = slices.Clone(s.FlaggedIDs)
	return &c
}

func (m *memStore) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.CreatedAt = m.clock.Now()
	s.Status = model.SessionStatusInProgress
	s.FlaggedIDs = []uuid.UUID{}
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) GetSession(_ context.Context, id uuid.UUID) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return cloneSession(s), nil
}

func (m *memStore) UpdateProgress(_ context.Context, id uuid.UUID, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status == model.SessionStatusFinished {
		return repository.ErrStateChanged
	}
	s.CurrentIndex = index
	return nil
}

func (m *memStore) ToggleFlag(_ context.Context, id, questionID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status == model.SessionStatusFinished {
		return nil, repository.ErrStateChanged
	}
	if i := slices.Index(s.FlaggedIDs, questionID); i >= 0 {
		s.FlaggedIDs = slices.Delete(s.FlaggedIDs, i, i+1)
	} else {
		s.FlaggedIDs = append(s.FlaggedIDs, questionID)
	}
	return slices.Clone(s.FlaggedIDs), nil
}

func (m *memStore) PauseSession(_ context.Context, id uuid.UUID, index int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != model.SessionStatusInProgress {
		return repository.ErrStateChanged
	}
	s.Status = model.SessionStatusPaused
	s.PausedAt = &at
	s.CurrentIndex = index
	return nil
}

func (m *memStore) ResumeSession(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != model.SessionStatusPaused {
		return repository.ErrStateChanged
	}
	s.PausedSeconds += max(0, int(at.Sub(*s.PausedAt).Seconds()))
	s.PausedAt = nil
	s.Status = model.SessionStatusInProgress
	return nil
}

func (m *memStore) FinishSession(_ context.Context, id uuid.UUID, index *int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status == model.SessionStatusFinished {
		return repository.ErrStateChanged
	}
	if s.Status == model.SessionStatusPaused {
		s.PausedSeconds += max(0, int(at.Sub(*s.PausedAt).Seconds()))
	}
	if index != nil {
		s.CurrentIndex = *index
	}
	s.Status = model.SessionStatusFinished
	s.FinishedAt = &at
	s.PausedAt = nil
	return nil
}

func (m *memStore) ListAnswers(_ context.Context, sessionID, questionID uuid.UUID) ([]model.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Answer
	for _, a := range m.answers {
		if a.SessionID == sessionID && a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.Answer) int { return a.Attempt - b.Attempt })
	return out, nil
}

func (m *memStore) ListSessionAnswers(_ context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Answer
	for _, a := range m.answers {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.Answer) int {
		if c := slices.Compare(a.QuestionID[:], b.QuestionID[:]); c != 0 {
			return c
		}
		return a.Attempt - b.Attempt
	})
	return out, nil
}

func (m *memStore) InsertAnswer(_ context.Context, a *model.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, x := range m.answers {
		if x.SessionID == a.SessionID && x.QuestionID == a.QuestionID && x.Attempt == a.Attempt {
			return repository.ErrDuplicateAttempt
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = m.clock.Now()
	m.answers = append(m.answers, *a)
	return nil
}

func (m *memStore) UpsertNote(_ context.Context, n *model.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.UpdatedAt = m.clock.Now()
	m.notes[[2]uuid.UUID{n.SessionID, n.QuestionID}] = *n
	return nil
}

func (m *memStore) DeleteNote(_ context.Context, sessionID, questionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notes, [2]uuid.UUID{sessionID, questionID})
	return nil
}

func (m *memStore) ListNotes(_ context.Context, sessionID uuid.UUID) ([]model.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Note
	for k, n := range m.notes {
		if k[0] == sessionID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) answerCount(sessionID, questionID uuid.UUID) int {
	answers, _ := m.ListAnswers(context.Background(), sessionID, questionID)
	return len(answers)
}

// fakeBank is a question bank that also serves as the sampler source.
type fakeBank struct {
	order     []uuid.UUID
	questions map[uuid.UUID]model.Question
	getErr    error
}

func newFakeBank() *fakeBank {
	return &fakeBank{questions: make(map[uuid.UUID]model.Question)}
}

func (b *fakeBank) add(q model.Question) model.Question {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	b.order = append(b.order, q.ID)
	b.questions[q.ID] = q
	return q
}

func (b *fakeBank) SampleIDs(_ context.Context, f model.QuestionFilter, limit int) ([]uuid.UUID, error) {
	return b.ListIDs(context.Background(), f, limit)
}

func (b *fakeBank) ListIDs(_ context.Context, f model.QuestionFilter, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, id := range b.order {
		if slices.Contains(f.TopicIDs, b.questions[id].TopicID) && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (b *fakeBank) GetByIDs(_ context.Context, ids []uuid.UUID) ([]model.Question, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	var out []model.Question
	for _, id := range ids {
		if q, ok := b.questions[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

var errBankDown = errors.New("bank unavailable")

func standardQuestion(topic uuid.UUID) model.Question {
	return model.Question{
		TopicID: topic,
		Type:    model.QuestionTypeStandard,
		Prompt:  "Which nerve innervates the deltoid?",
		Options: []model.Option{
			{Label: "A", Text: "Axillary", Explanation: "C5-C6 via the posterior cord", IsCorrect: true},
			{Label: "B", Text: "Radial"},
			{Label: "C", Text: "Median"},
			{Label: "D", Text: "Ulnar"},
			{Label: "E", Text: "Musculocutaneous"},
			{Label: "F", Text: "Suprascapular"},
		},
	}
}

func matchingQuestion(topic uuid.UUID) model.Question {
	return model.Question{
		TopicID:     topic,
		Type:        model.QuestionTypeMatching,
		Prompt:      "Match each drug to its mechanism.",
		MatchingKey: []int{2, 0, 3, 1},
		LeftItems:   []string{"Aspirin", "Metformin", "Omeprazole", "Warfarin"},
		RightItems:  []string{"AMPK activation", "Vitamin K antagonism", "COX inhibition", "Proton pump inhibition"},
	}
}

type fixture struct {
	clock    *fakeClock
	store    *memStore
	bank     *fakeBank
	sessions *SessionService
	payloads *PayloadService
	topic    uuid.UUID
	user     uuid.UUID
}

func newFixture(t *testing.T, standard, matching int) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	f := &fixture{
		clock: clock,
		store: newMemStore(clock),
		bank:  newFakeBank(),
		topic: uuid.New(),
		user:  uuid.New(),
	}
	for range standard {
		f.bank.add(standardQuestion(f.topic))
	}
	for range matching {
		f.bank.add(matchingQuestion(f.topic))
	}

	smp := sampler.New(f.bank, 0, zerolog.Nop())
	f.sessions = NewSessionService(f.store, f.store, f.store, f.bank, smp, 200, zerolog.Nop())
	f.sessions.now = clock.Now
	f.payloads = NewPayloadService(f.store, f.store, f.store, f.bank, zerolog.Nop())
	f.payloads.now = clock.Now
	return f
}

func (f *fixture) create(t *testing.T, req model.CreateSessionRequest) *model.Session {
	t.Helper()
	if req.TopicIDs == nil {
		req.TopicIDs = []uuid.UUID{f.topic}
	}
	res, err := f.sessions.Create(context.Background(), f.user, nil, &req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess, err := f.store.GetSession(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	return sess
}

// labels returns a correct and an incorrect displayed label of q in sess.
func labels(t *testing.T, sess *model.Session, q model.Question) (correct, wrong string) {
	t.Helper()
	seed := options.QuestionSeed(sess.ID.String(), q.ID.String())
	if q.Type == model.QuestionTypeMatching {
		candidates, _ := options.BuildMatching(seed, q.MatchingKey, q.MatchingSize())
		for _, c := range candidates {
			if c.IsCorrect {
				correct = c.Label
			} else if wrong == "" {
				wrong = c.Label
			}
		}
		return correct, wrong
	}
	for _, o := range options.SelectStandard(q.Options, seed) {
		if o.IsCorrect {
			correct = o.Label
		} else if wrong == "" {
			wrong = o.Label
		}
	}
	if correct == "" || wrong == "" {
		t.Fatalf("question %s lacks a correct or wrong displayed option", q.ID)
	}
	return correct, wrong
}
