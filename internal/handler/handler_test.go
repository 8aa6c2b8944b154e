package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/medprep/session-engine/internal/middleware"
	"github.com/medprep/session-engine/internal/model"
	"github.com/medprep/session-engine/internal/response"
	"github.com/medprep/session-engine/internal/service"
	"github.com/medprep/session-engine/internal/validator"
	ws "github.com/medprep/session-engine/internal/websocket"
	"github.com/rs/zerolog"
)

const testSecret = "handler-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type fakeEngine struct {
	err       error
	submitRes *service.SubmitResult
	flagged   []uuid.UUID
	note      *model.Note
	finished  *model.Session

	lastUser    uuid.UUID
	lastSession uuid.UUID
	lastSubmit  *model.SubmitAnswerRequest
	lastFinish  *model.FinishSessionRequest
	lastIndex   int
}

func (f *fakeEngine) Create(_ context.Context, userID uuid.UUID, _ *uuid.UUID, req *model.CreateSessionRequest) (*service.CreateResult, error) {
	f.lastUser = userID
	if f.err != nil {
		return nil, f.err
	}
	return &service.CreateResult{SessionID: uuid.New(), QuestionCount: req.QuestionCount, RequestedCount: req.QuestionCount}, nil
}

func (f *fakeEngine) Get(_ context.Context, userID, sessionID uuid.UUID) (*model.Session, error) {
	f.lastUser, f.lastSession = userID, sessionID
	if f.err != nil {
		return nil, f.err
	}
	return &model.Session{ID: sessionID, UserID: userID}, nil
}

func (f *fakeEngine) Submit(_ context.Context, userID, sessionID uuid.UUID, req *model.SubmitAnswerRequest) (*service.SubmitResult, error) {
	f.lastUser, f.lastSession, f.lastSubmit = userID, sessionID, req
	if f.err != nil {
		return nil, f.err
	}
	return f.submitRes, nil
}

func (f *fakeEngine) ToggleFlag(_ context.Context, _, _, _ uuid.UUID) ([]uuid.UUID, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.flagged, nil
}

func (f *fakeEngine) SaveNote(_ context.Context, _, _ uuid.UUID, _ *model.SaveNoteRequest) (*model.Note, error) {
	return f.note, f.err
}

func (f *fakeEngine) Pause(_ context.Context, _, _ uuid.UUID, index int) error {
	f.lastIndex = index
	return f.err
}

func (f *fakeEngine) Resume(_ context.Context, _, _ uuid.UUID) error {
	return f.err
}

func (f *fakeEngine) Finish(_ context.Context, _, _ uuid.UUID, req *model.FinishSessionRequest) (*model.Session, error) {
	f.lastFinish = req
	if f.err != nil {
		return nil, f.err
	}
	return f.finished, nil
}

func (f *fakeEngine) SaveProgress(_ context.Context, _, _ uuid.UUID, index int) error {
	f.lastIndex = index
	return f.err
}

type fakePayloads struct {
	err error
}

func (f *fakePayloads) Get(_ context.Context, _, sessionID uuid.UUID) (*service.SessionPayload, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.SessionPayload{Session: &model.Session{ID: sessionID}}, nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, uuid.UUID) bool { return false }

func newTestRouter(engine SessionEngine, payloads PayloadReader, limiter AnswerLimiter) *gin.Engine {
	auth := service.NewAuthService(testSecret)
	h := NewSessionHandler(engine, payloads, zerolog.Nop())
	wsh := NewWSHandler(engine, limiter, zerolog.Nop(), nil)

	r := gin.New()
	r.Use(response.RequestIDMiddleware())
	api := r.Group("/api/v1/sessions", middleware.RequireJWT(auth))
	api.POST("", h.CreateSession)
	api.GET("/:session_id", h.GetSession)
	api.POST("/:session_id/answers", h.SubmitAnswer)
	api.POST("/:session_id/flags", h.ToggleFlag)
	api.PUT("/:session_id/notes", h.SaveNote)
	api.POST("/:session_id/pause", h.PauseSession)
	api.POST("/:session_id/finish", h.FinishSession)
	api.PUT("/:session_id/progress", h.SaveProgress)
	r.GET("/ws/v1/sessions/:session_id/stream", middleware.RequireWSAuth(auth), wsh.SessionStream)
	return r
}

func token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	tok, err := service.NewAuthService(testSecret).IssueToken(userID, nil, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func do(t *testing.T, r http.Handler, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrCode {
	t.Helper()
	var body response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	if body.Error == nil {
		return ""
	}
	return body.Error.Code
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{service.ErrSessionNotFound, http.StatusNotFound, response.ErrNotFound},
		{service.ErrQuestionNotFound, http.StatusNotFound, response.ErrNotFound},
		{service.ErrQuestionNotInSession, http.StatusNotFound, response.ErrQuestionNotInSession},
		{fmt.Errorf("%w: count", service.ErrInvalidInput), http.StatusBadRequest, response.ErrValidation},
		{service.ErrInvalidOption, http.StatusBadRequest, response.ErrInvalidOption},
		{service.ErrPoolExhausted, http.StatusUnprocessableEntity, response.ErrPoolExhausted},
		{service.ErrSessionFinished, http.StatusConflict, response.ErrSessionFinished},
		{service.ErrPauseNotAllowed, http.StatusConflict, response.ErrPauseNotAllowed},
		{service.ErrAttemptConflict, http.StatusConflict, response.ErrAttemptConflict},
		{errors.New("connection reset"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tt := range tests {
		status, code := errorStatus(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("errorStatus(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestSessionRoutesRequireToken(t *testing.T) {
	r := newTestRouter(&fakeEngine{}, &fakePayloads{}, nil)

	w := do(t, r, http.MethodGet, "/api/v1/sessions/"+uuid.NewString(), "", nil)
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != response.ErrTokenRequired {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/api/v1/sessions/"+uuid.NewString(), "not-a-jwt", nil)
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != response.ErrTokenInvalid {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestGetSessionRejectsMalformedID(t *testing.T) {
	r := newTestRouter(&fakeEngine{}, &fakePayloads{}, nil)
	w := do(t, r, http.MethodGet, "/api/v1/sessions/not-a-uuid", token(t, uuid.New()), nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != response.ErrInvalidID {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r := newTestRouter(&fakeEngine{}, &fakePayloads{err: service.ErrSessionNotFound}, nil)
	w := do(t, r, http.MethodGet, "/api/v1/sessions/"+uuid.NewString(), token(t, uuid.New()), nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != response.ErrNotFound {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestCreateSession(t *testing.T) {
	engine := &fakeEngine{}
	r := newTestRouter(engine, &fakePayloads{}, nil)
	user := uuid.New()

	w := do(t, r, http.MethodPost, "/api/v1/sessions", token(t, user), map[string]any{
		"mode":           "practice",
		"topic_ids":      []uuid.UUID{uuid.New()},
		"question_count": 10,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
	if engine.lastUser != user {
		t.Errorf("engine saw user %s, want %s", engine.lastUser, user)
	}

	w = do(t, r, http.MethodPost, "/api/v1/sessions", token(t, user), map[string]any{
		"mode":           "cram",
		"topic_ids":      []uuid.UUID{uuid.New()},
		"question_count": 10,
	})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != response.ErrValidation {
		t.Fatalf("unknown mode: got %d %s", w.Code, w.Body.String())
	}
}

func TestCreateSessionPoolExhausted(t *testing.T) {
	r := newTestRouter(&fakeEngine{err: service.ErrPoolExhausted}, &fakePayloads{}, nil)
	w := do(t, r, http.MethodPost, "/api/v1/sessions", token(t, uuid.New()), map[string]any{
		"mode":           "review",
		"topic_ids":      []uuid.UUID{uuid.New()},
		"question_count": 3,
	})
	if w.Code != http.StatusUnprocessableEntity || errorCode(t, w) != response.ErrPoolExhausted {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestSubmitAnswerLockedIsSuccess(t *testing.T) {
	engine := &fakeEngine{submitRes: &service.SubmitResult{Locked: true, Attempt: 1, IsCorrect: true}}
	r := newTestRouter(engine, &fakePayloads{}, nil)
	sid := uuid.New()

	w := do(t, r, http.MethodPost, "/api/v1/sessions/"+sid.String()+"/answers", token(t, uuid.New()), map[string]any{
		"question_id":   uuid.New(),
		"option_label":  "B",
		"current_index": 3,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}

	var body struct {
		Data service.SubmitResult `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Data.Locked || body.Data.Attempt != 1 {
		t.Errorf("unexpected result %+v", body.Data)
	}
	if engine.lastSession != sid || engine.lastSubmit.CurrentIndex != 3 {
		t.Errorf("engine saw session %s index %d", engine.lastSession, engine.lastSubmit.CurrentIndex)
	}
}

func TestSubmitAnswerValidation(t *testing.T) {
	r := newTestRouter(&fakeEngine{}, &fakePayloads{}, nil)
	w := do(t, r, http.MethodPost, "/api/v1/sessions/"+uuid.NewString()+"/answers", token(t, uuid.New()), map[string]any{
		"question_id": uuid.New(),
	})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != response.ErrValidation {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestMutationsOnFinishedSession(t *testing.T) {
	r := newTestRouter(&fakeEngine{err: service.ErrSessionFinished}, &fakePayloads{}, nil)
	tok := token(t, uuid.New())
	base := "/api/v1/sessions/" + uuid.NewString()

	cases := []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, base + "/answers", map[string]any{"question_id": uuid.New(), "option_label": "A"}},
		{http.MethodPost, base + "/flags", map[string]any{"question_id": uuid.New()}},
		{http.MethodPut, base + "/notes", map[string]any{"question_id": uuid.New(), "text": "x"}},
		{http.MethodPut, base + "/progress", map[string]any{"current_index": 1}},
		{http.MethodPost, base + "/pause", map[string]any{"current_index": 1}},
	}
	for _, tc := range cases {
		w := do(t, r, tc.method, tc.path, tok, tc.body)
		if w.Code != http.StatusConflict || errorCode(t, w) != response.ErrSessionFinished {
			t.Errorf("%s %s: got %d %s", tc.method, tc.path, w.Code, w.Body.String())
		}
	}
}

func TestFinishWithoutBody(t *testing.T) {
	engine := &fakeEngine{finished: &model.Session{Status: model.SessionStatusFinished}}
	r := newTestRouter(engine, &fakePayloads{}, nil)

	w := do(t, r, http.MethodPost, "/api/v1/sessions/"+uuid.NewString()+"/finish", token(t, uuid.New()), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
	if engine.lastFinish == nil || engine.lastFinish.Reason != "" || engine.lastFinish.CurrentIndex != nil {
		t.Errorf("unexpected finish request %+v", engine.lastFinish)
	}

	w = do(t, r, http.MethodPost, "/api/v1/sessions/"+uuid.NewString()+"/finish", token(t, uuid.New()), map[string]any{"reason": "bored"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad reason: got %d %s", w.Code, w.Body.String())
	}
}

func TestSaveNoteDeleted(t *testing.T) {
	r := newTestRouter(&fakeEngine{}, &fakePayloads{}, nil)
	w := do(t, r, http.MethodPut, "/api/v1/sessions/"+uuid.NewString()+"/notes", token(t, uuid.New()), map[string]any{
		"question_id": uuid.New(),
		"text":        "",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"deleted":true`) {
		t.Errorf("expected deleted=true, got %s", w.Body.String())
	}
}

func TestPauseNotAllowed(t *testing.T) {
	r := newTestRouter(&fakeEngine{err: service.ErrPauseNotAllowed}, &fakePayloads{}, nil)
	w := do(t, r, http.MethodPost, "/api/v1/sessions/"+uuid.NewString()+"/pause", token(t, uuid.New()), map[string]any{"current_index": 0})
	if w.Code != http.StatusConflict || errorCode(t, w) != response.ErrPauseNotAllowed {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	r := newTestRouter(&fakeEngine{}, &fakePayloads{err: errors.New("pq: relation missing")}, nil)
	w := do(t, r, http.MethodGet, "/api/v1/sessions/"+uuid.NewString(), token(t, uuid.New()), nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "relation missing") {
		t.Errorf("internal detail leaked: %s", w.Body.String())
	}
}

func dialStream(t *testing.T, srv *httptest.Server, sessionID uuid.UUID, tok string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/sessions/" + sessionID.String() + "/stream?token=" + tok
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamRejectsForeignSession(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(&fakeEngine{err: service.ErrSessionNotFound}, &fakePayloads{}, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/sessions/" + uuid.NewString() + "/stream?token=" + token(t, uuid.New())
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 response, got %+v", resp)
	}
}

func TestStreamAnswerFlagAndFinish(t *testing.T) {
	qid := uuid.New()
	engine := &fakeEngine{
		submitRes: &service.SubmitResult{Attempt: 1, IsCorrect: true},
		flagged:   []uuid.UUID{qid},
		finished:  &model.Session{Status: model.SessionStatusFinished},
	}
	srv := httptest.NewServer(newTestRouter(engine, &fakePayloads{}, nil))
	defer srv.Close()

	conn := dialStream(t, srv, uuid.New(), token(t, uuid.New()))

	idx := 4
	if err := conn.WriteJSON(ws.Request{Action: ws.ActionAnswer, QuestionID: qid.String(), OptionLabel: "C", CurrentIndex: &idx}); err != nil {
		t.Fatal(err)
	}
	var answered ws.AnsweredResponse
	if err := conn.ReadJSON(&answered); err != nil {
		t.Fatal(err)
	}
	if answered.Event != ws.EventAnswered || answered.QuestionID != qid || !answered.IsCorrect {
		t.Fatalf("unexpected answered event %+v", answered)
	}
	if engine.lastSubmit.CurrentIndex != 4 || engine.lastSubmit.OptionLabel != "C" {
		t.Errorf("engine saw %+v", engine.lastSubmit)
	}

	if err := conn.WriteJSON(ws.Request{Action: ws.ActionFlag, QuestionID: qid.String()}); err != nil {
		t.Fatal(err)
	}
	var flagged ws.FlaggedResponse
	if err := conn.ReadJSON(&flagged); err != nil {
		t.Fatal(err)
	}
	if flagged.Event != ws.EventFlagged || len(flagged.FlaggedQuestionIDs) != 1 {
		t.Fatalf("unexpected flagged event %+v", flagged)
	}

	if err := conn.WriteJSON(ws.Request{Action: ws.ActionFinish, Reason: model.FinishReasonTimeout}); err != nil {
		t.Fatal(err)
	}
	var finished ws.FinishedResponse
	if err := conn.ReadJSON(&finished); err != nil {
		t.Fatal(err)
	}
	if finished.Event != ws.EventFinished || engine.lastFinish.Reason != model.FinishReasonTimeout {
		t.Fatalf("unexpected finished event %+v", finished)
	}

	// The server closes the stream after finishing.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected stream to be closed")
	}
}

func TestStreamErrors(t *testing.T) {
	engine := &fakeEngine{}
	srv := httptest.NewServer(newTestRouter(engine, &fakePayloads{}, denyAll{}))
	defer srv.Close()

	conn := dialStream(t, srv, uuid.New(), token(t, uuid.New()))

	cases := []struct {
		send any
		code response.ErrCode
	}{
		{ws.Request{Action: ws.ActionAnswer, QuestionID: "nope", OptionLabel: "A"}, response.ErrInvalidID},
		{ws.Request{Action: ws.ActionAnswer, QuestionID: uuid.NewString(), OptionLabel: "A"}, response.ErrRateLimitExceeded},
		{ws.Request{Action: ws.ActionProgress}, response.ErrValidation},
		{ws.Request{Action: ws.ActionFinish, Reason: "bored"}, response.ErrValidation},
		{ws.Request{Action: "teleport"}, response.ErrInvalidPayload},
	}
	for _, tc := range cases {
		if err := conn.WriteJSON(tc.send); err != nil {
			t.Fatal(err)
		}
		var got ws.ErrorResponse
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatal(err)
		}
		if got.Event != ws.EventError || got.Code != string(tc.code) {
			t.Errorf("%+v: got %+v, want code %s", tc.send, got, tc.code)
		}
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	var got ws.ErrorResponse
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Code != string(response.ErrInvalidPayload) {
		t.Errorf("invalid JSON: got %+v", got)
	}

	if err := conn.WriteJSON(ws.Request{Action: ws.ActionPing}); err != nil {
		t.Fatal(err)
	}
	var pong ws.PongResponse
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatal(err)
	}
	if pong.Event != ws.EventPong {
		t.Errorf("expected pong, got %+v", pong)
	}
}

func TestStreamServiceErrorsUseCodes(t *testing.T) {
	engine := &fakeEngine{}
	srv := httptest.NewServer(newTestRouter(engine, &fakePayloads{}, nil))
	defer srv.Close()

	conn := dialStream(t, srv, uuid.New(), token(t, uuid.New()))
	engine.err = service.ErrInvalidOption

	if err := conn.WriteJSON(ws.Request{Action: ws.ActionAnswer, QuestionID: uuid.NewString(), OptionLabel: "Q"}); err != nil {
		t.Fatal(err)
	}
	var got ws.ErrorResponse
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Code != string(response.ErrInvalidOption) {
		t.Errorf("got %+v", got)
	}
}

func TestReadiness(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }

	r := gin.New()
	healthy := NewSystemHandler(map[string]Pinger{"postgres": up, "redis": up}, zerolog.Nop())
	degraded := NewSystemHandler(map[string]Pinger{"postgres": up, "redis": down}, zerolog.Nop())
	r.GET("/ok", healthy.Ready)
	r.GET("/degraded", degraded.Ready)
	r.GET("/live", degraded.Health)

	if w := do(t, r, http.MethodGet, "/ok", "", nil); w.Code != http.StatusOK {
		t.Errorf("ready: got %d", w.Code)
	}
	w := do(t, r, http.MethodGet, "/degraded", "", nil)
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), `"redis":"down"`) {
		t.Errorf("degraded: got %d %s", w.Code, w.Body.String())
	}
	if w := do(t, r, http.MethodGet, "/live", "", nil); w.Code != http.StatusOK {
		t.Errorf("liveness must not depend on dependencies: got %d", w.Code)
	}
}
