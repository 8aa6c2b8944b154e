package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/medprep/session-engine/internal/middleware"
	"github.com/medprep/session-engine/internal/model"
	"github.com/medprep/session-engine/internal/response"
	"github.com/medprep/session-engine/internal/service"
	"github.com/medprep/session-engine/internal/validator"
	"github.com/rs/zerolog"
)

// SessionEngine is the session lifecycle as used by the API layer.
type SessionEngine interface {
	Create(ctx context.Context, userID uuid.UUID, universityID *uuid.UUID, req *model.CreateSessionRequest) (*service.CreateResult, error)
	Get(ctx context.Context, userID, sessionID uuid.UUID) (*model.Session, error)
	Submit(ctx context.Context, userID, sessionID uuid.UUID, req *model.SubmitAnswerRequest) (*service.SubmitResult, error)
	ToggleFlag(ctx context.Context, userID, sessionID, questionID uuid.UUID) ([]uuid.UUID, error)
	SaveNote(ctx context.Context, userID, sessionID uuid.UUID, req *model.SaveNoteRequest) (*model.Note, error)
	Pause(ctx context.Context, userID, sessionID uuid.UUID, index int) error
	Resume(ctx context.Context, userID, sessionID uuid.UUID) error
	Finish(ctx context.Context, userID, sessionID uuid.UUID, req *model.FinishSessionRequest) (*model.Session, error)
	SaveProgress(ctx context.Context, userID, sessionID uuid.UUID, index int) error
}

// PayloadReader assembles session payloads.
type PayloadReader interface {
	Get(ctx context.Context, userID, sessionID uuid.UUID) (*service.SessionPayload, error)
}

// SessionHandler handles study session endpoints.
type SessionHandler struct {
	sessions SessionEngine
	payloads PayloadReader
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions SessionEngine, payloads PayloadReader, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		payloads: payloads,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// CreateSession godoc
// POST /api/v1/sessions
// Samples a question set and starts a session.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.sessions.Create(c.Request.Context(), claims.UserID(), claims.UniversityID, &req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, res)
}

// GetSession godoc
// GET /api/v1/sessions/:session_id
// Returns the session with its questions, displayed options, answers and notes.
func (h *SessionHandler) GetSession(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}

	payload, err := h.payloads.Get(c.Request.Context(), userID, sessionID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, payload)
}

// SubmitAnswer godoc
// POST /api/v1/sessions/:session_id/answers
// Grades and records one answer. A locked result is a success.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.sessions.Submit(c.Request.Context(), userID, sessionID, &req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// ToggleFlag godoc
// POST /api/v1/sessions/:session_id/flags
// Flips the flag of one question.
func (h *SessionHandler) ToggleFlag(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.QuestionRefRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	flagged, err := h.sessions.ToggleFlag(c.Request.Context(), userID, sessionID, req.QuestionID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"flagged_question_ids": flagged})
}

// SaveNote godoc
// PUT /api/v1/sessions/:session_id/notes
// Upserts the note of one question; empty text deletes it.
func (h *SessionHandler) SaveNote(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.SaveNoteRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	note, err := h.sessions.SaveNote(c.Request.Context(), userID, sessionID, &req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"note": note, "deleted": note == nil})
}

// PauseSession godoc
// POST /api/v1/sessions/:session_id/pause
func (h *SessionHandler) PauseSession(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.PositionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessions.Pause(c.Request.Context(), userID, sessionID, req.CurrentIndex); err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"ok": true})
}

// ResumeSession godoc
// POST /api/v1/sessions/:session_id/resume
func (h *SessionHandler) ResumeSession(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}

	if err := h.sessions.Resume(c.Request.Context(), userID, sessionID); err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"ok": true})
}

// FinishSession godoc
// POST /api/v1/sessions/:session_id/finish
// Finishes the session; repeated calls return the finished session.
func (h *SessionHandler) FinishSession(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.FinishSessionRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	sess, err := h.sessions.Finish(c.Request.Context(), userID, sessionID, &req)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"ok": true, "session": sess})
}

// SaveProgress godoc
// PUT /api/v1/sessions/:session_id/progress
// Checkpoints the position for exit-without-finishing flows.
func (h *SessionHandler) SaveProgress(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.PositionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessions.SaveProgress(c.Request.Context(), userID, sessionID, req.CurrentIndex); err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"ok": true})
}

// target resolves the caller and the :session_id parameter, writing the
// failure response itself.
func (h *SessionHandler) target(c *gin.Context) (userID, sessionID uuid.UUID, ok bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return uuid.Nil, uuid.Nil, false
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, uuid.Nil, false
	}

	return claims.UserID(), sessionID, true
}
