package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/medprep/session-engine/internal/middleware"
	"github.com/medprep/session-engine/internal/model"
	"github.com/medprep/session-engine/internal/response"
	ws "github.com/medprep/session-engine/internal/websocket"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// AnswerLimiter throttles answer submissions per user.
type AnswerLimiter interface {
	Allow(ctx context.Context, userID uuid.UUID) bool
}

// WSHandler serves the session stream: the session operations over one socket.
type WSHandler struct {
	sessions SessionEngine
	limiter  AnswerLimiter
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions SessionEngine, limiter AnswerLimiter, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		limiter:  limiter,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:session_id/stream
// Upgrades to WebSocket for low-latency answering of an owned session.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	userID := claims.UserID()

	// Ownership is checked before the upgrade so foreign ids get a plain 404.
	if _, err := h.sessions.Get(c.Request.Context(), userID, sessionID); err != nil {
		failFromError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("user_id", userID.String()).
		Str("session_id", sessionID.String()).
		Logger()

	wsLog.Info().Msg("Session stream connected")

	ctx := c.Request.Context()

	for {
		msg, ok, err := ws.ReadRequest(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		if !ok {
			ws.WriteError(conn, string(response.ErrInvalidPayload), "message is not valid JSON")
			continue
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(ctx, conn, userID, sessionID, &msg)
		case ws.ActionFlag:
			h.handleFlag(ctx, conn, userID, sessionID, &msg)
		case ws.ActionNote:
			h.handleNote(ctx, conn, userID, sessionID, &msg)
		case ws.ActionProgress:
			h.handleProgress(ctx, conn, userID, sessionID, &msg)
		case ws.ActionFinish:
			if h.handleFinish(ctx, conn, wsLog, userID, sessionID, &msg) {
				return
			}
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAnswer(ctx context.Context, conn *websocket.Conn, userID, sessionID uuid.UUID, msg *ws.Request) {
	qid, ok := parseQuestionID(conn, msg)
	if !ok {
		return
	}
	if msg.OptionLabel == "" {
		ws.WriteError(conn, string(response.ErrValidation), "option_label is required")
		return
	}
	if h.limiter != nil && !h.limiter.Allow(ctx, userID) {
		ws.WriteError(conn, string(response.ErrRateLimitExceeded), response.GetMessage(response.ErrRateLimitExceeded))
		return
	}

	req := model.SubmitAnswerRequest{QuestionID: qid, OptionLabel: msg.OptionLabel}
	if msg.CurrentIndex != nil {
		req.CurrentIndex = *msg.CurrentIndex
	}
	res, err := h.sessions.Submit(ctx, userID, sessionID, &req)
	if err != nil {
		h.writeServiceError(conn, err)
		return
	}

	ws.WriteTyped(conn, ws.AnsweredResponse{
		Event:      ws.EventAnswered,
		QuestionID: qid,
		Locked:     res.Locked,
		Attempt:    res.Attempt,
		IsCorrect:  res.IsCorrect,
	})
}

func (h *WSHandler) handleFlag(ctx context.Context, conn *websocket.Conn, userID, sessionID uuid.UUID, msg *ws.Request) {
	qid, ok := parseQuestionID(conn, msg)
	if !ok {
		return
	}
	flagged, err := h.sessions.ToggleFlag(ctx, userID, sessionID, qid)
	if err != nil {
		h.writeServiceError(conn, err)
		return
	}
	ws.WriteTyped(conn, ws.FlaggedResponse{Event: ws.EventFlagged, FlaggedQuestionIDs: flagged})
}

func (h *WSHandler) handleNote(ctx context.Context, conn *websocket.Conn, userID, sessionID uuid.UUID, msg *ws.Request) {
	qid, ok := parseQuestionID(conn, msg)
	if !ok {
		return
	}
	note, err := h.sessions.SaveNote(ctx, userID, sessionID, &model.SaveNoteRequest{QuestionID: qid, Text: msg.Text})
	if err != nil {
		h.writeServiceError(conn, err)
		return
	}
	ws.WriteTyped(conn, ws.NoteSavedResponse{
		Event:      ws.EventNoteSaved,
		QuestionID: qid,
		Note:       note,
		Deleted:    note == nil,
	})
}

func (h *WSHandler) handleProgress(ctx context.Context, conn *websocket.Conn, userID, sessionID uuid.UUID, msg *ws.Request) {
	if msg.CurrentIndex == nil {
		ws.WriteError(conn, string(response.ErrValidation), "current_index is required")
		return
	}
	if err := h.sessions.SaveProgress(ctx, userID, sessionID, *msg.CurrentIndex); err != nil {
		h.writeServiceError(conn, err)
		return
	}
	ws.WriteTyped(conn, ws.ProgressSavedResponse{Event: ws.EventProgressSaved, CurrentIndex: *msg.CurrentIndex})
}

// handleFinish reports whether the stream should close.
func (h *WSHandler) handleFinish(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, userID, sessionID uuid.UUID, msg *ws.Request) bool {
	switch msg.Reason {
	case "", model.FinishReasonUser, model.FinishReasonTimeout, model.FinishReasonExit:
	default:
		ws.WriteError(conn, string(response.ErrValidation), "reason must be one of user, timeout, exit")
		return false
	}

	sess, err := h.sessions.Finish(ctx, userID, sessionID, &model.FinishSessionRequest{
		CurrentIndex: msg.CurrentIndex,
		Reason:       msg.Reason,
	})
	if err != nil {
		h.writeServiceError(conn, err)
		return false
	}

	ws.WriteTyped(conn, ws.FinishedResponse{Event: ws.EventFinished, Session: sess})
	wsLog.Info().Msg("Session finished over stream")
	return true
}

func (h *WSHandler) writeServiceError(conn *websocket.Conn, err error) {
	_, code := errorStatus(err)
	msg := response.GetMessage(code)
	if code == response.ErrInternal {
		h.log.Error().Err(err).Msg("Stream action failed")
	}
	ws.WriteError(conn, string(code), msg)
}

// parseQuestionID validates the question id before it reaches the store.
func parseQuestionID(conn *websocket.Conn, msg *ws.Request) (uuid.UUID, bool) {
	qid, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		ws.WriteError(conn, string(response.ErrInvalidID), "invalid question_id format")
		return uuid.Nil, false
	}
	return qid, true
}
