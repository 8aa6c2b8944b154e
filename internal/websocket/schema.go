package websocket

import (
	"github.com/google/uuid"
	"github.com/medprep/session-engine/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionFlag     Action = "flag"
	ActionNote     Action = "note"
	ActionProgress Action = "progress"
	ActionFinish   Action = "finish"
	ActionPing     Action = "ping"
)

// Request is one client message. Fields beyond Action depend on the action.
type Request struct {
	Action       Action             `json:"action"`
	QuestionID   string             `json:"question_id,omitempty"`
	OptionLabel  string             `json:"option_label,omitempty"`
	Text         string             `json:"text,omitempty"`
	CurrentIndex *int               `json:"current_index,omitempty"`
	Reason       model.FinishReason `json:"reason,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError         Event = "error"
	EventAnswered      Event = "answered"
	EventFlagged       Event = "flagged"
	EventNoteSaved     Event = "note_saved"
	EventProgressSaved Event = "progress_saved"
	EventFinished      Event = "finished"
	EventPong          Event = "pong"
)

type AnsweredResponse struct {
	Event      Event     `json:"event"`
	QuestionID uuid.UUID `json:"question_id"`
	Locked     bool      `json:"locked"`
	Attempt    int       `json:"attempt"`
	IsCorrect  bool      `json:"is_correct"`
}

type FlaggedResponse struct {
	Event              Event       `json:"event"`
	FlaggedQuestionIDs []uuid.UUID `json:"flagged_question_ids"`
}

type NoteSavedResponse struct {
	Event      Event       `json:"event"`
	QuestionID uuid.UUID   `json:"question_id"`
	Note       *model.Note `json:"note"`
	Deleted    bool        `json:"deleted"`
}

type ProgressSavedResponse struct {
	Event        Event `json:"event"`
	CurrentIndex int   `json:"current_index"`
}

type FinishedResponse struct {
	Event   Event          `json:"event"`
	Session *model.Session `json:"session"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
