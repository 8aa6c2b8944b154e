package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionMode selects locking and grading rules.
type SessionMode string

const (
	ModePractice      SessionMode = "practice"
	ModeSimulatedExam SessionMode = "simulated-exam"
	ModeReview        SessionMode = "review"
)

// Valid reports whether m is a known mode.
func (m SessionMode) Valid() bool {
	switch m {
	case ModePractice, ModeSimulatedExam, ModeReview:
		return true
	}
	return false
}

// SessionStatus enumerates study session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusPaused     SessionStatus = "paused"
	SessionStatusFinished   SessionStatus = "finished"
)

// FinishReason records what triggered a finish.
type FinishReason string

const (
	FinishReasonUser    FinishReason = "user"
	FinishReasonTimeout FinishReason = "timeout"
	FinishReasonExit    FinishReason = "exit"
)

// Session is one attempt at a frozen question set.
type Session struct {
	ID               uuid.UUID     `json:"id"`
	UserID           uuid.UUID     `json:"user_id"`
	Mode             SessionMode   `json:"mode"`
	CourseID         *uuid.UUID    `json:"course_id,omitempty"`
	TopicIDs         []uuid.UUID   `json:"topic_ids"`
	QuestionIDs      []uuid.UUID   `json:"question_ids"`
	RequestedCount   int           `json:"requested_count"`
	Timed            bool          `json:"timed"`
	TimeLimitMinutes *int          `json:"time_limit_minutes,omitempty"`
	CurrentIndex     int           `json:"current_index"`
	FlaggedIDs       []uuid.UUID   `json:"flagged_question_ids"`
	Status           SessionStatus `json:"status"`
	PausedSeconds    int           `json:"paused_seconds"`
	CreatedAt        time.Time     `json:"created_at"`
	PausedAt         *time.Time    `json:"paused_at,omitempty"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
}

// Contains reports whether questionID is part of the frozen question order.
func (s *Session) Contains(questionID uuid.UUID) bool {
	for _, id := range s.QuestionIDs {
		if id == questionID {
			return true
		}
	}
	return false
}

// RemainingSeconds returns the countdown left at now, or nil for untimed
// sessions. Paused spans, including an ongoing pause, do not count.
func (s *Session) RemainingSeconds(now time.Time) *int {
	if !s.Timed || s.TimeLimitMinutes == nil {
		return nil
	}
	end := now
	if s.FinishedAt != nil {
		end = *s.FinishedAt
	}
	if s.PausedAt != nil && s.Status == SessionStatusPaused {
		end = *s.PausedAt
	}
	elapsed := int(end.Sub(s.CreatedAt).Seconds()) - s.PausedSeconds
	remaining := *s.TimeLimitMinutes*60 - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// CreateSessionRequest is the payload for starting a study session.
type CreateSessionRequest struct {
	Mode             SessionMode `json:"mode" binding:"required,session_mode"`
	CourseID         *uuid.UUID  `json:"course_id" binding:"omitempty"`
	TopicIDs         []uuid.UUID `json:"topic_ids" binding:"required,min=1,max=50"`
	QuestionCount    int         `json:"question_count" binding:"required,min=1,max=500"`
	Timed            bool        `json:"timed"`
	TimeLimitMinutes *int        `json:"time_limit_minutes" binding:"omitempty,min=1,max=600"`
	RequireFull      bool        `json:"require_full"`
}

// SubmitAnswerRequest is the payload for answering one question.
type SubmitAnswerRequest struct {
	QuestionID   uuid.UUID `json:"question_id" binding:"required"`
	OptionLabel  string    `json:"option_label" binding:"required,max=16"`
	CurrentIndex int       `json:"current_index" binding:"min=0"`
}

// QuestionRefRequest identifies one question of a session.
type QuestionRefRequest struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
}

// SaveNoteRequest upserts a note; empty text deletes it.
type SaveNoteRequest struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	Text       string    `json:"text" binding:"max=5000"`
}

// PositionRequest carries the position for pause/progress checkpoints.
type PositionRequest struct {
	CurrentIndex int `json:"current_index" binding:"min=0"`
}

// FinishSessionRequest carries the final position and the finish trigger.
type FinishSessionRequest struct {
	CurrentIndex *int         `json:"current_index" binding:"omitempty,min=0"`
	Reason       FinishReason `json:"reason" binding:"omitempty,oneof=user timeout exit"`
}
