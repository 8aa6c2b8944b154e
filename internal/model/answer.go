package model

import (
	"time"

	"github.com/google/uuid"
)

// Answer is one submission for one question within one session.
type Answer struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	QuestionID  uuid.UUID `json:"question_id"`
	OptionLabel string    `json:"option_label"`
	IsCorrect   bool      `json:"is_correct"`
	Attempt     int       `json:"attempt"`
	CreatedAt   time.Time `json:"created_at"`
}

// Note is the single free-text annotation of a (session, question) pair.
type Note struct {
	SessionID  uuid.UUID `json:"session_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Text       string    `json:"text"`
	UpdatedAt  time.Time `json:"updated_at"`
}
