package service

import "errors"

// Engine error kinds. Callers detect them with errors.Is.
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrQuestionNotFound     = errors.New("question not found")
	ErrQuestionNotInSession = errors.New("question is not part of the session")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidOption        = errors.New("option label is not displayed for this question")
	ErrPoolExhausted        = errors.New("not enough matching questions")
	ErrSessionFinished      = errors.New("session already finished")
	ErrPauseNotAllowed      = errors.New("only practice sessions can be paused")
	ErrAttemptConflict      = errors.New("concurrent answer for the same attempt")
)
