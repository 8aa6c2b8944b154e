package service

import (
	"github.com/google/uuid"
	"github.com/medprep/session-engine/internal/model"
)

// AuthoritativeAnswer picks the attempt that counts for scoring.
//
// practice and review score the first attempt; simulated-exam scores the
// latest one. Returns nil when attempts is empty.
func AuthoritativeAnswer(mode model.SessionMode, attempts []model.Answer) *model.Answer {
	if len(attempts) == 0 {
		return nil
	}
	pick := 0
	for i := range attempts {
		switch mode {
		case model.ModeSimulatedExam:
			if attempts[i].Attempt > attempts[pick].Attempt {
				pick = i
			}
		default:
			if attempts[i].Attempt < attempts[pick].Attempt {
				pick = i
			}
		}
	}
	a := attempts[pick]
	return &a
}

// Summary is the session-level score.
type Summary struct {
	Answered int `json:"answered"`
	Correct  int `json:"correct"`
	Total    int `json:"total"`
}

// Summarize scores every question of the frozen order through AuthoritativeAnswer.
func Summarize(mode model.SessionMode, questionIDs []uuid.UUID, attempts map[uuid.UUID][]model.Answer) Summary {
	sum := Summary{Total: len(questionIDs)}
	for _, qid := range questionIDs {
		a := AuthoritativeAnswer(mode, attempts[qid])
		if a == nil {
			continue
		}
		sum.Answered++
		if a.IsCorrect {
			sum.Correct++
		}
	}
	return sum
}

// revealed reports whether correctness and explanations of a question may be shown.
func revealed(mode model.SessionMode, status model.SessionStatus, answered bool) bool {
	if status == model.SessionStatusFinished {
		return true
	}
	switch mode {
	case model.ModePractice, model.ModeReview:
		return answered
	}
	return false
}
