// Package options computes the choices displayed for a question inside a
// session. Nothing here is stored: the displayed set is a pure function of
// the session id, the question id and the question's bank data, and is
// recomputed every time it is needed.
package options

import (
	"github.com/medprep/session-engine/internal/model"
	"github.com/medprep/session-engine/internal/shuffle"
)

// DisplayCount is the number of choices shown per question.
const DisplayCount = 5

const incorrectCount = DisplayCount - 1

// QuestionSeed is the seed shared by every presentation decision about one
// question inside one session.
func QuestionSeed(sessionID, questionID string) string {
	return shuffle.Seed(sessionID, questionID)
}

// SelectStandard picks one correct and up to four incorrect options from
// pool and returns them in a seed-determined order.
//
// When the pool has fewer than four incorrect options the displayed set is
// smaller; a second correct option is never used as filler. When the pool
// has no correct option at all, up to five incorrect options are returned and
// none is flagged correct.
func SelectStandard(pool []model.Option, seed string) []model.Option {
	if len(pool) == 0 {
		return nil
	}

	all := shuffle.Shuffle(pool, seed+"-all")

	var correct, incorrect []model.Option
	for _, o := range all {
		if o.IsCorrect {
			correct = append(correct, o)
		} else {
			incorrect = append(incorrect, o)
		}
	}
	correct = shuffle.Shuffle(correct, seed+"-c")
	incorrect = shuffle.Shuffle(incorrect, seed+"-i")

	chosen := make([]model.Option, 0, DisplayCount)
	if len(correct) > 0 {
		chosen = append(chosen, correct[0])
		chosen = append(chosen, incorrect[:min(incorrectCount, len(incorrect))]...)
	} else {
		chosen = append(chosen, incorrect[:min(DisplayCount, len(incorrect))]...)
	}

	return shuffle.Shuffle(chosen, seed+"-final")
}

// FindOption returns the displayed option carrying label.
func FindOption(displayed []model.Option, label string) (model.Option, bool) {
	for _, o := range displayed {
		if o.Label == label {
			return o, true
		}
	}
	return model.Option{}, false
}

// HasCorrect reports whether any displayed option is flagged correct.
func HasCorrect(displayed []model.Option) bool {
	for _, o := range displayed {
		if o.IsCorrect {
			return true
		}
	}
	return false
}
