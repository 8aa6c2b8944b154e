package model

import (
	"github.com/google/uuid"
)

// QuestionType distinguishes the two answer formats of the question bank.
type QuestionType string

const (
	QuestionTypeStandard QuestionType = "standard"
	QuestionTypeMatching QuestionType = "matching"
)

// DefaultMatchingSize is the number of left/right pairs of a matching question
// when the bank row does not say otherwise.
const DefaultMatchingSize = 4

// Question is a read-only question bank row with its full option pool.
type Question struct {
	ID           uuid.UUID    `json:"id"`
	TopicID      uuid.UUID    `json:"topic_id"`
	CourseID     *uuid.UUID   `json:"course_id,omitempty"`
	UniversityID *uuid.UUID   `json:"university_id,omitempty"`
	Type         QuestionType `json:"type"`
	Prompt       string       `json:"prompt"`
	Options      []Option     `json:"options,omitempty"`

	// Matching questions only. MatchingKey[i] is the index of the right item
	// paired with left item i. It is stored as entered in the CMS and may be
	// malformed; the option builder normalises it.
	MatchingKey []int    `json:"matching_key,omitempty"`
	LeftItems   []string `json:"left_items,omitempty"`
	RightItems  []string `json:"right_items,omitempty"`
}

// MatchingSize returns the permutation size of a matching question.
func (q *Question) MatchingSize() int {
	if n := len(q.LeftItems); n > 0 {
		return n
	}
	return DefaultMatchingSize
}

// Option is one entry of a standard question's option pool.
type Option struct {
	Label       string `json:"label"`
	Text        string `json:"text"`
	Explanation string `json:"explanation,omitempty"`
	IsCorrect   bool   `json:"is_correct"`
}

// MatchingCandidate is one of the five permutations shown for a matching question.
type MatchingCandidate struct {
	Label       string `json:"label"`
	Text        string `json:"text"`
	Permutation []int  `json:"permutation"`
	IsCorrect   bool   `json:"is_correct"`
}

// QuestionFilter scopes sampling to a topic set inside a course/university.
type QuestionFilter struct {
	TopicIDs     []uuid.UUID
	CourseID     *uuid.UUID
	UniversityID *uuid.UUID
}

// Relaxed drops the course/university scope, keeping only the topic set.
func (f QuestionFilter) Relaxed() QuestionFilter {
	return QuestionFilter{TopicIDs: f.TopicIDs}
}

// Scoped reports whether the filter carries any scope beyond topics.
func (f QuestionFilter) Scoped() bool {
	return f.CourseID != nil || f.UniversityID != nil
}
