package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type CacheKeyStruct struct{}

// QuestionKey returns the cache key holding one question bank row.
func (CacheKeyStruct) QuestionKey(questionID uuid.UUID) string {
	return fmt.Sprintf("question:%s", questionID)
}

// AnswerRateKey returns the fixed-window counter key for a user's answer submissions.
func (CacheKeyStruct) AnswerRateKey(userID uuid.UUID, window time.Duration, now time.Time) string {
	secs := int64(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	bucket := now.Unix() / secs
	return fmt.Sprintf("user:%s:answers:rate:%d", userID, bucket)
}

var CacheKey = CacheKeyStruct{}
