package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/medprep/session-engine/internal/config"
	"github.com/medprep/session-engine/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// QuestionStore is the question bank as seen by the engine.
type QuestionStore interface {
	SampleIDs(ctx context.Context, f model.QuestionFilter, limit int) ([]uuid.UUID, error)
	ListIDs(ctx context.Context, f model.QuestionFilter, limit int) ([]uuid.UUID, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Question, error)
}

// CachedQuestionRepository serves question rows from Redis and falls back
// to the underlying store on a miss, re-populating the cache ("self-heal").
// A Redis outage degrades to direct store reads.
type CachedQuestionRepository struct {
	store QuestionStore
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCachedQuestionRepository wraps store with a Redis read-through cache.
func NewCachedQuestionRepository(store QuestionStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedQuestionRepository {
	return &CachedQuestionRepository{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "question_cache").Logger(),
	}
}

// SampleIDs is never cached: every call must draw a fresh sample.
func (c *CachedQuestionRepository) SampleIDs(ctx context.Context, f model.QuestionFilter, limit int) ([]uuid.UUID, error) {
	return c.store.SampleIDs(ctx, f, limit)
}

// ListIDs is passed through to the store.
func (c *CachedQuestionRepository) ListIDs(ctx context.Context, f model.QuestionFilter, limit int) ([]uuid.UUID, error) {
	return c.store.ListIDs(ctx, f, limit)
}

// GetByIDs returns the questions for ids in the given order, skipping ids
// that exist neither in the cache nor in the store.
func (c *CachedQuestionRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = config.CacheKey.QuestionKey(id)
	}

	found := make(map[uuid.UUID]model.Question, len(ids))
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn().Err(err).Msg("Question cache read failed, using store")
		vals = nil
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var q model.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			c.log.Warn().Err(err).Str("question_id", ids[i].String()).Msg("Dropping corrupt cache entry")
			continue
		}
		found[ids[i]] = q
	}

	var missing []uuid.UUID
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		loaded, err := c.store.GetByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, q := range loaded {
			found[q.ID] = q
		}
		c.fill(ctx, loaded)
	}

	out := make([]model.Question, 0, len(found))
	for _, id := range ids {
		if q, ok := found[id]; ok {
			out = append(out, q)
		}
	}

	c.log.Debug().
		Int("requested", len(ids)).
		Int("misses", len(missing)).
		Msg("Questions loaded")
	return out, nil
}

// Invalidate drops cached rows, e.g. after a CMS edit.
func (c *CachedQuestionRepository) Invalidate(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = config.CacheKey.QuestionKey(id)
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *CachedQuestionRepository) fill(ctx context.Context, questions []model.Question) {
	if len(questions) == 0 {
		return
	}
	pipe := c.rdb.Pipeline()
	for _, q := range questions {
		raw, err := json.Marshal(q)
		if err != nil {
			continue
		}
		pipe.Set(ctx, config.CacheKey.QuestionKey(q.ID), raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Int("count", len(questions)).Msg("Question cache fill failed")
	}
}
