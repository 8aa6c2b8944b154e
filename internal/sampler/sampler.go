// Package sampler selects the question identifiers of a new session.
package sampler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/medprep/session-engine/internal/model"
	"github.com/medprep/session-engine/internal/shuffle"
	"github.com/rs/zerolog"
)

// DefaultCandidateLimit bounds the fallback candidate fetch.
const DefaultCandidateLimit = 500

// Source is the part of the question repository the sampler reads from.
type Source interface {
	// SampleIDs asks the store for up to limit random matching questions.
	SampleIDs(ctx context.Context, filter model.QuestionFilter, limit int) ([]uuid.UUID, error)
	// ListIDs returns up to limit matching questions in a stable order.
	ListIDs(ctx context.Context, filter model.QuestionFilter, limit int) ([]uuid.UUID, error)
}

// Sampler draws question sets for new sessions.
type Sampler struct {
	src            Source
	candidateLimit int
	log            zerolog.Logger
}

// New creates a Sampler. candidateLimit <= 0 selects DefaultCandidateLimit.
func New(src Source, candidateLimit int, log zerolog.Logger) *Sampler {
	if candidateLimit <= 0 {
		candidateLimit = DefaultCandidateLimit
	}
	return &Sampler{
		src:            src,
		candidateLimit: candidateLimit,
		log:            log.With().Str("component", "sampler").Logger(),
	}
}

// Sample returns at most limit question ids matching filter. An empty result
// with a nil error means no matching question exists under any tier.
//
// Tiers: store-side random sampling, then a bounded fetch with the full
// scope, then a bounded fetch with the scope relaxed to topics only. Fetched
// candidates are shuffled under seed before truncation.
func (s *Sampler) Sample(ctx context.Context, filter model.QuestionFilter, limit int, seed string) ([]uuid.UUID, error) {
	if limit <= 0 || len(filter.TopicIDs) == 0 {
		return nil, nil
	}

	ids, err := s.src.SampleIDs(ctx, filter, limit)
	if err != nil {
		s.log.Warn().Err(err).Msg("Store-side sampling failed, falling back to candidate fetch")
	}
	if ids = dedupe(ids); len(ids) > 0 {
		return truncate(ids, limit), nil
	}

	ids, err = s.src.ListIDs(ctx, filter, s.candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	if len(ids) == 0 && filter.Scoped() {
		s.log.Debug().Msg("No scoped candidates, relaxing scope filter")
		ids, err = s.src.ListIDs(ctx, filter.Relaxed(), s.candidateLimit)
		if err != nil {
			return nil, fmt.Errorf("list unscoped candidates: %w", err)
		}
	}

	ids = shuffle.Shuffle(dedupe(ids), seed)
	return truncate(ids, limit), nil
}

// FreezeOrder produces the immutable per-session question order.
func FreezeOrder(ids []uuid.UUID, sessionID uuid.UUID) []uuid.UUID {
	return shuffle.Shuffle(ids, sessionID.String())
}

func truncate(ids []uuid.UUID, limit int) []uuid.UUID {
	if len(ids) > limit {
		return ids[:limit]
	}
	return ids
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
