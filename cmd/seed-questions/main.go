package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/medprep/session-engine/internal/config"
	"github.com/medprep/session-engine/internal/database"
	"github.com/medprep/session-engine/internal/logger"
	"github.com/medprep/session-engine/internal/model"
	"github.com/medprep/session-engine/internal/repository"
	"github.com/rs/zerolog"
)

// seed-questions loads a JSON array of questions into the question bank.
// With -invalidate it instead drops the cached rows of edited questions.
func main() {
	var file, invalidate string
	flag.StringVar(&file, "file", "questions.json", "JSON file with an array of questions")
	flag.StringVar(&invalidate, "invalidate", "", "Comma-separated question ids to evict from the cache")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if invalidate != "" {
		evict(ctx, cfg, log, invalidate)
		return
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("Failed to read seed file")
	}

	var questions []model.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("Failed to parse seed file")
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	questionRepo := repository.NewQuestionRepository(pool)

	fmt.Printf("=== Seeding %d questions ===\n", len(questions))

	successCount := 0
	for i := range questions {
		q := &questions[i]
		if q.Type == "" {
			q.Type = model.QuestionTypeStandard
		}
		if err := questionRepo.Create(ctx, q); err != nil {
			fmt.Printf("Error creating question %d (%q): %v\n", i+1, q.Prompt, err)
			continue
		}
		successCount++
		if successCount%50 == 0 {
			fmt.Printf("Created %d questions...\n", successCount)
		}
	}

	fmt.Printf("\nSeed completed! Successfully added %d/%d questions.\n", successCount, len(questions))
}

func evict(ctx context.Context, cfg *config.Config, log zerolog.Logger, raw string) {
	var ids []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			log.Fatal().Err(err).Str("id", part).Msg("Invalid question id")
		}
		ids = append(ids, id)
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	cache := repository.NewCachedQuestionRepository(repository.NewQuestionRepository(pool), rdb, cfg.QuestionCacheTTL, log)
	if err := cache.Invalidate(ctx, ids...); err != nil {
		log.Fatal().Err(err).Msg("Cache eviction failed")
	}
	fmt.Printf("Evicted %d cached questions.\n", len(ids))
}
