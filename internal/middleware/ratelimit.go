package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/medprep/session-engine/internal/config"
	"github.com/medprep/session-engine/internal/response"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RateLimiter is a per-user fixed-window counter in Redis, shared by every
// API replica. It fails open when Redis is unavailable.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int           // Requests per window; <= 0 disables the limiter
	window time.Duration // Window length
	log    zerolog.Logger
}

// NewRateLimiter creates a RateLimiter (e.g., 120 answers per minute).
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		log:    log.With().Str("component", "rate_limiter").Logger(),
	}
}

// Allow counts one request for userID and reports whether it fits the window.
func (rl *RateLimiter) Allow(ctx context.Context, userID uuid.UUID) bool {
	if rl.limit <= 0 {
		return true
	}

	key := config.CacheKey.AnswerRateKey(userID, rl.window, time.Now())
	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.log.Warn().Err(err).Str("user_id", userID.String()).Msg("Rate limit check failed, allowing request")
		return true
	}
	return incr.Val() <= int64(rl.limit)
}

// Middleware returns a Gin middleware that rate-limits requests by user.
// It must run after RequireJWT.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if !rl.Allow(c.Request.Context(), claims.UserID()) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
