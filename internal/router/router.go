package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/medprep/session-engine/internal/config"
	"github.com/medprep/session-engine/internal/handler"
	"github.com/medprep/session-engine/internal/middleware"
	"github.com/medprep/session-engine/internal/response"
	"github.com/medprep/session-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	limiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Session payloads carry every question and option; compress them.
	router.Use(middleware.Brotli())

	// ─── Health (No Auth) ──────────────────────────────────────────────
	health := router.Group("/health")
	{
		health.GET("", handlers.System.Health)
		health.GET("/ready", handlers.System.Ready)
		health.GET("/stats", handlers.System.Stats)
	}

	// ─── 1. Session Group (JWT) ────────────────────────────────────────
	sessions := router.Group("/api/v1/sessions")
	sessions.Use(middleware.RequireJWT(authService), middleware.NoStore())
	{
		sessions.POST("", handlers.Session.CreateSession)
		sessions.GET("/:session_id", handlers.Session.GetSession)
		sessions.POST("/:session_id/answers", limiter.Middleware(), handlers.Session.SubmitAnswer)
		sessions.POST("/:session_id/flags", handlers.Session.ToggleFlag)
		sessions.PUT("/:session_id/notes", handlers.Session.SaveNote)
		sessions.POST("/:session_id/pause", handlers.Session.PauseSession)
		sessions.POST("/:session_id/resume", handlers.Session.ResumeSession)
		sessions.POST("/:session_id/finish", handlers.Session.FinishSession)
		sessions.PUT("/:session_id/progress", handlers.Session.SaveProgress)
	}

	// ─── 2. WebSocket Group (WS Auth) ──────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	return router
}
