package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/twofactor-service/internal/config"
	"github.com/ignatzorin/twofactor-service/internal/http/handlers"
	"github.com/ignatzorin/twofactor-service/internal/http/middleware"
	"github.com/ignatzorin/twofactor-service/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	twoFactorHandler *handlers.TwoFactorHandler,
	sessionHandler *handlers.SessionHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(tokenManager))

	twofa := api.Group("/2fa")
	twofa.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))
	{
		twofa.POST("/enable", twoFactorHandler.Enable)
		twofa.POST("/confirm", twoFactorHandler.Confirm)
		twofa.POST("/disable", twoFactorHandler.Disable)
		twofa.POST("/send", twoFactorHandler.SendCode)
		twofa.POST("/verify", twoFactorHandler.VerifyCode)
	}

	sessions := api.Group("/sessions")
	{
		sessions.GET("", sessionHandler.List)
		sessions.POST("/validate", sessionHandler.Validate)
		sessions.DELETE("", sessionHandler.RevokeAll)
		sessions.DELETE("/:sessionID", sessionHandler.Revoke)
	}

	return r
}
