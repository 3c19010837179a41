package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ctf-range/internal/security"
)

// Router builds the gin engine with the full middleware chain. Mutating
// routes run Access Gate then the per-user Rate Limiter; officer routes
// swap in the officer gate. Sanitization happens in the handlers on each
// user-supplied string.
func Router(h *Handler, gate *security.Gate, limiter *security.RateLimiter, jwtSecret string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(MetricsMiddleware())
	r.Use(IPRateLimit(300, 30))
	r.Use(IdentityMiddleware(jwtSecret))

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// Public read surface.
	api.GET("/labs", h.ListLabs)
	api.GET("/challenges/categories", h.Categories)
	api.GET("/challenges", h.Challenges)
	api.GET("/challenges/:id", h.GetChallenge)
	api.GET("/leaderboard", h.Leaderboard)
	api.GET("/stats/:user", h.UserStats)

	// Operator-tier: gate, then per-user sliding window.
	user := api.Group("")
	user.Use(RequireAccess(gate), RateLimitMiddleware(limiter))
	user.POST("/labs/start", h.StartLab)
	user.GET("/labs/status", h.LabStatus)
	user.POST("/labs/stop", h.StopLab)
	user.POST("/challenges/solve", h.Solve)

	// Officer-tier.
	admin := api.Group("/admin")
	admin.Use(RequireOfficer(gate), RateLimitMiddleware(limiter))
	admin.POST("/cleanup/:user", h.ForceCleanup)
	admin.GET("/server-stats", h.ServerStats)
	admin.POST("/verify", h.VerifyMember)

	// Internal surface for the cleanup cron; not user-facing.
	api.POST("/internal/auto-cleanup", h.AutoCleanup)

	return r
}
