// Package api exposes the command surface over HTTP. Every mutating route
// passes Access Gate, Input Sanitizer, and Rate Limiter before touching the
// orchestrator or scoring engine.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ctf-range/internal/cache"
	"ctf-range/internal/challenge"
	"ctf-range/internal/errs"
	"ctf-range/internal/logging"
	"ctf-range/internal/orchestrator"
	"ctf-range/internal/security"
	"ctf-range/internal/stats"
	"ctf-range/internal/store"
)

// Handler bundles the components behind the HTTP surface.
type Handler struct {
	store     *store.Store
	gate      *security.Gate
	sanitizer *security.Sanitizer
	limiter   *security.RateLimiter
	orch      *orchestrator.Orchestrator
	engine    *challenge.Engine
	view      *stats.View
	cache     *cache.Cache
}

// NewHandler wires the handler.
func NewHandler(st *store.Store, gate *security.Gate, sanitizer *security.Sanitizer,
	limiter *security.RateLimiter, orch *orchestrator.Orchestrator,
	engine *challenge.Engine, view *stats.View, c *cache.Cache) *Handler {
	return &Handler{
		store:     st,
		gate:      gate,
		sanitizer: sanitizer,
		limiter:   limiter,
		orch:      orch,
		engine:    engine,
		view:      view,
		cache:     c,
	}
}

const leaderboardCacheKey = "leaderboard:v1"

// statusFor maps taxonomy codes to HTTP statuses.
func statusFor(code errs.Code) int {
	switch code {
	case errs.CodeAccessDenied:
		return http.StatusForbidden
	case errs.CodeInvalidInput:
		return http.StatusBadRequest
	case errs.CodeRateLimited:
		return http.StatusTooManyRequests
	case errs.CodeQuotaExceeded:
		return http.StatusConflict
	case errs.CodeCapacityReached:
		return http.StatusServiceUnavailable
	case errs.CodeLabTypeNotFound, errs.CodeLabNotFound, errs.CodeChallengeNotFound:
		return http.StatusNotFound
	case errs.CodeContainerRuntimeError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the sanitized error envelope. Full detail goes to the log.
func fail(c *gin.Context, err error) {
	code := errs.CodeOf(err)
	logging.L().Error("request failed",
		zap.String("path", c.FullPath()),
		zap.String("code", string(code)),
		zap.Error(err))
	c.JSON(statusFor(code), gin.H{
		"success": false,
		"error":   errs.MessageOf(err),
		"code":    string(code),
	})
}

// ok writes the success envelope, attaching any rate warning.
func ok(c *gin.Context, payload gin.H) {
	payload["success"] = true
	if w, exists := c.Get("rate_warning"); exists {
		payload["warning"] = w
	}
	c.JSON(http.StatusOK, payload)
}

// cleanInput runs the sanitizer and returns the cleaned value.
func (h *Handler) cleanInput(c *gin.Context, raw string) (string, bool) {
	res := h.sanitizer.Sanitize(raw)
	if !res.Valid {
		fail(c, errs.New(errs.CodeInvalidInput, res.Reason))
		return "", false
	}
	return res.Cleaned, true
}

type startRequest struct {
	LabType string `json:"lab_type" binding:"required"`
}

// StartLab handles POST /api/labs/start.
func (h *Handler) StartLab(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.New(errs.CodeInvalidInput, "lab_type is required"))
		return
	}
	labType, valid := h.cleanInput(c, req.LabType)
	if !valid {
		return
	}

	id := identityFrom(c)
	result, err := h.orch.Start(c.Request.Context(), id.Username, labType)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"lab_name":   result.Instance.ContainerName,
		"ip_address": result.Instance.Address,
		"port":       result.Instance.Port,
		"url":        result.URL,
		"expires_at": result.Instance.ExpiresAt,
	})
}

// LabStatus handles GET /api/labs/status.
func (h *Handler) LabStatus(c *gin.Context) {
	id := identityFrom(c)
	views, err := h.orch.Status(id.Username)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"active_labs": views})
}

type stopRequest struct {
	LabType string `json:"lab_type" binding:"required"`
}

// StopLab handles POST /api/labs/stop. Stopping an absent lab is reported,
// not errored, so a double stop stays safe.
func (h *Handler) StopLab(c *gin.Context) {
	var req stopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.New(errs.CodeInvalidInput, "lab_type is required"))
		return
	}
	labType, valid := h.cleanInput(c, req.LabType)
	if !valid {
		return
	}

	id := identityFrom(c)
	stopped, err := h.orch.Stop(c.Request.Context(), id.Username, labType)
	if err != nil {
		fail(c, err)
		return
	}
	if !stopped {
		ok(c, gin.H{
			"stopped": false,
			"message": "You don't have a running " + labType + " lab.",
		})
		return
	}
	ok(c, gin.H{"stopped": true, "message": "Stopped your " + labType + " lab."})
}

// ListLabs handles GET /api/labs (the catalog).
func (h *Handler) ListLabs(c *gin.Context) {
	ok(c, gin.H{"labs": h.orch.Catalog()})
}

// ForceCleanup handles POST /api/admin/cleanup/:user (officer-tier).
func (h *Handler) ForceCleanup(c *gin.Context) {
	target, valid := h.cleanInput(c, c.Param("user"))
	if !valid {
		return
	}
	removed, err := h.orch.ForceCleanup(c.Request.Context(), target)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"removed": removed, "count": len(removed)})
}

// AutoCleanup handles POST /api/internal/auto-cleanup, invoked by cron or
// the in-process ticker. Running it with nothing expired is a no-op.
func (h *Handler) AutoCleanup(c *gin.Context) {
	cleaned, err := h.orch.AutoCleanup(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"cleaned": cleaned, "count": len(cleaned)})
}

// ServerStats handles GET /api/admin/server-stats (officer-tier).
func (h *Handler) ServerStats(c *gin.Context) {
	result, err := h.orch.ServerStats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"stats": result})
}

type verifyRequest struct {
	Username   string `json:"username" binding:"required"`
	ExternalID string `json:"external_id"`
}

// VerifyMember handles POST /api/admin/verify (officer-tier).
func (h *Handler) VerifyMember(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.New(errs.CodeInvalidInput, "username is required"))
		return
	}
	target, valid := h.cleanInput(c, req.Username)
	if !valid {
		return
	}

	id := identityFrom(c)
	if err := h.gate.VerifyMember(target, req.ExternalID, id.Username); err != nil {
		fail(c, errs.Wrap(errs.CodeInternal, "Verification failed.", err))
		return
	}
	ok(c, gin.H{"message": target + " has been verified for labs."})
}

type solveRequest struct {
	ChallengeID string `json:"challenge_id" binding:"required"`
	Flag        string `json:"flag" binding:"required"`
}

// Solve handles POST /api/challenges/solve.
func (h *Handler) Solve(c *gin.Context) {
	var req solveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.New(errs.CodeInvalidInput, "challenge_id and flag are required"))
		return
	}
	challengeID, valid := h.cleanInput(c, req.ChallengeID)
	if !valid {
		return
	}

	id := identityFrom(c)
	result, err := h.engine.Solve(id.Username, challengeID, req.Flag)
	if err != nil {
		fail(c, err)
		return
	}
	if result.Correct {
		h.cache.Invalidate(c.Request.Context(), leaderboardCacheKey)
	}
	ok(c, gin.H{
		"correct":        result.Correct,
		"points_awarded": result.PointsAwarded,
		"total_points":   result.TotalPoints,
		"message":        result.Message,
	})
}

// Categories handles GET /api/challenges/categories.
func (h *Handler) Categories(c *gin.Context) {
	cats := h.engine.Catalog().Categories()
	ok(c, gin.H{"categories": cats, "count": len(cats)})
}

// Challenges handles GET /api/challenges?category=web.
func (h *Handler) Challenges(c *gin.Context) {
	category := c.Query("category")
	if category == "" {
		fail(c, errs.New(errs.CodeInvalidInput, "category query parameter is required"))
		return
	}
	items := h.engine.Catalog().ByCategory(category)
	ok(c, gin.H{"category": category, "challenges": items, "count": len(items)})
}

// GetChallenge handles GET /api/challenges/:id, flag redacted.
func (h *Handler) GetChallenge(c *gin.Context) {
	ch, found := h.engine.Catalog().Get(c.Param("id"))
	if !found {
		fail(c, errs.Newf(errs.CodeChallengeNotFound, "Challenge not found: %s", c.Param("id")))
		return
	}
	ok(c, gin.H{"challenge": ch.Redacted()})
}

// Leaderboard handles GET /api/leaderboard?limit=10.
func (h *Handler) Leaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit <= 0 {
		limit = 10
	}

	var board []stats.LeaderboardEntry
	if h.cache.GetJSON(c.Request.Context(), leaderboardCacheKey, &board) && len(board) >= limit {
		ok(c, gin.H{"leaderboard": board[:limit]})
		return
	}

	board, err := h.view.Leaderboard(limit)
	if err != nil {
		fail(c, err)
		return
	}
	h.cache.SetJSON(c.Request.Context(), leaderboardCacheKey, board)
	ok(c, gin.H{"leaderboard": board})
}

// UserStats handles GET /api/stats/:user.
func (h *Handler) UserStats(c *gin.Context) {
	username, valid := h.cleanInput(c, c.Param("user"))
	if !valid {
		return
	}
	result, err := h.view.User(username)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"stats": result})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	if err := h.store.Health(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
