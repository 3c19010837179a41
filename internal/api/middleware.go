package api

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"ctf-range/internal/metrics"
	"ctf-range/internal/security"
)

// Identity is the caller's resolved identity for this request.
type Identity struct {
	Username   string
	ExternalID string
	Roles      []string
}

const identityKey = "identity"

// identityFrom extracts the caller identity set by the Identity middleware.
func identityFrom(c *gin.Context) Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}

// IdentityMiddleware resolves who is calling. With a JWT secret configured,
// a bearer token carries username/sub/roles claims (the chat adapter signs
// these). Otherwise trusted headers from the front-end collaborator are
// used.
func IdentityMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var id Identity

		auth := c.GetHeader("Authorization")
		if jwtSecret != "" && strings.HasPrefix(auth, "Bearer ") {
			token, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "),
				func(t *jwt.Token) (interface{}, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(jwtSecret), nil
				})
			if err == nil && token.Valid {
				if claims, ok := token.Claims.(jwt.MapClaims); ok {
					if v, ok := claims["username"].(string); ok {
						id.Username = v
					}
					if v, ok := claims["sub"].(string); ok {
						id.ExternalID = v
					}
					if raw, ok := claims["roles"].([]interface{}); ok {
						for _, r := range raw {
							if s, ok := r.(string); ok {
								id.Roles = append(id.Roles, s)
							}
						}
					}
				}
			}
		}

		if id.Username == "" {
			id.Username = c.GetHeader("X-Username")
			id.ExternalID = c.GetHeader("X-External-ID")
			if roles := c.GetHeader("X-Roles"); roles != "" {
				for _, r := range strings.Split(roles, ",") {
					if r = strings.TrimSpace(r); r != "" {
						id.Roles = append(id.Roles, r)
					}
				}
			}
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireAccess runs the operator-tier gate before mutating handlers.
func RequireAccess(gate *security.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identityFrom(c)
		decision := gate.CheckAccess(id.Username, id.ExternalID, id.Roles)
		if !decision.Allowed {
			metrics.Get().RequestsDeniedTotal.WithLabelValues(decision.Reason).Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   decision.Message,
				"code":    "ACCESS_DENIED",
				"reason":  decision.Reason,
			})
			return
		}
		c.Next()
	}
}

// RequireOfficer runs the officer-tier gate before admin handlers.
func RequireOfficer(gate *security.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identityFrom(c)
		decision := gate.CheckOfficer(id.Username, id.ExternalID, id.Roles)
		if !decision.Allowed {
			metrics.Get().RequestsDeniedTotal.WithLabelValues(decision.Reason).Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   decision.Message,
				"code":    "ACCESS_DENIED",
				"reason":  decision.Reason,
			})
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware enforces the persistent per-user sliding window. A
// warning from the limiter is attached as a response header so the chat
// adapter can relay it.
func RateLimitMiddleware(limiter *security.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identityFrom(c)
		if id.Username == "" {
			c.Next()
			return
		}
		result, err := limiter.Check(id.Username)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Something went wrong. Please try again.",
				"code":    "INTERNAL_ERROR",
			})
			return
		}
		if !result.Allowed {
			metrics.Get().RequestsDeniedTotal.WithLabelValues("rate_limited").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":      false,
				"error":        "Rate limit exceeded. Slow down.",
				"code":         "RATE_LIMITED",
				"wait_seconds": result.WaitSeconds,
			})
			return
		}
		if result.Warning != "" {
			c.Header("X-Rate-Warning", result.Warning)
			c.Set("rate_warning", result.Warning)
		}
		c.Next()
	}
}

// ipLimiter tracks a token-bucket limiter per client IP. This is a coarse
// front-door throttle; the per-user window above is the real policy.
type ipLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

func newIPLimiter(perMinute, burst int) *ipLimiter {
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perMinute) / 60,
		burst:    burst,
	}
}

func (il *ipLimiter) get(ip string) *rate.Limiter {
	il.mu.Lock()
	defer il.mu.Unlock()
	l, ok := il.limiters[ip]
	if !ok {
		l = rate.NewLimiter(il.rate, il.burst)
		il.limiters[ip] = l
	}
	return l
}

// IPRateLimit throttles by client IP before any identity work happens.
func IPRateLimit(perMinute, burst int) gin.HandlerFunc {
	limiter := newIPLimiter(perMinute, burst)
	return func(c *gin.Context) {
		if !limiter.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "Too many requests.",
				"code":    "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

// MetricsMiddleware records request counts and latency.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m := metrics.Get()
		m.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}
