package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/imrishuroy/go-checkout-payments/internal/auth"
	"github.com/imrishuroy/go-checkout-payments/internal/metrics"
)

const (
	identityKey  = "identity"
	requestIDKey = "request_id"
)

// TokenParser turns a bearer token into an identity.
type TokenParser interface {
	Parse(token string) (auth.Identity, error)
}

// requestLogger assigns a request id and logs one line per request.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDKey, reqID)
		c.Header("X-Request-Id", reqID)

		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		if who, ok := identityFrom(c); ok {
			ev = ev.Int64("user_id", who.UserID)
		}
		ev.Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// observe records request count and latency per route template.
func observe(rec metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		rec.ObserveHTTP(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// authRequired validates the bearer token and stores the identity on the context.
func authRequired(p TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "missing bearer token"})
			return
		}
		who, err := p.Parse(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid token"})
			return
		}
		c.Set(identityKey, who)
		c.Next()
	}
}

func identityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	who, ok := v.(auth.Identity)
	return who, ok
}

// userLimiter keeps one token bucket per user and forgets idle users.
type userLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	expiresIn time.Duration
	entries   map[int64]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newUserLimiter(rps float64, burst int) *userLimiter {
	return &userLimiter{
		limit:     rate.Limit(rps),
		burst:     burst,
		expiresIn: 3 * time.Minute,
		entries:   map[int64]*limiterEntry{},
		now:       time.Now,
	}
}

func (l *userLimiter) allow(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) > l.expiresIn {
		for id, e := range l.entries {
			if now.Sub(e.lastSeen) > l.expiresIn {
				delete(l.entries, id)
			}
		}
		l.lastSweep = now
	}
	e, ok := l.entries[userID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.entries[userID] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// rateLimited must run after authRequired.
func rateLimited(l *userLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		who, _ := identityFrom(c)
		if !l.allow(who.UserID) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "message": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
