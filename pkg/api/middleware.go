package api

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"votebridge/pkg/security"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "requestID"
	adminSubjectKey = "adminSubject"
)

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// withRequestID tags every request with an id, reusing the caller's
func withRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("HTTP request",
			zap.String("requestID", requestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("clientIP", c.ClientIP()))
	}
}

// recovery converts a handler panic into an error envelope
func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Panic in HTTP handler",
					zap.String("requestID", requestID(c)),
					zap.Any("panic", r),
					zap.Stack("stack"))
				s.fail(c, errPanic)
			}
		}()
		c.Next()
	}
}

// adminGuard requires a valid bearer token when tokens is set
func (s *Server) adminGuard(tokens *security.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			s.fail(c, fmt.Errorf("%w: bearer token required", errUnauthorized))
			return
		}

		claims, err := tokens.Verify(raw)
		if err != nil {
			s.logger.Warn("Rejected admin token",
				zap.String("requestID", requestID(c)),
				zap.Error(err))
			s.fail(c, fmt.Errorf("%w: %v", errUnauthorized, err))
			return
		}

		c.Set(adminSubjectKey, claims.Subject)
		c.Next()
	}
}

// rateLimiter hands out token buckets per key. Idle buckets expire from the
// cache.
type rateLimiter struct {
	limiters *gocache.Cache
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
}

func newRateLimiter(limit float64, burst int) *rateLimiter {
	if limit <= 0 {
		return nil
	}
	return &rateLimiter{
		limiters: gocache.New(10*time.Minute, 5*time.Minute),
		limit:    rate.Limit(limit),
		burst:    burst,
	}
}

// Allow reports whether key may proceed. A nil limiter allows everything.
func (rl *rateLimiter) Allow(key string) bool {
	if rl == nil {
		return true
	}
	return rl.get(key).Allow()
}

func (rl *rateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, found := rl.limiters.Get(key); found {
		rl.limiters.SetDefault(key, limiter)
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters.SetDefault(key, limiter)
	return limiter
}

// limitByIP applies the limiter to the client address
func (s *Server) limitByIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow("ip:" + c.ClientIP()) {
			s.fail(c, errRateLimited)
			return
		}
		c.Next()
	}
}
