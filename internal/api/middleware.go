package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"agentdesk/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// requestID propagates or generates a request id and stores it on the request context.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.From(c.Request.Context(), base).DebugContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
		c.Next()
	}
}

// instanceLimiter keeps one token bucket per gateway instance.
type instanceLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newInstanceLimiter(limit rate.Limit, burst int) *instanceLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &instanceLimiter{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *instanceLimiter) Enabled() bool {
	return l != nil && l.limit > 0
}

func (l *instanceLimiter) Allow(instance string) bool {
	if !l.Enabled() {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[instance]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[instance] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func recoverJSON(c *gin.Context, recovered any) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprint(recovered)})
}
