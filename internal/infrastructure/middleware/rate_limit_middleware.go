package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"pairlink/internal/core/ports"
	"pairlink/pkg/config"
	"pairlink/pkg/utils"

	"github.com/gin-gonic/gin"
)

// fixedWindowStore counts requests per key within the current minute window.
// The window boundary is wall-clock aligned so retry-after is the time left
// in the window, not a token refill estimate.
type fixedWindowStore struct {
	mu     sync.Mutex
	limit  int
	counts map[string]*windowCount
}

type windowCount struct {
	windowStart time.Time
	n           int
}

func newFixedWindowStore(requestsPerMinute int) *fixedWindowStore {
	return &fixedWindowStore{
		limit:  requestsPerMinute,
		counts: make(map[string]*windowCount),
	}
}

// allow reports whether the key may proceed and, when it may not, how many
// seconds remain until the window resets.
func (s *fixedWindowStore) allow(key string) (bool, int) {
	now := utils.Now()
	windowStart := now.Truncate(time.Minute)

	s.mu.Lock()
	defer s.mu.Unlock()

	wc, ok := s.counts[key]
	if !ok || wc.windowStart.Before(windowStart) {
		wc = &windowCount{windowStart: windowStart}
		s.counts[key] = wc
	}

	if wc.n >= s.limit {
		retryAfter := int(windowStart.Add(time.Minute).Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	wc.n++
	return true, 0
}

// sweep drops counters from past windows. Called opportunistically on each
// rejection so the map does not grow with one-shot clients.
func (s *fixedWindowStore) sweep() {
	windowStart := utils.Now().Truncate(time.Minute)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, wc := range s.counts {
		if wc.windowStart.Before(windowStart) {
			delete(s.counts, key)
		}
	}
}

// clientIP extracts the IP part from the request's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware returns Gin middleware applying per-IP
// fixed-window rate limiting. Rejections carry the retry-after hint both as
// a header and inside the JSON body so polling clients can back off.
func NewHTTPRateLimitMiddleware(cfg *config.Config, metrics ports.MetricsRecorder) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := newFixedWindowStore(cfg.RateLimiting.HTTP.RequestsPerMinute)

	return func(c *gin.Context) {
		ip := clientIP(c.Request)
		ok, retryAfter := store.allow(ip)
		if !ok {
			metrics.RateLimited()
			store.sweep()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":    false,
				"error":      "rate limit exceeded",
				"retryAfter": retryAfter,
			})
			return
		}
		c.Next()
	}
}
