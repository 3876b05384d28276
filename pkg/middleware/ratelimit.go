package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ga4access/pkg/httputil"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns limits for anonymous callers
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 60,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerUserRateLimitConfig returns per-user rate limit settings
func PerUserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether a request keyed by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimiter is an in-process token bucket limiter
type RateLimiter struct {
	config  *RateLimitConfig
	clock   clockwork.Clock
	buckets map[string]*bucket
	mu      sync.Mutex
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
}

// NewRateLimiter creates a new rate limiter. A nil clock uses the real clock.
func NewRateLimiter(config *RateLimitConfig, clock clockwork.Clock) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &RateLimiter{
		config:  config,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

func (rl *RateLimiter) capacity() int {
	return rl.config.RequestsPerWindow + rl.config.BurstSize
}

// Allow implements Limiter
func (rl *RateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: rl.capacity(), lastUpdate: now}
		rl.buckets[key] = b
	}

	// Refill tokens based on elapsed time
	elapsed := now.Sub(b.lastUpdate)
	tokensToAdd := int(elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if tokensToAdd > 0 {
		b.tokens += tokensToAdd
		if b.tokens > rl.capacity() {
			b.tokens = rl.capacity()
		}
		b.lastUpdate = now
	}

	d := Decision{Limit: rl.config.RequestsPerWindow, ResetAt: now.Add(rl.config.WindowDuration)}
	if b.tokens > 0 {
		b.tokens--
		d.Allowed = true
	}
	d.Remaining = b.tokens
	return d, nil
}

// Cleanup removes buckets idle for two windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup every window until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := rl.clock.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware provides HTTP rate limiting
type RateLimitMiddleware struct {
	userLimiter      Limiter
	anonymousLimiter Limiter
	logger           *logrus.Logger
	failOpen         bool
}

// NewRateLimitMiddleware creates rate limit middleware. A nil limiter leaves
// that class of caller unlimited. Limiter errors let the request through
// unless SetFailOpen(false) is called.
func NewRateLimitMiddleware(user, anonymous Limiter, logger *logrus.Logger) *RateLimitMiddleware {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RateLimitMiddleware{
		userLimiter:      user,
		anonymousLimiter: anonymous,
		logger:           logger,
		failOpen:         true,
	}
}

// SetFailOpen controls whether limiter errors allow (true) or reject with 503 (false)
func (m *RateLimitMiddleware) SetFailOpen(enabled bool) {
	m.failOpen = enabled
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var key string
		var limiter Limiter

		if authCtx := GetAuthContext(r); authCtx != nil && authCtx.User != nil {
			key = fmt.Sprintf("user:%d", authCtx.User.ID)
			limiter = m.userLimiter
		} else {
			key = "ip:" + getClientIP(r)
			limiter = m.anonymousLimiter
		}
		if limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		d, err := limiter.Allow(r.Context(), key)
		if err != nil {
			m.logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable")
			if m.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}

		setRateLimitHeaders(w, d)
		if !d.Allowed {
			retryAfter := int(time.Until(d.ResetAt).Seconds() + 0.5)
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func getClientIP(r *http.Request) string {
	// First hop of X-Forwarded-For when behind a proxy
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
