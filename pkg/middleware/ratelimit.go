package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sirosfoundation/go-linkshare/pkg/config"
)

// AuthRateLimiter throttles clients that fail control API authentication.
// Each client gets a token bucket; draining it triggers a lockout.
type AuthRateLimiter struct {
	config config.AuthRateLimitConfig
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*authLimiter

	cleanupInterval time.Duration
	lastCleanup     time.Time
	now             func() time.Time
}

// authLimiter tracks rate limiting state for a single client
type authLimiter struct {
	limiter    *rate.Limiter
	lastSeen   time.Time
	lockoutEnd time.Time
}

// NewAuthRateLimiter creates a new rate limiter for the control API
func NewAuthRateLimiter(cfg config.AuthRateLimitConfig, logger *zap.Logger) *AuthRateLimiter {
	cfg.SetDefaults()
	return &AuthRateLimiter{
		config:          cfg,
		logger:          logger.Named("auth-ratelimit"),
		limiters:        make(map[string]*authLimiter),
		cleanupInterval: 10 * time.Minute,
		lastCleanup:     time.Now(),
		now:             time.Now,
	}
}

// getLimiter returns the limiter for a client, creating it if needed.
// Callers hold r.mu.
func (r *AuthRateLimiter) getLimiter(identifier string) *authLimiter {
	now := r.now()
	if now.Sub(r.lastCleanup) > r.cleanupInterval {
		r.cleanup(now)
	}

	limiter, exists := r.limiters[identifier]
	if exists {
		limiter.lastSeen = now
		return limiter
	}

	// MaxAttempts failures per WindowSeconds
	rateLimit := rate.Limit(float64(r.config.MaxAttempts) / float64(r.config.WindowSeconds))
	burst := int(math.Ceil(float64(r.config.MaxAttempts) / 2.0))
	if burst < 1 {
		burst = 1
	}

	limiter = &authLimiter{
		limiter:  rate.NewLimiter(rateLimit, burst),
		lastSeen: now,
	}
	r.limiters[identifier] = limiter
	return limiter
}

// cleanup removes limiters that haven't been used recently
func (r *AuthRateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-30 * time.Minute)
	for key, limiter := range r.limiters {
		if limiter.lastSeen.Before(cutoff) && now.After(limiter.lockoutEnd) {
			delete(r.limiters, key)
		}
	}
	r.lastCleanup = now
}

// Allow reports whether the client may attempt authentication.
func (r *AuthRateLimiter) Allow(identifier string) bool {
	if !r.config.Enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	limiter := r.getLimiter(identifier)
	return !r.now().Before(limiter.lockoutEnd)
}

// RecordFailure consumes tokens for a failed attempt and locks the client
// out once its bucket is empty.
func (r *AuthRateLimiter) RecordFailure(identifier string) {
	if !r.config.Enabled {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	limiter := r.getLimiter(identifier)
	now := r.now()
	if limiter.limiter.AllowN(now, 1) {
		return
	}

	lockout := time.Duration(r.config.LockoutSeconds) * time.Second
	limiter.lockoutEnd = now.Add(lockout)
	r.logger.Warn("Auth rate limit exceeded, applying lockout",
		zap.String("identifier", identifier),
		zap.Duration("lockout_duration", lockout),
	)
}

// RetryAfter is the Retry-After header value sent to locked out clients.
func (r *AuthRateLimiter) RetryAfter() string {
	return strconv.Itoa(r.config.LockoutSeconds)
}
