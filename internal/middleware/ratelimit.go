// ratelimit.go provides Gin middleware that enforces per-client token-bucket rate limits,
// returning 429 responses when the configured requests-per-minute threshold is exceeded.
// Two limiter implementations exist: an in-process token bucket for single-node
// deployments, and a Redis-backed GCRA limiter (redis_rate) whose counters are
// shared across replicas.
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often to clean up expired entries
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200, // Higher limit for restore traffic
		BurstSize:         50,  // Restores fetch many packages in quick succession
		CleanupInterval:   5 * time.Minute,
	}
}

// PushRateLimitConfig returns stricter limits for the push endpoint
func PushRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// Limiter is what RateLimitMiddleware needs from a rate limiter. Both the
// in-process RateLimiter and the Redis-backed RedisRateLimiter satisfy it.
type Limiter interface {
	// Allow reports whether a request under key may proceed
	Allow(ctx context.Context, key string) bool
	// Remaining returns how many requests key may still make right now
	Remaining(ctx context.Context, key string) int
	// Limit returns the configured requests-per-minute value for headers
	Limit() int
}

// rateLimitEntry tracks request counts for a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements a token bucket rate limiter in process memory.
// Limits are per-instance; use RedisRateLimiter when running replicas.
type RateLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.RWMutex
	stopCh  chan struct{}
}

// NewRateLimiter creates a new rate limiter with the given config
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// cleanup periodically removes expired entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, entry := range rl.entries {
				// Remove entries that haven't been accessed in 10 minutes
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Allow checks if a request from the given key should be allowed
func (rl *RateLimiter) Allow(_ context.Context, key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.entries[key]

	if !exists {
		// New client, give them full burst
		rl.entries[key] = &rateLimitEntry{
			tokens:     float64(rl.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true
	}

	// Calculate tokens to add based on time elapsed
	elapsed := now.Sub(entry.lastUpdate)
	tokensPerSecond := float64(rl.config.RequestsPerMinute) / 60.0
	tokensToAdd := elapsed.Seconds() * tokensPerSecond

	// Update tokens (capped at burst size)
	entry.tokens = min(float64(rl.config.BurstSize), entry.tokens+tokensToAdd)
	entry.lastUpdate = now

	// Check if we have tokens available
	if entry.tokens >= 1 {
		entry.tokens--
		return true
	}

	return false
}

// Remaining returns how many tokens are left for a key
func (rl *RateLimiter) Remaining(_ context.Context, key string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, exists := rl.entries[key]
	if !exists {
		return rl.config.BurstSize
	}

	// Calculate current tokens
	now := time.Now()
	elapsed := now.Sub(entry.lastUpdate)
	tokensPerSecond := float64(rl.config.RequestsPerMinute) / 60.0
	tokensToAdd := elapsed.Seconds() * tokensPerSecond
	currentTokens := min(float64(rl.config.BurstSize), entry.tokens+tokensToAdd)

	return int(currentTokens)
}

// Limit returns the configured requests-per-minute value
func (rl *RateLimiter) Limit() int {
	return rl.config.RequestsPerMinute
}

// RedisRateLimiter enforces limits through Redis using the GCRA algorithm, so
// a fleet of registry replicas shares one budget per client.
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewRedisRateLimiter creates a Redis-backed limiter over an existing client.
func NewRedisRateLimiter(client *redis.Client, config RateLimitConfig) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Period: time.Minute,
			Burst:  config.BurstSize,
		},
	}
}

// Allow checks the shared budget for key. Redis errors fail open: blocking
// all traffic because the limiter store is down costs more than briefly
// losing rate enforcement.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) bool {
	res, err := rl.limiter.Allow(ctx, key, rl.limit)
	if err != nil {
		return true
	}
	return res.Allowed > 0
}

// Remaining returns the shared budget left for key
func (rl *RedisRateLimiter) Remaining(ctx context.Context, key string) int {
	res, err := rl.limiter.AllowN(ctx, key, rl.limit, 0)
	if err != nil {
		return rl.limit.Burst
	}
	return res.Remaining
}

// Limit returns the configured requests-per-minute value
func (rl *RedisRateLimiter) Limit() int {
	return rl.limit.Rate
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := getRateLimitKey(c)

		if !limiter.Allow(ctx, key) {
			remaining := limiter.Remaining(ctx, key)
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			return
		}

		// Add rate limit headers
		remaining := limiter.Remaining(ctx, key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting. Requests that
// present a push key are bucketed by a digest of that key so shared CI egress
// IPs don't starve each other; everything else is bucketed by client IP. The
// digest keeps the secret itself out of limiter storage.
func getRateLimitKey(c *gin.Context) string {
	if apiKey := c.GetHeader(APIKeyHeader); apiKey != "" {
		sum := sha256.Sum256([]byte(apiKey))
		return "apikey:" + hex.EncodeToString(sum[:8])
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

// Helper function for min (Go 1.21+ has this built-in, but for compatibility)
func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
