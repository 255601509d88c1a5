package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tunelink-backend/internal/database"
)

// RateLimiter implements Redis-backed fixed-window rate limiting
type RateLimiter struct {
	client   *database.RedisClient
	requests int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter allowing requests per window
func NewRateLimiter(client *database.RedisClient, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:   client,
		requests: requests,
		window:   window,
	}
}

// Middleware returns the Gin rate limiting handler. Limits are keyed per
// authenticated user when available, per client IP otherwise. Redis
// failures fail open.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var identifier string
		if userID, exists := c.Get("user_id"); exists {
			identifier = fmt.Sprintf("user:%v", userID)
		} else {
			identifier = fmt.Sprintf("ip:%s", c.ClientIP())
		}

		allowed, remaining, resetTime, err := rl.check(c.Request.Context(), identifier)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":     "Rate limit exceeded",
				"limit":     rl.requests,
				"remaining": remaining,
				"reset_at":  resetTime,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) check(ctx context.Context, identifier string) (bool, int, int64, error) {
	if rl.client.IsDegraded() {
		return false, 0, 0, fmt.Errorf("redis degraded")
	}

	key := fmt.Sprintf("ratelimit:%s", identifier)

	count, err := rl.client.Client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// First hit in the window starts the clock
	if count == 1 {
		if err := rl.client.Client.Expire(ctx, key, rl.window).Err(); err != nil {
			return false, 0, 0, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	ttl, err := rl.client.Client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = rl.window
	}
	resetTime := time.Now().Add(ttl).Unix()

	remaining := rl.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if int(count) > rl.requests {
		return false, remaining, resetTime, nil
	}

	return true, remaining, resetTime, nil
}
