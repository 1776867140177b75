package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

type windowCounter struct {
	windowStart int64
	count       int
}

// RateLimiter is a fixed-window limiter keyed by the trading account
// (X-Account header) when present, falling back to the client IP.
type RateLimiter struct {
	maxRequests    int
	windowDuration time.Duration
	counters       map[string]*windowCounter
	mu             sync.Mutex
}

func NewRateLimiter(maxRequests int, windowDuration time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests:    maxRequests,
		windowDuration: windowDuration,
		counters:       make(map[string]*windowCounter),
	}
}

func (rl *RateLimiter) clientKey(c *fiber.Ctx) string {
	if account := c.Get("X-Account"); account != "" {
		return "account:" + account
	}
	if ip := c.Get("X-Forwarded-For"); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + c.IP()
}

func (rl *RateLimiter) Allow(clientKey string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	window := time.Now().UnixNano() / int64(rl.windowDuration)

	counter, exists := rl.counters[clientKey]
	if !exists || counter.windowStart != window {
		// edge case: stale windows are replaced in place, so the map
		// holds at most one entry per client
		rl.counters[clientKey] = &windowCounter{windowStart: window, count: 1}
		return true
	}

	if counter.count >= rl.maxRequests {
		return false
	}
	counter.count++
	return true
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := rl.clientKey(c)

		if !rl.Allow(key) {
			log.Warn().
				Str("client", key).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("max_requests", rl.maxRequests).
				Msg("Rate limit exceeded")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "Rate limit exceeded",
				"message": "Too many requests. Please try again later.",
			})
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.maxRequests))
		c.Set("X-RateLimit-Window", rl.windowDuration.String())

		return c.Next()
	}
}

func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(100, time.Second)
}
