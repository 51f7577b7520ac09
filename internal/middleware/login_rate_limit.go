package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/respond"
)

// LoginRateLimit caps login attempts per email, falling back to the client IP
// when the body carries none. A nil cache disables the limiter.
func LoginRateLimit(cache *redis.Client, maxPerMinute int) fiber.Handler {
	if maxPerMinute <= 0 {
		maxPerMinute = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			Email string `json:"email"`
		}
		_ = c.BodyParser(&req)
		subject := strings.ToLower(strings.TrimSpace(req.Email))
		if subject == "" {
			subject = c.IP()
		}
		key := "rl:login:" + subject
		count, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			// fail open on cache errors
			return c.Next()
		}
		if count == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if count > int64(maxPerMinute) {
			return respond.Error(c, apperr.RateLimit("too many login attempts, try again later"))
		}
		return c.Next()
	}
}
