package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/respond"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "sharevest:idem:"
	inFlightMarker       = "__in_flight__"
	cacheOpTimeout       = 2 * time.Second
)

type replayedResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Idempotency makes unsafe methods replay-safe: the first response for a given
// Idempotency-Key is cached in Redis for ttl and served verbatim to retries.
// Money-moving routes (buy, pay, offer, withdraw) rely on this against
// double-submits.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := c.Get(idempotencyKeyHeader)
		if key == "" {
			return respond.Error(c, apperr.Validation("missing %s header", idempotencyKeyHeader))
		}

		ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
		defer cancel()
		cacheKey := idempotencyPrefix + key

		cached, err := cache.Get(ctx, cacheKey).Result()
		switch {
		case err == nil && cached == inFlightMarker:
			return respond.Error(c, apperr.StateConflict("request %s is still processing", key))
		case err == nil:
			var prior replayedResponse
			if err := json.Unmarshal([]byte(cached), &prior); err != nil {
				logger.Warn("dropping undecodable idempotent response",
					slog.String("key", key), slog.String("error", err.Error()))
				return respond.Error(c, apperr.Duplicate("request %s was already processed", key))
			}
			for header, value := range prior.Headers {
				if strings.EqualFold(header, fiber.HeaderContentLength) {
					continue
				}
				c.Set(header, value)
			}
			return c.Status(prior.Status).SendString(prior.Body)
		case !errors.Is(err, redis.Nil):
			logger.Error("idempotency lookup failed",
				slog.String("key", key), slog.String("error", err.Error()))
			return respond.Error(c, apperr.Internal("idempotency store unavailable"))
		}

		if err := cache.SetNX(ctx, cacheKey, inFlightMarker, ttl).Err(); err != nil {
			logger.Error("idempotency reservation failed",
				slog.String("key", key), slog.String("error", err.Error()))
			return respond.Error(c, apperr.Internal("idempotency store unavailable"))
		}

		if err := c.Next(); err != nil {
			// Errors are not replayable outcomes; let the client retry.
			release(cache, cacheKey)
			return err
		}

		prior := replayedResponse{
			Status:  c.Response().StatusCode(),
			Body:    string(c.Response().Body()),
			Headers: map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			prior.Headers[string(k)] = string(v)
		})

		payload, err := json.Marshal(prior)
		if err != nil {
			logger.Error("failed to encode idempotent response",
				slog.String("key", key), slog.String("error", err.Error()))
			release(cache, cacheKey)
			return nil
		}

		persistCtx, persistCancel := context.WithTimeout(context.Background(), cacheOpTimeout)
		defer persistCancel()
		if err := cache.Set(persistCtx, cacheKey, payload, ttl).Err(); err != nil {
			logger.Error("failed to persist idempotent response",
				slog.String("key", key), slog.String("error", err.Error()))
			release(cache, cacheKey)
		}
		return nil
	}
}

// release drops the reservation so a retry can run. Best effort.
func release(cache *redis.Client, cacheKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	cache.Del(ctx, cacheKey)
}
