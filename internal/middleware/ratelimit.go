package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"dealroom/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy defines the behavior when the rate limit store (Redis) is unavailable.
type FailPolicy int

const (
	// FailOpen allows the request to proceed if Redis is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed blocks the request (503 Service Unavailable) if Redis is unavailable.
	FailClosed
)

var errNoRedis = errors.New("redis client is nil")

// window is one fixed rate limit window as seen by a single hit.
type window struct {
	count int64
	reset time.Duration
}

func rateLimitBypassed() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development":
		return true
	}
	return false
}

func rateLimitKey(resource, id string) string {
	return fmt.Sprintf("rl:%s:%s", resource, id)
}

// hit counts one request in the fixed window of key. The first hit of a
// window starts its expiry.
func hit(ctx context.Context, rdb *redis.Client, key string, length time.Duration) (window, error) {
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.ExpireNX(ctx, key, length)
		ttl = p.TTL(ctx, key)
		return nil
	})
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("ratelimit").Inc()
		return window{}, err
	}
	return window{count: incr.Val(), reset: ttl.Val()}, nil
}

// CheckRateLimit checks if a resource has exceeded its rate limit.
// Returns true if allowed, false if limit exceeded.
// Rate limiting is disabled when APP_ENV is "test" or "development" so local
// workflows are not throttled.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, length time.Duration) (bool, error) {
	if rateLimitBypassed() {
		return true, nil
	}
	if rdb == nil {
		return false, errNoRedis
	}
	w, err := hit(ctx, rdb, rateLimitKey(resource, id), length)
	if err != nil {
		return false, err
	}
	return w.count <= int64(limit), nil
}

// RateLimit returns a Fiber middleware enforcing `limit` requests per `window`.
// It keys by authenticated user id when set, otherwise by remote IP, and
// fails open.
func RateLimit(rdb *redis.Client, limit int, length time.Duration, name ...string) fiber.Handler {
	return RateLimitWithPolicy(rdb, limit, length, FailOpen, name...)
}

// RateLimitWithPolicy returns a Fiber middleware enforcing `limit` requests
// per window with a specific failure policy. Routes with a :dealId get one
// budget per deal, so a busy negotiation does not throttle the others.
func RateLimitWithPolicy(rdb *redis.Client, limit int, length time.Duration, policy FailPolicy, name ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rateLimitBypassed() {
			return c.Next()
		}

		id := "ip:" + c.IP()
		if uid, ok := c.Locals(localUserID).(string); ok && uid != "" {
			id = "user:" + uid
		}
		resource := c.Path()
		if len(name) > 0 {
			resource = name[0]
		}
		if dealID := c.Params("dealId"); dealID != "" {
			resource += ":" + dealID
		}

		var (
			w   window
			err = errNoRedis
		)
		if rdb != nil {
			w, err = hit(c.UserContext(), rdb, rateLimitKey(resource, id), length)
		}
		if err != nil {
			if policy == FailClosed {
				observability.GlobalLogger.WarnContext(c.UserContext(), "rate limit fail-closed",
					slog.String("path", c.Path()),
					slog.String("resource", resource),
					slog.String("error", err.Error()),
				)
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "rate limit unavailable",
				})
			}
			return c.Next()
		}

		remaining := max(int64(limit)-w.count, 0)
		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if w.count > int64(limit) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(w.reset.Round(time.Second).Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
