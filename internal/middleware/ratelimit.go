package middleware

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"campuspulse/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Limit is a named fixed-window budget. Transports that share a Resource share the budget,
// so a user cannot double their chat send rate by mixing HTTP and websocket sends.
type Limit struct {
	Resource string
	Max      int
	Window   time.Duration
}

var (
	SendChatLimit      = Limit{Resource: "send_chat", Max: 15, Window: time.Minute}
	CreatePostLimit    = Limit{Resource: "create_post", Max: 5, Window: 5 * time.Minute}
	CreateCommentLimit = Limit{Resource: "create_comment", Max: 10, Window: time.Minute}
	FollowLimit        = Limit{Resource: "follow", Max: 30, Window: time.Minute}
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// FailPolicy defines the behavior when the rate limit store (Redis) is unavailable.
type FailPolicy int

const (
	// FailOpen allows the request to proceed if Redis is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed blocks the request (503 Service Unavailable) if Redis is unavailable.
	FailClosed
)

// ErrNoRateLimitStore is returned when limits are enforced but no Redis client is configured.
var ErrNoRateLimitStore = errors.New("redis client is nil")

func limitsEnforced() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development", "stress":
		return false
	}
	return true
}

// CheckRateLimit counts one hit by id against l.
// Limits are not enforced when APP_ENV is "test", "development" or "stress".
func CheckRateLimit(ctx context.Context, rdb *redis.Client, l Limit, id string) (Decision, error) {
	if !limitsEnforced() {
		return Decision{Allowed: true, Remaining: l.Max}, nil
	}
	if rdb == nil {
		return Decision{}, ErrNoRateLimitStore
	}

	key := fmt.Sprintf("rl:%s:%s", l.Resource, id)

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	if _, err := rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		ttl = p.PTTL(ctx, key)
		return nil
	}); err != nil {
		return Decision{}, err
	}

	count, left := incr.Val(), ttl.Val()
	// a negative ttl means the window was never armed
	if left < 0 {
		if err := rdb.PExpire(ctx, key, l.Window).Err(); err != nil {
			return Decision{}, err
		}
		left = l.Window
	}

	d := Decision{Allowed: count <= int64(l.Max), Remaining: max(l.Max-int(count), 0)}
	if !d.Allowed {
		d.RetryAfter = left
	}
	return d, nil
}

// RateLimit returns a Fiber middleware enforcing l.
// It keys by authenticated userID when present, otherwise by remote IP.
func RateLimit(rdb *redis.Client, l Limit) fiber.Handler {
	return RateLimitWithPolicy(rdb, l, FailOpen)
}

// RateLimitWithPolicy is RateLimit with an explicit failure policy.
func RateLimitWithPolicy(rdb *redis.Client, l Limit, policy FailPolicy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := "ip:" + c.IP()
		if uid, ok := c.Locals("userID").(uint); ok {
			id = fmt.Sprintf("user:%d", uid)
		}

		d, err := CheckRateLimit(c.UserContext(), rdb, l, id)
		if err != nil {
			if policy == FailClosed {
				Logger.WarnContext(c.UserContext(), "rate limit fail-closed",
					"resource", l.Resource, "error", err)
				return models.RespondWithError(c, fiber.StatusServiceUnavailable,
					models.NewUnavailableError(err))
			}
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(l.Max))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(d.RetryAfter.Round(time.Second).Seconds())))
			return models.RespondWithAppError(c, models.NewRateLimitedError())
		}
		return c.Next()
	}
}
