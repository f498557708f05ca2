package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares a fixed window across every booking-service replica.
type RedisRateLimiter struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string
	exempt []string
}

// INCR then PEXPIRE on the first hit, so the window starts with the first request.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

func NewRedisRateLimiter(rdb redis.Scripter, limit int, window time.Duration, prefix string, exemptPrefixes ...string) *RedisRateLimiter {
	limit, window = limitDefaults(limit, window)
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisRateLimiter{rdb: rdb, limit: limit, window: window, prefix: prefix, exempt: exemptPrefixes}
}

// Middleware enforces the window. When Redis fails, failOpen decides between
// serving the request and answering 503.
func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExempt(r, rl.exempt) {
				next.ServeHTTP(w, r)
				return
			}
			count, err := rl.hit(r.Context(), rl.prefix+":"+clientKey(r))
			switch {
			case err != nil && failOpen:
				if logger != nil {
					logger.Warn("rate limiter unavailable; allowing request", "err", err)
				}
				next.ServeHTTP(w, r)
			case err != nil:
				if logger != nil {
					logger.Error("rate limiter unavailable; rejecting request", "err", err)
				}
				writeLimitError(w, http.StatusServiceUnavailable, "rate_limiter_unavailable", "rate limiter unavailable")
			case count > int64(rl.limit):
				writeLimited(w, rl.window)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (rl *RedisRateLimiter) hit(ctx context.Context, key string) (int64, error) {
	res, err := fixedWindow.Run(ctx, rl.rdb, []string{key}, rl.window.Milliseconds()).Result()
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("unexpected rate limit script result %T", res)
}
