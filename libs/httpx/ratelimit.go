package httpx

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a per-client fixed-window limiter for single-instance deployments.
type RateLimiter struct {
	limit    int
	window   time.Duration
	exempt   []string
	now      func() time.Time
	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	count     int
	resetTime time.Time
}

const sweepThreshold = 10000

func NewRateLimiter(limit int, window time.Duration, exemptPrefixes ...string) *RateLimiter {
	limit, window = limitDefaults(limit, window)
	return &RateLimiter{
		limit:    limit,
		window:   window,
		exempt:   exemptPrefixes,
		now:      time.Now,
		visitors: map[string]*visitor{},
	}
}

func limitDefaults(limit int, window time.Duration) (int, time.Duration) {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return limit, window
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExempt(r, rl.exempt) {
				next.ServeHTTP(w, r)
				return
			}
			if !rl.allow(clientKey(r)) {
				writeLimited(w, rl.window)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if len(rl.visitors) >= sweepThreshold {
		for k, v := range rl.visitors {
			if now.After(v.resetTime) {
				delete(rl.visitors, k)
			}
		}
	}

	v := rl.visitors[key]
	if v == nil || now.After(v.resetTime) {
		rl.visitors[key] = &visitor{count: 1, resetTime: now.Add(rl.window)}
		return true
	}
	if v.count >= rl.limit {
		return false
	}
	v.count++
	return true
}

// isExempt skips server-to-server paths such as signed payment callbacks,
// which gateways retry on their own schedule.
func isExempt(r *http.Request, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(r.URL.Path, p) {
			return true
		}
	}
	return false
}

func writeLimited(w http.ResponseWriter, window time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
	writeLimitError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
}

func writeLimitError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}

// clientKey buckets identified callers by user id and anonymous ones by address.
func clientKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-Id")); id != "" {
		return "user:" + id
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return "ip:" + strings.TrimSpace(parts[0])
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
		return "ip:" + ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}
