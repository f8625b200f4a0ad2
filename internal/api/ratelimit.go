package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Per-client throttling. Every client IP owns a token bucket; buckets that
// have been idle past the stale threshold are swept during a later allow
// call, so the map stays bounded without a background goroutine.
const (
	limiterSweepInterval = 5 * time.Minute
	limiterStaleAfter    = 10 * time.Minute
)

type rateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientBucket
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

type clientBucket struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter builds a limiter refilling perSecond tokens with the given
// burst capacity per client.
func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		clients:   make(map[string]*clientBucket),
		limit:     rate.Limit(perSecond),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// allow takes one token from ip's bucket, creating it on first sight.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > limiterSweepInterval {
		rl.sweep(now)
	}

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientBucket{bucket: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.bucket.Allow()
}

// sweep drops buckets idle past the stale threshold. Caller holds the mutex.
func (rl *rateLimiter) sweep(now time.Time) {
	for ip, c := range rl.clients {
		if now.Sub(c.lastSeen) > limiterStaleAfter {
			delete(rl.clients, ip)
		}
	}
	rl.lastSweep = now
}

// rateLimitMiddleware rejects requests over the per-client budget with 429.
func rateLimitMiddleware(rl *rateLimiter, trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if !rl.allow(ip) {
				logger.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP picks the limiter key for a request. Proxy headers count only
// when trustProxy is set, and only when they parse as real IPs; anything
// else falls through to RemoteAddr with the port stripped.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
				return ip.String()
			}
		}

		// X-Forwarded-For lists the client first, proxies after.
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			raw := xff
			if first, _, ok := strings.Cut(xff, ","); ok {
				raw = first
			}
			if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
				return ip.String()
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
