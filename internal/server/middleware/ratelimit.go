package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit applies a per-client token bucket of rps requests per second
// with the given burst. Client identity is the requester IP, honoring the
// usual proxy headers. Idle buckets are evicted after ten minutes.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	clients := &clientLimiters{
		buckets: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !clients.allow(clientIP(r)) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const bucketIdleTTL = 10 * time.Minute

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type clientLimiters struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	rps     rate.Limit
	burst   int
	sweep   time.Time
}

func (c *clientLimiters) allow(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.sweep) > bucketIdleTTL {
		for ip, b := range c.buckets {
			if now.Sub(b.lastSeen) > bucketIdleTTL {
				delete(c.buckets, ip)
			}
		}
		c.sweep = now
	}

	b, ok := c.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(c.rps, c.burst)}
		c.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

// clientIP resolves the requester IP from proxy headers, falling back to
// the connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
