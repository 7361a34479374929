package middleware

import (
	"net/http"
	"sync"
	"time"

	authcore "github.com/MrEthical07/authcore"
	"golang.org/x/time/rate"
)

const throttleIdleTTL = 5 * time.Minute

// Throttle applies a token bucket per client IP. It is a flood guard only;
// the engine's Redis-backed limiters enforce the auth policies. Run it
// after [ClientInfo] when behind a proxy.
func Throttle(perSecond float64, burst int) func(http.Handler) http.Handler {
	type bucket struct {
		lim  *rate.Limiter
		seen time.Time
	}
	var (
		mu        sync.Mutex
		buckets   = make(map[string]*bucket)
		lastSweep = time.Now()
	)

	allow := func(ip string) bool {
		now := time.Now()
		mu.Lock()
		defer mu.Unlock()

		if now.Sub(lastSweep) > time.Minute {
			for k, b := range buckets {
				if now.Sub(b.seen) > throttleIdleTTL {
					delete(buckets, k)
				}
			}
			lastSweep = now
		}

		b, ok := buckets[ip]
		if !ok {
			b = &bucket{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
			buckets[ip] = b
		}
		b.seen = now
		return b.lim.AllowN(now, 1)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := authcore.ClientIP(r.Context())
			if ip == "" {
				ip = clientIP(r, 0)
			}
			if !allow(ip) {
				WriteError(w, &authcore.LimitError{Err: authcore.ErrRateLimited, Scope: "http", RetryAfter: time.Second})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
