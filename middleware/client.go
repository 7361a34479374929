package middleware

import (
	"net"
	"net/http"
	"strings"

	authcore "github.com/MrEthical07/authcore"
)

// ClientInfo records the caller's IP and user agent in the request context,
// where the engine's login limiter and audit trail read them.
//
// trustedProxies is the number of reverse proxies in front of the service
// that append to X-Forwarded-For. The client address is taken that many
// entries from the right, so values a client prepends are ignored. Zero
// ignores the header.
func ClientInfo(trustedProxies int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := authcore.WithClientIP(r.Context(), clientIP(r, trustedProxies))
			ctx = authcore.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustedProxies int) string {
	if trustedProxies > 0 {
		if ip, ok := forwardedFor(r.Header.Values("X-Forwarded-For"), trustedProxies); ok {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedFor returns the entry hops positions from the right of the
// combined header values. It fails when the chain is shorter than hops or
// the entry is not an IP address.
func forwardedFor(values []string, hops int) (string, bool) {
	var entries []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			entries = append(entries, strings.TrimSpace(part))
		}
	}
	if len(entries) < hops {
		return "", false
	}
	ip := net.ParseIP(entries[len(entries)-hops])
	if ip == nil {
		return "", false
	}
	return ip.String(), true
}
