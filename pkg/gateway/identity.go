package gateway

import (
	"net"
	"net/http"
	"strings"
)

// clientIdentifier derives the rate-limit bucket key for a request: the first
// entry of X-Forwarded-For when present, otherwise the connection's remote
// host. Forwarded headers are spoofable, which is acceptable for a
// best-effort limiter.
func clientIdentifier(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0]); first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
