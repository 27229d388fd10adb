package gateway

import "net/http"

// CORS policy emitted on every response. Both endpoints are consumed from
// browser contexts on arbitrary origins, so the policy is deliberately open.
const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
)

func applyCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", corsAllowOrigin)
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
}

// handlePreflight answers OPTIONS requests with 204 and CORS headers.
// Returns true when the request was a preflight and has been handled.
func handlePreflight(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodOptions {
		return false
	}
	applyCORSHeaders(w.Header())
	w.WriteHeader(http.StatusNoContent)
	return true
}
