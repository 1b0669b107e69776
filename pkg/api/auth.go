// API authentication middleware — static bearer token, checked against any
// of the configured tokens.
//
// When server.api_bearer_tokens is non-empty, all API requests MUST carry:
//
//	Authorization: Bearer <token>
//
// or:
//
//	X-API-Key: <token>
//
// Exempt routes (no token required):
//   - GET /api/health
//
// WebSocket upgrade requests check the token in the query param as fallback:
//   wss://host/api/workflows/{id}/ws?token=<token>
//
// When no tokens are configured (development mode), every request is
// allowed through and a warning is logged once at startup.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/coflow/coflow/pkg/logger"
)

// authMiddleware wraps next with bearer token checking. If tokens is empty
// the middleware is a pass-through (dev mode only).
func authMiddleware(tokens []string, next http.Handler) http.Handler {
	if len(tokens) == 0 {
		logger.WarnC(component, "API auth DISABLED — no server.api_bearer_tokens configured")
		return next
	}

	logger.InfoC(component, "API bearer token auth ENABLED")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if !tokenValid(token, tokens) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="coflow"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "unauthorized — bearer token required",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken pulls the bearer token from Authorization header, X-API-Key
// header, or ?token= query param (for WebSocket upgrades).
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return ""
}

// tokenValid does a constant-time comparison against every configured
// token, to prevent timing attacks from narrowing down a valid one.
func tokenValid(provided string, tokens []string) bool {
	if provided == "" {
		return false
	}
	for _, t := range tokens {
		if t != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(t)) == 1 {
			return true
		}
	}
	return false
}

// isPublicPath returns true for paths that never require authentication.
func isPublicPath(path string) bool {
	return path == "/api/health"
}
