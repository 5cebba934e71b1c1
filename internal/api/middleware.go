// Package api implements the ingress and host bridge HTTP APIs using chi.
package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// KeyHeader carries the optional ingress key.
const KeyHeader = "X-Notes-MCP-Key"

// AuthMiddleware returns middleware that validates a Bearer token.
// If enabled is false, all requests pass through (disabled mode).
// If enabled is true, requests must carry a valid "Authorization: Bearer <token>" header.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if token == "" || !strings.HasPrefix(auth, "Bearer ") || !equal(strings.TrimPrefix(auth, "Bearer "), token) {
				writeJSON(w, http.StatusUnauthorized, errorBody("Invalid or missing authorization token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// KeyMiddleware requires KeyHeader to equal key. An empty key disables
// the check and leaves access control to the network.
func KeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" && !equal(r.Header.Get(KeyHeader), key) {
				writeJSON(w, http.StatusUnauthorized, errorBody("Invalid or missing "+KeyHeader+" header"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func equal(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// clientIP returns the caller address. chi's RealIP middleware has already
// applied X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	return r.RemoteAddr
}
