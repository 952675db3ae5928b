package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerToken reads "Authorization: Bearer <token>" or, for websocket
// upgrades from browsers, the token query parameter.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// tokenValid compares in constant time. An empty configured token accepts
// any presented token (development).
func tokenValid(configured, presented string) bool {
	if presented == "" {
		return false
	}
	if configured == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

// AdminAuth rejects requests without a valid admin token with 401.
// With no token configured every request passes.
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && !tokenValid(token, BearerToken(r)) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context())))
		})
	}
}

// DetectAdmin never rejects: it only marks requests that carry a valid token,
// so public routes can widen what an admin is allowed to do.
func DetectAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenValid(token, BearerToken(r)) {
				r = r.WithContext(WithAdmin(r.Context()))
			}
			next.ServeHTTP(w, r)
		})
	}
}
