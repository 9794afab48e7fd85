package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	toolKeyHeader = "X-Api-Key"
	toolActor     = "voice-assistant"
)

// ToolAPIKey guards the tool endpoints called by the voice assistant. The key
// may arrive in X-Api-Key or as a bearer token. When expected is empty the
// middleware only tags the actor.
func ToolAPIKey(expected string) func(http.Handler) http.Handler {
	expected = strings.TrimSpace(expected)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected != "" {
				key := strings.TrimSpace(r.Header.Get(toolKeyHeader))
				if key == "" {
					key, _ = bearerToken(r)
				}
				if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
					writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid api key")
					return
				}
			}
			ctx := r.Context()
			if ActorFromContext(ctx) == "" {
				ctx = WithActor(ctx, toolActor)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
