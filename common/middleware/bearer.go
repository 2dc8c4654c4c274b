package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// TokenFunc returns the currently valid shared secret.
type TokenFunc func(ctx context.Context) (string, error)

// RequireBearer rejects requests whose Authorization header is not exactly
// "Bearer <token>" for the token returned by tokenFn. Rejections get
// 401 {"error":"Unauthorized"}.
func RequireBearer(tokenFn TokenFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected, err := tokenFn(r.Context())
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to load admin token",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())))
				unauthorized(w)
				return
			}

			presented, ok := bearerToken(r)
			if !ok || expected == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
				logger.WarnContext(r.Context(), "rejected admin request",
					slog.String("path", r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())))
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}
