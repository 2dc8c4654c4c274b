package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func staticToken(token string) TokenFunc {
	return func(context.Context) (string, error) { return token, nil }
}

func TestRequireBearer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		tokenFn    TokenFunc
		header     string
		wantStatus int
	}{
		{name: "matching token", tokenFn: staticToken("s3cret"), header: "Bearer s3cret", wantStatus: http.StatusOK},
		{name: "wrong token", tokenFn: staticToken("s3cret"), header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "missing header", tokenFn: staticToken("s3cret"), header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", tokenFn: staticToken("s3cret"), header: "Basic s3cret", wantStatus: http.StatusUnauthorized},
		{name: "empty configured token", tokenFn: staticToken(""), header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{
			name: "token lookup fails",
			tokenFn: func(context.Context) (string, error) {
				return "", errors.New("secret store unavailable")
			},
			header:     "Bearer s3cret",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/enable-monitoring", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			RequireBearer(tt.tokenFn, logger)(ok).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
			}
		})
	}
}
