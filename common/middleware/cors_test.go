package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	tests := []struct {
		name           string
		origins        []string
		origin         string
		method         string
		expectedOrigin string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "exact origin match",
			origins:        []string{"https://dash.example.com"},
			origin:         "https://dash.example.com",
			method:         http.MethodGet,
			expectedOrigin: "https://dash.example.com",
			expectedStatus: http.StatusOK,
			expectedBody:   "OK",
		},
		{
			name:           "wildcard subdomain match",
			origins:        []string{"*.example.com"},
			origin:         "https://app.example.com",
			method:         http.MethodGet,
			expectedOrigin: "https://app.example.com",
			expectedStatus: http.StatusOK,
			expectedBody:   "OK",
		},
		{
			name:           "wildcard subdomain does not match apex",
			origins:        []string{"*.example.com"},
			origin:         "https://example.com",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
			expectedBody:   "OK",
		},
		{
			name:           "any origin",
			origins:        []string{"*"},
			origin:         "http://localhost:3000",
			method:         http.MethodGet,
			expectedOrigin: "http://localhost:3000",
			expectedStatus: http.StatusOK,
			expectedBody:   "OK",
		},
		{
			name:           "origin not allowed",
			origins:        []string{"https://dash.example.com"},
			origin:         "https://evil.com",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
			expectedBody:   "OK",
		},
		{
			name:           "preflight short circuits",
			origins:        []string{"https://dash.example.com"},
			origin:         "https://dash.example.com",
			method:         http.MethodOptions,
			expectedOrigin: "https://dash.example.com",
			expectedStatus: http.StatusNoContent,
			expectedBody:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "http://example.com/admin/stream-status", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()

			CORS(DefaultCORSConfig(tt.origins))(handler).ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.expectedOrigin {
				t.Errorf("expected Access-Control-Allow-Origin %q, got %q", tt.expectedOrigin, got)
			}
			if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PUT, OPTIONS" {
				t.Errorf("unexpected Access-Control-Allow-Methods %q", got)
			}
			if got := w.Header().Get("Access-Control-Max-Age"); got != "300" {
				t.Errorf("unexpected Access-Control-Max-Age %q", got)
			}
			if w.Body.String() != tt.expectedBody {
				t.Errorf("expected body %q, got %q", tt.expectedBody, w.Body.String())
			}
		})
	}
}
