package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxBodyBytes bounds JSON request bodies accepted by DecodeJSON.
const MaxBodyBytes = 1 << 20

// MissingFieldsError lists required body fields that were absent or empty.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "Missing required fields: " + strings.Join(e.Fields, ", ")
}

// DecodeJSON reads a JSON object body into dst and checks that every name in
// required is present and non-empty. A missing or empty body counts as an
// empty object, so callers get a *MissingFieldsError rather than a decode error.
func DecodeJSON(r *http.Request, dst interface{}, required ...string) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}

	var missing []string
	for _, name := range required {
		v, ok := raw[name]
		if !ok || isEmptyJSON(v) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func isEmptyJSON(v json.RawMessage) bool {
	switch strings.TrimSpace(string(v)) {
	case "", "null", `""`:
		return true
	}
	return false
}

// WriteDecodeError maps a DecodeJSON error to a 400 response.
func WriteDecodeError(w http.ResponseWriter, err error) {
	var missing *MissingFieldsError
	if errors.As(err, &missing) {
		WriteError(w, http.StatusBadRequest, missing.Error())
		return
	}
	WriteError(w, http.StatusBadRequest, "invalid request body")
}

// GetClientIP extracts the client address, preferring proxy headers.
//
// Example X-Forwarded-For: "203.0.113.195, 70.41.3.18"
// Returns: "203.0.113.195"
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
