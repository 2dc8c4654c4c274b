package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across services.
const (
	FieldService    = "service"
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldRecordID   = "record_id"
	FieldSubject    = "subject"
	FieldCountry    = "country"
	FieldClientID   = "client_id"
	FieldState      = "state"
	FieldKeywords   = "keywords"
	FieldAttempt    = "attempt"
	FieldRetryDelay = "retry_in"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for d in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error. A nil error renders as "".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

func RecordID(id string) slog.Attr {
	return slog.String(FieldRecordID, id)
}

func Subject(subject string) slog.Attr {
	return slog.String(FieldSubject, subject)
}

func Country(country string) slog.Attr {
	return slog.String(FieldCountry, country)
}

func ClientID(id string) slog.Attr {
	return slog.String(FieldClientID, id)
}

func State(state string) slog.Attr {
	return slog.String(FieldState, state)
}

func Keywords(keywords string) slog.Attr {
	return slog.String(FieldKeywords, keywords)
}

// Attempt returns the reconnect attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// RetryDelay returns the delay before the next attempt.
func RetryDelay(d time.Duration) slog.Attr {
	return slog.Duration(FieldRetryDelay, d)
}
