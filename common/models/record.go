// Package models defines the records that flow from the upstream firehose
// through the queue into the processed-record store.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DateBucketLayout formats the UTC calendar day of a record.
const DateBucketLayout = "2006-01-02"

var (
	ErrMissingID        = errors.New("record has no id")
	ErrInvalidCreatedAt = errors.New("record created_at is not an RFC 3339 timestamp")
)

// StreamItem is the upstream wire envelope; each stream line holds one.
// Only the fields firehose reads are modelled; Raw keeps the line as sent.
type StreamItem struct {
	Data StreamRecord `json:"data"`

	// Raw is the original encoded item, set by ParseStreamItem.
	Raw json.RawMessage `json:"-"`
}

// StreamRecord is a single post from the filtered stream.
type StreamRecord struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	// CreatedAt is kept exactly as the source sent it.
	CreatedAt string `json:"created_at"`
	Geo       *Geo   `json:"geo,omitempty"`
}

// Geo carries optional location data. The upstream has been seen to put the
// GeoJSON "type" both on the outer object and on the point itself.
type Geo struct {
	Coordinates *Point `json:"coordinates,omitempty"`
	Type        string `json:"type,omitempty"`
	PlaceID     string `json:"place_id,omitempty"`
}

// Point holds [lat, long].
type Point struct {
	Coordinates []float64 `json:"coordinates"`
	Type        string    `json:"type,omitempty"`
}

// ParseError reports an upstream line that could not become a StreamItem.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse stream line %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

const maxErrorLine = 256

// ParseStreamItem decodes one upstream line.
func ParseStreamItem(line []byte) (StreamItem, error) {
	var item StreamItem
	if err := json.Unmarshal(line, &item); err != nil {
		return StreamItem{}, newParseError(line, err)
	}
	if item.Data.ID == "" {
		return StreamItem{}, newParseError(line, ErrMissingID)
	}
	if _, err := item.Data.CreatedTime(); err != nil {
		return StreamItem{}, newParseError(line, err)
	}
	item.Raw = append(json.RawMessage(nil), line...)
	return item, nil
}

func newParseError(line []byte, err error) *ParseError {
	s := string(line)
	if len(s) > maxErrorLine {
		s = s[:maxErrorLine] + "..."
	}
	return &ParseError{Line: s, Err: err}
}

// Marshal returns the item in the upstream wire shape: the original bytes
// when the item was parsed, otherwise the modelled fields.
func (i StreamItem) Marshal() ([]byte, error) {
	if len(i.Raw) > 0 {
		return i.Raw, nil
	}
	return json.Marshal(i)
}

// CreatedTime parses CreatedAt.
func (r StreamRecord) CreatedTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCreatedAt, r.CreatedAt)
	}
	return t, nil
}

// DateBucket is the UTC calendar day of CreatedAt, formatted yyyy-MM-dd.
func (r StreamRecord) DateBucket() (string, error) {
	t, err := r.CreatedTime()
	if err != nil {
		return "", err
	}
	return t.UTC().Format(DateBucketLayout), nil
}

// LatLong returns the record's point when it has a usable one.
func (r StreamRecord) LatLong() (lat, long float64, ok bool) {
	if r.Geo == nil || r.Geo.Coordinates == nil || len(r.Geo.Coordinates.Coordinates) < 2 {
		return 0, 0, false
	}
	c := r.Geo.Coordinates.Coordinates
	return c[0], c[1], true
}

// ProcessedRecord is the write-once row kept for every distinct record id.
type ProcessedRecord struct {
	ID          string          `json:"record_id"`
	DateBucket  string          `json:"date_bucket"`
	Raw         json.RawMessage `json:"raw"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// NewProcessedRecord builds the stored form of item. raw is the message body
// exactly as it came off the queue.
func NewProcessedRecord(item StreamItem, raw []byte, now time.Time) (*ProcessedRecord, error) {
	bucket, err := item.Data.DateBucket()
	if err != nil {
		return nil, err
	}
	return &ProcessedRecord{
		ID:          item.Data.ID,
		DateBucket:  bucket,
		Raw:         append(json.RawMessage(nil), raw...),
		ProcessedAt: now.UTC(),
	}, nil
}
