package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioLine = `{"data":{"id":"1737307461139980480","message":"hello","created_at":"2023-12-20T12:55:45.037Z","geo":{"coordinates":{"coordinates":[35.6,139.7],"type":"Point"}}}}`

func TestParseStreamItem(t *testing.T) {
	item, err := ParseStreamItem([]byte(scenarioLine))
	require.NoError(t, err)

	assert.Equal(t, "1737307461139980480", item.Data.ID)
	assert.Equal(t, "hello", item.Data.Message)
	assert.Equal(t, "2023-12-20T12:55:45.037Z", item.Data.CreatedAt)

	lat, long, ok := item.Data.LatLong()
	require.True(t, ok)
	assert.Equal(t, 35.6, lat)
	assert.Equal(t, 139.7, long)
}

func TestParseStreamItem_RoundTrip(t *testing.T) {
	lines := []string{
		scenarioLine,
		`{"data":{"id":"1","message":"no geo","created_at":"2024-01-01T00:00:00Z"}}`,
		`{"data":{"id":"2","message":"outer type","created_at":"2024-01-01T23:59:59.999+02:00","geo":{"coordinates":{"coordinates":[-33.8,151.2]},"type":"Point"}}}`,
	}

	for _, line := range lines {
		first, err := ParseStreamItem([]byte(line))
		require.NoError(t, err)

		encoded, err := first.Marshal()
		require.NoError(t, err)

		second, err := ParseStreamItem(encoded)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestStreamItem_MarshalKeepsUnmodelledFields(t *testing.T) {
	line := `{"data":{"id":"9","message":"m","created_at":"2024-01-01T00:00:00Z","author_id":"42"},"includes":{"places":[{"id":"p1"}]},"matching_rules":[{"tag":"t"}]}`

	item, err := ParseStreamItem([]byte(line))
	require.NoError(t, err)

	encoded, err := item.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, line, string(encoded))

	built := StreamItem{Data: StreamRecord{ID: "9", Message: "m", CreatedAt: "2024-01-01T00:00:00Z"}}
	encoded, err = built.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"id":"9","message":"m","created_at":"2024-01-01T00:00:00Z"}}`, string(encoded))
}

func TestParseStreamItem_Errors(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
	}{
		{name: "not json", line: `not json`},
		{name: "truncated", line: `{"data":{"id":"1"`},
		{name: "missing id", line: `{"data":{"message":"x","created_at":"2024-01-01T00:00:00Z"}}`, wantErr: ErrMissingID},
		{name: "bad created_at", line: `{"data":{"id":"1","created_at":"yesterday"}}`, wantErr: ErrInvalidCreatedAt},
		{name: "missing created_at", line: `{"data":{"id":"1"}}`, wantErr: ErrInvalidCreatedAt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStreamItem([]byte(tt.line))
			require.Error(t, err)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDateBucket(t *testing.T) {
	tests := []struct {
		createdAt string
		want      string
	}{
		{"2023-12-20T12:55:45.037Z", "2023-12-20"},
		{"2023-12-20T23:30:00-05:00", "2023-12-21"},
		{"2024-03-01T01:00:00+09:00", "2024-02-29"},
	}

	for _, tt := range tests {
		t.Run(tt.createdAt, func(t *testing.T) {
			got, err := StreamRecord{CreatedAt: tt.createdAt}.DateBucket()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLatLong_Missing(t *testing.T) {
	cases := []StreamRecord{
		{},
		{Geo: &Geo{}},
		{Geo: &Geo{Coordinates: &Point{}}},
		{Geo: &Geo{Coordinates: &Point{Coordinates: []float64{1}}}},
	}
	for _, r := range cases {
		_, _, ok := r.LatLong()
		assert.False(t, ok)
	}
}

func TestNewProcessedRecord(t *testing.T) {
	item, err := ParseStreamItem([]byte(scenarioLine))
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("x", 3600))
	rec, err := NewProcessedRecord(item, []byte(scenarioLine), now)
	require.NoError(t, err)

	assert.Equal(t, "1737307461139980480", rec.ID)
	assert.Equal(t, "2023-12-20", rec.DateBucket)
	assert.JSONEq(t, scenarioLine, string(rec.Raw))
	assert.Equal(t, time.UTC, rec.ProcessedAt.Location())
}
