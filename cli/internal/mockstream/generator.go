// Package mockstream serves a stand-in for the upstream record stream and
// the geo API, for local runs and end-to-end tests.
package mockstream

import (
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/vertical-labs/firehose/common/models"
)

// createdAtLayout matches the upstream's millisecond UTC timestamps.
const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

// DefaultGeoRatio is the share of generated records that carry coordinates.
const DefaultGeoRatio = 8.0 / 21.0

// Generator produces random stream records. Safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	faker    *gofakeit.Faker
	geoRatio float64
	now      func() time.Time
}

// NewGenerator creates a generator. A zero seed picks a random one.
func NewGenerator(seed int64, geoRatio float64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if geoRatio < 0 || geoRatio > 1 {
		geoRatio = DefaultGeoRatio
	}
	return &Generator{
		faker:    gofakeit.New(seed),
		geoRatio: geoRatio,
		now:      time.Now,
	}
}

// Next returns a new record with a fresh id.
func (g *Generator) Next() models.StreamItem {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := models.StreamRecord{
		ID:        uuid.NewString(),
		Message:   g.faker.Sentence(g.faker.IntRange(5, 10)),
		CreatedAt: g.now().UTC().Format(createdAtLayout),
	}

	if g.faker.Float64Range(0, 1) < g.geoRatio {
		city := Cities[g.faker.IntRange(0, len(Cities)-1)]
		rec.Geo = &models.Geo{
			Coordinates: &models.Point{Coordinates: []float64{city.Lat, city.Long}},
			Type:        "Point",
		}
	}

	return models.StreamItem{Data: rec}
}
