// Package database bounds record store calls with per-operation deadlines.
package database

import (
	"context"
	"time"
)

// Default deadlines per operation class.
const (
	DefaultQueryTimeout = 5 * time.Second  // single page read, ping
	DefaultWriteTimeout = 10 * time.Second // conditional insert
	DefaultBulkTimeout  = 60 * time.Second // full scan, migrations
)

// Timeouts configures the deadline applied to each operation class. Zero
// fields fall back to the defaults.
type Timeouts struct {
	Query time.Duration `mapstructure:"query"`
	Write time.Duration `mapstructure:"write"`
	Bulk  time.Duration `mapstructure:"bulk"`
}

// DefaultTimeouts returns the package defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{Query: DefaultQueryTimeout, Write: DefaultWriteTimeout, Bulk: DefaultBulkTimeout}
}

// OrDefault fills zero fields from DefaultTimeouts.
func (t Timeouts) OrDefault() Timeouts {
	def := DefaultTimeouts()
	if t.Query <= 0 {
		t.Query = def.Query
	}
	if t.Write <= 0 {
		t.Write = def.Write
	}
	if t.Bulk <= 0 {
		t.Bulk = def.Bulk
	}
	return t
}

func (t Timeouts) QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, t.OrDefault().Query)
}

func (t Timeouts) WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, t.OrDefault().Write)
}

func (t Timeouts) BulkContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, t.OrDefault().Bulk)
}
