// Package backoff computes the delay before the next upstream reconnect.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// DefaultDelay is the fixed reconnect delay.
const DefaultDelay = 5 * time.Second

// Policy maps a zero-based consecutive failure count to a delay.
type Policy interface {
	Next(attempt int) time.Duration
}

// Fixed waits the same Delay after every failure.
type Fixed struct {
	Delay time.Duration
}

func (f Fixed) Next(int) time.Duration {
	return f.Delay
}

// Exponential multiplies Initial by Multiplier per attempt, capped at Max,
// then adds up to Jitter (a fraction of the delay) of random spread.
type Exponential struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

func (e Exponential) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := e.Multiplier
	if mult < 1 {
		mult = 2
	}

	d := float64(e.Initial) * math.Pow(mult, float64(attempt))
	if e.Max > 0 && d > float64(e.Max) {
		d = float64(e.Max)
	}
	delay := time.Duration(d)

	if e.Jitter > 0 && delay > 0 {
		spread := int64(float64(delay) * e.Jitter)
		if spread > 0 {
			delay += time.Duration(rand.Int64N(spread))
		}
	}
	return delay
}

// Config selects a policy.
type Config struct {
	// Kind is "fixed" or "exponential".
	Kind       string        `mapstructure:"kind"`
	Delay      time.Duration `mapstructure:"delay"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     float64       `mapstructure:"jitter"`
}

// New builds the policy described by cfg.
func New(cfg Config) (Policy, error) {
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}

	switch cfg.Kind {
	case "", "fixed":
		return Fixed{Delay: delay}, nil
	case "exponential":
		max := cfg.Max
		if max <= 0 {
			max = 5 * time.Minute
		}
		if max < delay {
			return nil, fmt.Errorf("backoff: max %s is below initial delay %s", max, delay)
		}
		jitter := cfg.Jitter
		if jitter < 0 || jitter > 1 {
			return nil, fmt.Errorf("backoff: jitter %v must be within [0,1]", jitter)
		}
		return Exponential{Initial: delay, Max: max, Multiplier: cfg.Multiplier, Jitter: jitter}, nil
	default:
		return nil, fmt.Errorf("backoff: unknown kind %q", cfg.Kind)
	}
}
