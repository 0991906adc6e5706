package session

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ReconnectPolicy bounds channel recovery. Delays start at InitialInterval
// and grow by Multiplier up to MaxInterval, without jitter, so the schedule
// never decreases. After MaxAttempts failed attempts the client gives up.
type ReconnectPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxAttempts     int
}

// DefaultReconnectPolicy returns 1s, 2s, 4s, 8s, 16s.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     30 * time.Second,
		MaxAttempts:     5,
	}
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	def := DefaultReconnectPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = def.MaxAttempts
	}
	return p
}

func (p ReconnectPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Schedule returns the delay before each of the MaxAttempts attempts.
func (p ReconnectPolicy) Schedule() []time.Duration {
	p = p.withDefaults()
	b := p.newBackOff()
	out := make([]time.Duration, p.MaxAttempts)
	for i := range out {
		out[i] = b.NextBackOff()
	}
	return out
}
