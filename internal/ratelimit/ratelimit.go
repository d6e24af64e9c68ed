package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrBurstExceeded is returned when a wait can never be satisfied
var ErrBurstExceeded = errors.New("ratelimit: request exceeds burst")

// Limiter is a token bucket shared by outbound clients (platform poller,
// Discord webhooks)
type Limiter struct {
	lim *rate.Limiter
	now func() time.Time
}

// New creates a limiter with the given rate and a burst of one second's worth
// of tokens (at least one)
func New(rps float64) *Limiter {
	if rps <= 0 {
		rps = 1.0
	}
	return NewWithBurst(rps, rps)
}

// NewWithBurst creates a limiter with an explicit bucket size
func NewWithBurst(rps, burst float64) *Limiter {
	if rps <= 0 {
		rps = 1.0
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		lim: rate.NewLimiter(rate.Limit(rps), int(burst)),
		now: time.Now,
	}
}

// Allow takes a token if one is available without blocking
func (l *Limiter) Allow() bool {
	return l.lim.AllowN(l.now(), 1)
}

// Wait blocks until a token is available or context is cancelled. A
// cancelled wait hands its reserved token back.
func (l *Limiter) Wait(ctx context.Context) error {
	now := l.now()
	r := l.lim.ReserveN(now, 1)
	if !r.OK() {
		return ErrBurstExceeded
	}

	delay := r.DelayFrom(now)
	if delay == 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		r.CancelAt(l.now())
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
