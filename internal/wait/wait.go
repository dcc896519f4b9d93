// Package wait implements the polling engine every lookup in the interaction layer goes through.
package wait

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultInterval = 250 * time.Millisecond
	DefaultTimeout  = 5 * time.Second
)

// Probe attempts to obtain a value. ok=false means "not yet"; a non-nil error stops polling.
type Probe[T any] func(ctx context.Context) (value T, ok bool, err error)

// Poller holds the timing policy shared by all waits of one component.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration

	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewPoller returns a poller with the given interval and default timeout. Non-positive values
// fall back to the package defaults.
func NewPoller(logger *zap.Logger, interval, timeout time.Duration) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout < 0 {
		timeout = DefaultTimeout
	}
	return &Poller{
		Interval: interval,
		Timeout:  timeout,
		logger:   logger.Named("wait"),
		sleep:    sleepCtx,
	}
}

// WithSleep replaces the sleep function. Tests use it to run waits without real time passing.
func (p *Poller) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Poller {
	cp := *p
	cp.sleep = sleep
	return &cp
}

// Sleep pauses for d using the poller's sleep function.
func (p *Poller) Sleep(ctx context.Context, d time.Duration) error {
	return p.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// For polls probe with the poller's default timeout.
func For[T any](ctx context.Context, p *Poller, label string, probe Probe[T]) (T, bool) {
	return ForTimeout(ctx, p, label, p.Timeout, probe)
}

// ForTimeout polls probe until it reports a value or timeout has elapsed. Elapsed time is the sum
// of the sleeps taken, not wall time; once it reaches the timeout one final probe decides.
// A probe error ends the wait as not found.
func ForTimeout[T any](ctx context.Context, p *Poller, label string, timeout time.Duration, probe Probe[T]) (T, bool) {
	var zero T
	var elapsed time.Duration
	attempts := 0
	for {
		attempts++
		v, ok, err := probe(ctx)
		if err != nil {
			p.logger.Error("Probe failed, giving up.",
				zap.String("label", label),
				zap.Int("attempt", attempts),
				zap.Error(err))
			return zero, false
		}
		if ok {
			return v, true
		}
		if elapsed >= timeout {
			p.logger.Debug("Wait timed out.",
				zap.String("label", label),
				zap.Duration("timeout", timeout),
				zap.Int("attempts", attempts))
			return zero, false
		}
		if err := p.sleep(ctx, p.Interval); err != nil {
			p.logger.Debug("Wait cancelled.", zap.String("label", label), zap.Error(err))
			return zero, false
		}
		elapsed += p.Interval
	}
}

// Until is For for a plain predicate.
func Until(ctx context.Context, p *Poller, label string, timeout time.Duration, cond func(ctx context.Context) (bool, error)) bool {
	_, ok := ForTimeout(ctx, p, label, timeout, func(ctx context.Context) (struct{}, bool, error) {
		ok, err := cond(ctx)
		return struct{}{}, ok, err
	})
	return ok
}
