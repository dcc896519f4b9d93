// Package retry runs an operation a bounded number of times with a fixed pause between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultAttempts = 2
	DefaultSleep    = time.Second
)

// Config bounds a retried operation.
type Config struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	Sleep    time.Duration
	// Metadata is caller context attached to the final fault.
	Metadata map[string]any
}

// dontRetry marks an error that must not consume further attempts.
type dontRetry struct{ err error }

func (d *dontRetry) Error() string { return d.err.Error() }
func (d *dontRetry) Unwrap() error { return d.err }

// DontRetry wraps err so Do returns it at once.
func DontRetry(err error) error {
	if err == nil {
		return nil
	}
	return &dontRetry{err: err}
}

// IsDontRetry reports whether err carries the do-not-retry mark.
func IsDontRetry(err error) bool {
	var d *dontRetry
	return errors.As(err, &d)
}

// Fault is the error Do returns once it gives up.
type Fault struct {
	Label     string
	Attempts  int
	Retriable bool
	Err       error
	context   map[string]any
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", f.Label, f.Attempts, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Metadata returns the caller context together with the diagnostic keys retriable,
// exception_name and exception_message.
func (f *Fault) Metadata() map[string]any {
	md := make(map[string]any, len(f.context)+3)
	for k, v := range f.context {
		md[k] = v
	}
	md["retriable"] = f.Retriable
	md["exception_name"] = errorName(f.Err)
	md["exception_message"] = f.Err.Error()
	return md
}

// errorName is the type name of the innermost error in the chain, without the package prefix.
func errorName(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.String()
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Do calls fn until it succeeds, returns a DontRetry error, or the attempt budget is spent.
// onFail, when set, is called before every pause with the failed attempt number.
func Do(ctx context.Context, cfg Config, logger *zap.Logger, label string, fn func(ctx context.Context) error, onFail func(attempt int, err error)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	sleep := cfg.Sleep
	if sleep < 0 {
		sleep = DefaultSleep
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(sleep)
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	calls := 0
	operation := func() error {
		calls++
		err := fn(ctx)
		if err != nil && IsDontRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("Attempt failed, retrying.",
			zap.String("label", label),
			zap.Int("attempt", calls),
			zap.Duration("next_in", next),
			zap.Error(err))
		if onFail != nil {
			onFail(calls, err)
		}
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}

	fault := &Fault{
		Label:     label,
		Attempts:  calls,
		Retriable: !IsDontRetry(err),
		Err:       err,
		context:   cfg.Metadata,
	}
	logger.Error("Operation failed.",
		zap.String("label", label),
		zap.Int("attempts", calls),
		zap.Bool("retriable", fault.Retriable),
		zap.Error(err))
	return fault
}
