// Package retry wraps remote calls with a growing per-attempt timeout, a
// bounded number of attempts and a jittered delay between them. Failures are
// reduced to two kinds: ErrAuthFailed and ErrUpdateFailed.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jameshartig/mygas/pkg/log"
)

const (
	// DefaultTimeout is the timeout of the first attempt. Attempt n gets n
	// times this.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxTries is the maximum number of attempts per call.
	DefaultMaxTries = 3
	// DefaultRetryDelay is the first delay between attempts and the base of
	// every later increment.
	DefaultRetryDelay = 10 * time.Second
)

var (
	// ErrAuthFailed means the credentials were rejected. It is never retried.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrUpdateFailed means the call kept failing until attempts ran out or
	// the parent context ended first.
	ErrUpdateFailed = errors.New("update failed")
	// ErrEmptyResult is returned by an attempt that succeeded without a result.
	ErrEmptyResult = errors.New("empty result")
)

var attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mygas",
	Name:      "api_attempts_total",
	Help:      "Attempts of remote MyGas calls by call and outcome.",
}, []string{"call", "outcome"})

// Policy configures Do.
type Policy struct {
	Timeout  time.Duration
	MaxTries int
	Delay    time.Duration

	// IsAuth reports whether err means the credentials were rejected.
	IsAuth func(err error) bool

	// Jitter returns a random duration in [0, n). Defaults to math/rand.
	Jitter func(n time.Duration) time.Duration
	// Timer is used to wait between attempts. Defaults to a real timer.
	Timer backoff.Timer
}

// DefaultPolicy returns the standard policy with no auth classifier.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:  DefaultTimeout,
		MaxTries: DefaultMaxTries,
		Delay:    DefaultRetryDelay,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.MaxTries <= 0 {
		p.MaxTries = DefaultMaxTries
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.Jitter == nil {
		p.Jitter = func(n time.Duration) time.Duration {
			if n <= 0 {
				return 0
			}
			return rand.N(n)
		}
	}
	return p
}

// Func is a single remote call.
type Func[T any] func(ctx context.Context) (T, error)

// Do runs fn under p. A nil pointer, slice, map or interface result counts as
// empty and is retried like any other failure. Zero numbers, empty strings and
// empty non-nil slices are valid results.
func Do[T any](ctx context.Context, p Policy, name string, fn Func[T]) (T, error) {
	return DoChecked(ctx, p, name, fn, IsNil[T])
}

// DoChecked is Do with a caller supplied emptiness check. A nil check accepts
// every successful result.
func DoChecked[T any](ctx context.Context, p Policy, name string, fn Func[T], empty func(T) bool) (T, error) {
	p = p.withDefaults()
	var zero T
	var attempt int

	op := func() (T, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(attempt)*p.Timeout)
		defer cancel()

		res, err := fn(attemptCtx)
		if err != nil {
			if p.IsAuth != nil && p.IsAuth(err) {
				attemptsTotal.WithLabelValues(name, "auth").Inc()
				log.Ctx(ctx).WarnContext(ctx, "api call rejected credentials", slog.String("call", name), slog.Any("error", err))
				return zero, backoff.Permanent(fmt.Errorf("%w: %s: %w", ErrAuthFailed, name, err))
			}
			if ctx.Err() != nil {
				return zero, backoff.Permanent(ctx.Err())
			}
			outcome := "error"
			if errors.Is(err, context.DeadlineExceeded) {
				outcome = "timeout"
			}
			attemptsTotal.WithLabelValues(name, outcome).Inc()
			log.Ctx(ctx).DebugContext(ctx, "api call attempt failed", slog.String("call", name), slog.Int("attempt", attempt), slog.Any("error", err))
			return zero, err
		}
		if empty != nil && empty(res) {
			attemptsTotal.WithLabelValues(name, "empty").Inc()
			log.Ctx(ctx).ErrorContext(ctx, "api call returned an empty result", slog.String("call", name), slog.Int("attempt", attempt))
			return zero, fmt.Errorf("%s: %w", name, ErrEmptyResult)
		}
		attemptsTotal.WithLabelValues(name, "ok").Inc()
		return res, nil
	}

	notify := func(err error, d time.Duration) {
		log.Ctx(ctx).WarnContext(
			ctx,
			"api call failed, waiting before next attempt",
			slog.String("call", name),
			slog.Int("attempt", attempt),
			slog.Int("maxTries", p.MaxTries),
			slog.Duration("delay", d),
			slog.Any("error", err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(newJitterBackOff(p.Delay, p.Jitter), uint64(p.MaxTries-1)), ctx)
	res, err := backoff.RetryNotifyWithTimerAndData(op, b, notify, p.Timer)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) {
			return zero, err
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			log.Ctx(ctx).WarnContext(ctx, "api call abandoned", slog.String("call", name), slog.Int("attempts", attempt), slog.Any("error", err))
			return zero, fmt.Errorf("%w: %s abandoned: %w", ErrUpdateFailed, name, err)
		}
		log.Ctx(ctx).ErrorContext(ctx, "api call failed", slog.String("call", name), slog.Int("attempts", attempt), slog.Any("error", err))
		return zero, fmt.Errorf("%w: %s after %d attempts: %w", ErrUpdateFailed, name, attempt, err)
	}
	return res, nil
}

// IsNil reports whether v is a nil pointer, slice, map, interface, chan or
// func.
func IsNil[T any](v T) bool {
	rv := reflect.ValueOf(&v).Elem()
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}

// jitterBackOff waits base first, then grows the delay by base plus a random
// share of base after every attempt.
type jitterBackOff struct {
	base   time.Duration
	next   time.Duration
	jitter func(time.Duration) time.Duration
}

func newJitterBackOff(base time.Duration, jitter func(time.Duration) time.Duration) *jitterBackOff {
	return &jitterBackOff{base: base, next: base, jitter: jitter}
}

func (j *jitterBackOff) Reset() {
	j.next = j.base
}

func (j *jitterBackOff) NextBackOff() time.Duration {
	d := j.next
	j.next += j.base + j.jitter(j.base)
	return d
}
