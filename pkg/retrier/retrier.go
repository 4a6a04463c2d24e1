// Package retrier retries idempotent calls with capped exponential backoff.
package retrier

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

const (
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 3
	defaultJitter          = 0.2
)

// permanentError stops the retry loop.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns err itself, unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retrier runs a function until it succeeds, fails permanently or runs out of attempts.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	jitter          float64
	retryIf         func(error) bool
	onRetry         func(attempt int, err error)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithInitialInterval sets the delay before the first retry.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) { r.initialInterval = d }
}

// WithMaxInterval caps the delay between retries.
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) { r.maxInterval = d }
}

// WithMultiplier sets the growth factor of the delay.
func WithMultiplier(m float64) Option {
	return func(r *Retrier) { r.multiplier = m }
}

// WithMaxRetries sets how many times a failed call is repeated.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) { r.maxRetries = n }
}

// WithJitter randomises each delay by up to ±j of its value.
func WithJitter(j float64) Option {
	return func(r *Retrier) { r.jitter = j }
}

// WithRetryIf retries only errors for which fn returns true.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = fn }
}

// WithOnRetry is called before each retry with the number of the failed attempt.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// New creates a Retrier.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
		jitter:          defaultJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxInterval < r.initialInterval {
		r.maxInterval = r.initialInterval
	}
	return r
}

// Backoff returns the delay before retry number attempt (1-based), without jitter.
func (r *Retrier) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(r.initialInterval) * math.Pow(r.multiplier, float64(attempt-1))
	if d > float64(r.maxInterval) || math.IsInf(d, 0) {
		return r.maxInterval
	}
	return time.Duration(d)
}

func (r *Retrier) delay(attempt int) time.Duration {
	d := r.Backoff(attempt)
	if r.jitter > 0 {
		d += time.Duration((rand.Float64()*2 - 1) * r.jitter * float64(d))
	}
	return max(d, 0)
}

func (r *Retrier) shouldRetry(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	return r.retryIf == nil || r.retryIf(err)
}

// Do calls fn at most maxRetries+1 times and returns the last error.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !r.shouldRetry(err) {
			var p *permanentError
			if errors.As(err, &p) {
				return p.err
			}
			return err
		}
		if attempt >= r.maxRetries {
			return err
		}
		if r.onRetry != nil {
			r.onRetry(attempt+1, err)
		}

		timer := time.NewTimer(r.delay(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// DoWithData is Do for functions that return a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}
