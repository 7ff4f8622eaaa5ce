// Package retry runs operations with jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

const (
	DefaultRetryCount = 5
	DefaultRetryWait  = 2 * time.Second
	// MaxRetryWait caps the doubled wait between retries.
	MaxRetryWait = 5 * time.Minute
)

// Executor retries failed operations. Each retry waits a random duration in
// [0, wait] and then doubles wait.
type Executor struct {
	retryCount  int
	retryWait   time.Duration
	noRetry     []error
	noRetryFunc func(error) bool
	fallback    func(error) error
	logger      *slog.Logger
	sleep       func(context.Context, time.Duration) error
	jitter      func(time.Duration) time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

func WithRetryCount(n int) Option {
	return func(e *Executor) { e.retryCount = n }
}

func WithRetryWait(d time.Duration) Option {
	return func(e *Executor) { e.retryWait = d }
}

// WithNoRetry lists errors (matched with errors.Is) that fail immediately.
func WithNoRetry(errs ...error) Option {
	return func(e *Executor) { e.noRetry = append(e.noRetry, errs...) }
}

// WithNoRetryFunc classifies errors that fail immediately.
func WithNoRetryFunc(fn func(error) bool) Option {
	return func(e *Executor) { e.noRetryFunc = fn }
}

// WithFallback is called with the terminal error; its result is returned instead.
func WithFallback(fn func(error) error) Option {
	return func(e *Executor) { e.fallback = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithSleep replaces the backoff sleep.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithJitter replaces the random draw of a wait in [0, max].
func WithJitter(fn func(max time.Duration) time.Duration) Option {
	return func(e *Executor) { e.jitter = fn }
}

// New creates an Executor with 5 retries starting at a 2 second wait.
func New(opts ...Option) *Executor {
	e := &Executor{
		retryCount: DefaultRetryCount,
		retryWait:  DefaultRetryWait,
		logger:     slog.Default(),
		sleep:      sleepContext,
		jitter:     uniform,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) RetryCount() int          { return e.retryCount }
func (e *Executor) RetryWait() time.Duration { return e.retryWait }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextWait(wait time.Duration) time.Duration {
	switch {
	case wait >= MaxRetryWait:
		return wait
	case wait > MaxRetryWait/2:
		return MaxRetryWait
	default:
		return wait * 2
	}
}

func uniform(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

type callConfig struct {
	retryCount int
	retryWait  time.Duration
	fallback   func(error) error
}

// CallOption overrides the executor defaults for a single call.
type CallOption func(*callConfig)

func RetryCount(n int) CallOption {
	return func(c *callConfig) { c.retryCount = n }
}

func RetryWait(d time.Duration) CallOption {
	return func(c *callConfig) { c.retryWait = d }
}

func Fallback(fn func(error) error) CallOption {
	return func(c *callConfig) { c.fallback = fn }
}

func (e *Executor) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, target := range e.noRetry {
		if errors.Is(err, target) {
			return false
		}
	}
	if e.noRetryFunc != nil && e.noRetryFunc(err) {
		return false
	}
	return true
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// retries run out. Terminal errors go through the fallback when one is set.
func (e *Executor) Do(ctx context.Context, op func(context.Context) error, opts ...CallOption) error {
	cfg := callConfig{
		retryCount: e.retryCount,
		retryWait:  e.retryWait,
		fallback:   e.fallback,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	fail := func(err error) error {
		if cfg.fallback != nil {
			return cfg.fallback(err)
		}
		return err
	}

	remaining, wait := cfg.retryCount, cfg.retryWait
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		e.logger.Debug(fmt.Sprintf("attempt %d failed: %v", attempt, err))

		if !e.retryable(err) {
			return fail(err)
		}
		if remaining <= 0 {
			e.logger.Error(fmt.Sprintf("❌ Giving up after %d attempts: %v", attempt, err))
			return fail(err)
		}
		remaining--

		delay := e.jitter(wait)
		wait = nextWait(wait)
		e.logger.Debug(fmt.Sprintf("retrying in %s, %d retries left", delay, remaining))
		if err := e.sleep(ctx, delay); err != nil {
			return fail(err)
		}
	}
}

// Execute is Do for operations that return a value.
func Execute[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error), opts ...CallOption) (T, error) {
	var result T
	err := e.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, opts...)
	return result, err
}
