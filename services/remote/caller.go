package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	retrygo "github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 10 * time.Second
)

// Refresher renews credentials after an unauthorized response.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Options configures the backoff policy of a Caller.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultOptions returns three attempts starting at one second, doubling up to ten.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:  defaultMaxAttempts,
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
	}
}

// Option customises a Caller.
type Option func(*Caller)

// WithRefresher enables one credential refresh per call on unauthorized errors.
func WithRefresher(r Refresher) Option {
	return func(c *Caller) { c.refresher = r }
}

// WithClassifier replaces the default error classification.
func WithClassifier(fn func(error) Kind) Option {
	return func(c *Caller) { c.classify = fn }
}

// Caller executes remote operations with bounded exponential backoff.
type Caller struct {
	opts      Options
	classify  func(error) Kind
	refresher Refresher
	log       *zap.SugaredLogger
}

// NewCaller creates a Caller. Zero option values fall back to the defaults.
func NewCaller(opts Options, log *zap.SugaredLogger, options ...Option) *Caller {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = def.InitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Caller{opts: opts, classify: Classify, log: log}
	for _, o := range options {
		o(c)
	}
	return c
}

// With returns a copy of the caller with extra options applied.
func (c *Caller) With(options ...Option) *Caller {
	cp := *c
	for _, o := range options {
		o(&cp)
	}
	return &cp
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. Failures are reported as *UnavailableError.
func (c *Caller) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var (
		attempts  int
		refreshed bool
	)
	err := retrygo.Do(
		func() error {
			attempts++
			err := invoke(ctx, fn)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return retrygo.Unrecoverable(err)
			}
			kind := c.classify(err)
			switch {
			case kind == KindUnauthorized:
				if refreshed || c.refresher == nil {
					return retrygo.Unrecoverable(err)
				}
				refreshed = true
				if rerr := c.refresher.Refresh(ctx); rerr != nil {
					c.log.Warnw("credential refresh failed", "op", op, "error", rerr)
					return retrygo.Unrecoverable(fmt.Errorf("%w (refresh failed: %v)", err, rerr))
				}
				return err
			case kind.Retryable():
				return err
			default:
				return retrygo.Unrecoverable(err)
			}
		},
		retrygo.Context(ctx),
		retrygo.Attempts(uint(c.opts.MaxAttempts)),
		retrygo.Delay(c.opts.InitialDelay),
		retrygo.MaxDelay(c.opts.MaxDelay),
		retrygo.DelayType(func(uint, error, *retrygo.Config) time.Duration {
			return c.backoff(attempts)
		}),
		retrygo.LastErrorOnly(true),
		retrygo.OnRetry(func(n uint, err error) {
			c.log.Debugw("retrying remote call", "op", op, "attempt", n+1, "kind", c.classify(err).String(), "error", err)
		}),
	)
	if err == nil {
		return nil
	}
	return &UnavailableError{Op: op, Attempts: attempts, Err: err}
}

// Call is Do for operations that produce a value.
func Call[T any](ctx context.Context, c *Caller, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := c.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// backoff returns the wait after the given number of completed attempts.
func (c *Caller) backoff(completed int) time.Duration {
	d := c.opts.InitialDelay
	for i := 1; i < completed; i++ {
		d *= 2
		if d >= c.opts.MaxDelay {
			return c.opts.MaxDelay
		}
	}
	if d > c.opts.MaxDelay {
		return c.opts.MaxDelay
	}
	return d
}

var errPanic = errors.New("remote call panicked")

func invoke(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return fn(ctx)
}
