// Package resilience wraps upstream calls with a per-call timeout, a rate
// limiter, a circuit breaker and bounded exponential backoff.
package resilience

import (
	"context"
	stderrors "errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/logging"
)

const (
	defaultInitBackoff = 1 * time.Second
	defaultMaxBackoff  = 60 * time.Second
	backoffFactor      = 2.0
)

// Policy configures a Guard. Zero values disable the matching feature:
// no timeout, no retries, no rate limit, no breaker.
type Policy struct {
	// Name identifies the upstream (embed, generate, index).
	Name string

	Timeout     time.Duration
	MaxRetries  int
	InitBackoff time.Duration
	MaxBackoff  time.Duration

	// RateLimit is requests per second; Burst defaults to 1.
	RateLimit float64
	Burst     int

	// BreakerThreshold is the number of consecutive failures that opens
	// the breaker. BreakerTimeout is how long it stays open.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

// StateHook observes breaker transitions.
type StateHook func(name string, from, to gobreaker.State)

// CallHook observes one logical call (all attempts). It may return a
// derived context, for example one carrying a trace span.
type CallHook func(ctx context.Context, upstream, op string) (context.Context, func(err error))

// Option configures a Guard.
type Option func(*Guard)

// WithLogger logs breaker transitions and retries.
func WithLogger(l *logging.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithStateHook registers a breaker transition observer.
func WithStateHook(h StateHook) Option {
	return func(g *Guard) { g.hooks = append(g.hooks, h) }
}

// WithCallHook registers a call observer.
func WithCallHook(h CallHook) Option {
	return func(g *Guard) { g.callHooks = append(g.callHooks, h) }
}

// Guard applies a Policy around calls to one upstream.
// A Guard is safe for concurrent use.
type Guard struct {
	policy  Policy
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[struct{}]
	logger  *logging.Logger
	hooks   []StateHook

	callHooks []CallHook
}

// New creates a Guard for the given policy.
func New(p Policy, opts ...Option) *Guard {
	g := &Guard{policy: p, logger: logging.Nop()}
	for _, opt := range opts {
		opt(g)
	}

	if p.RateLimit > 0 {
		burst := p.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(p.RateLimit), burst)
	}

	if p.BreakerThreshold > 0 {
		threshold := p.BreakerThreshold
		g.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        p.Name,
			MaxRequests: 1,
			Timeout:     p.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// Only upstream trouble counts against the breaker. Empty
			// results, bad output and caller cancellation do not.
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.IsTransient(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				g.logger.Warn("breaker_state", map[string]interface{}{
					"upstream": name,
					"from":     from.String(),
					"to":       to.String(),
				})
				for _, h := range g.hooks {
					h(name, from, to)
				}
			},
		})
	}
	return g
}

// Name returns the upstream name.
func (g *Guard) Name() string {
	return g.policy.Name
}

// State returns the breaker state. A guard without a breaker is always closed.
func (g *Guard) State() gobreaker.State {
	if g.cb == nil {
		return gobreaker.StateClosed
	}
	return g.cb.State()
}

// Do runs fn under the policy. op names the operation for observers. fn
// receives a context carrying the per-call deadline. Only retryable errors
// are retried, at most MaxRetries times.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	for _, h := range g.callHooks {
		var done func(error)
		ctx, done = h(ctx, g.policy.Name, op)
		defer func() { done(err) }()
	}
	return g.do(ctx, fn)
}

func (g *Guard) do(ctx context.Context, fn func(ctx context.Context) error) error {
	initBackoff, maxBackoff := g.backoffBounds()
	backoff := initBackoff

	for attempt := 0; ; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return g.contextError(ctx, err)
				}
				// the next token would arrive after the deadline
				return errors.New(errors.ErrCodeRateLimit, g.policy.Name+" rate limit exceeds deadline",
					errors.WithUpstream(g.policy.Name), errors.WithRetryable(false), errors.WithCause(err))
			}
		}

		err := g.once(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.IsRetryable(err) || attempt >= g.policy.MaxRetries {
			return err
		}

		g.logger.Debug("upstream_retry", map[string]interface{}{
			"upstream": g.policy.Name,
			"attempt":  attempt + 1,
			"backoff":  backoff.String(),
			"error":    err.Error(),
		})

		select {
		case <-ctx.Done():
			return g.contextError(ctx, ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (g *Guard) once(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx := ctx
	if g.policy.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.policy.Timeout)
		defer cancel()
	}

	run := func() error {
		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return g.contextError(ctx, ctx.Err())
		}
		if stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return errors.New(errors.ErrCodeTimeout, g.policy.Name+" call timed out after "+g.policy.Timeout.String(),
				errors.WithUpstream(g.policy.Name), errors.WithCause(err))
		}
		return err
	}

	if g.cb == nil {
		return run()
	}

	_, err := g.cb.Execute(func() (struct{}, error) {
		return struct{}{}, run()
	})
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.New(errors.ErrCodeCircuitOpen, g.policy.Name+" circuit open",
			errors.WithUpstream(g.policy.Name), errors.WithRetryable(false), errors.WithCause(err))
	}
	return err
}

func (g *Guard) contextError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return errors.Wrap(err, g.policy.Name+" call aborted", errors.WithUpstream(g.policy.Name))
}

func (g *Guard) backoffBounds() (time.Duration, time.Duration) {
	initBackoff := g.policy.InitBackoff
	if initBackoff <= 0 {
		initBackoff = defaultInitBackoff
	}
	maxBackoff := g.policy.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	if maxBackoff < initBackoff {
		maxBackoff = initBackoff
	}
	return initBackoff, maxBackoff
}
