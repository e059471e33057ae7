// Package shutdown stops the server's components in phase order.
//
// Lower phases run first; steps that share a phase run concurrently:
//
//	coord := shutdown.New(shutdown.Config{Timeout: 15 * time.Second, Logger: logger})
//	coord.RegisterFunc("transport", shutdown.PhaseIntake, stopTransport)
//	coord.RegisterFunc("engine", shutdown.PhaseBackends, closeEngine)
//	coord.RegisterFunc("telemetry", shutdown.PhaseTelemetry, provider.Shutdown)
//
//	ctx, stop := shutdown.NotifyContext(context.Background())
//	defer stop()
//	<-ctx.Done()
//	coord.ShutdownWithTimeout(0)
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/skillsynth/logging"
)

// Phases used by the server.
const (
	PhaseIntake    = 10 // stop accepting requests, drain in-flight ones
	PhaseBackends  = 20 // close index and catalog handles
	PhaseTelemetry = 30 // flush spans
)

var (
	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrStepFailed indicates one or more steps returned an error.
	ErrStepFailed = errors.New("one or more shutdown steps failed")
)

// Handler is implemented by components that need graceful shutdown. The
// context is done when the shutdown timeout is reached.
type Handler interface {
	OnShutdown(ctx context.Context) error
}

// Func adapts a function to Handler.
type Func func(ctx context.Context) error

// OnShutdown implements Handler.
func (f Func) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// StepResult is the outcome of one registered step.
type StepResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a whole shutdown.
type Result struct {
	Duration time.Duration
	Steps    []StepResult
	Err      error
}

// Failed reports whether any step failed or the timeout was hit.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedSteps returns the names of the steps that failed.
func (r *Result) FailedSteps() []string {
	var failed []string
	for _, s := range r.Steps {
		if s.Err != nil {
			failed = append(failed, s.Name)
		}
	}
	return failed
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds ShutdownWithTimeout(0). Default: 30s
	Timeout time.Duration

	// StopOnError skips later phases once a step fails.
	StopOnError bool

	Logger *logging.Logger
}

type step struct {
	name    string
	phase   int
	handler Handler
}

// Coordinator runs registered steps once, in phase order.
type Coordinator struct {
	config Config

	mu     sync.Mutex
	steps  []step
	once   sync.Once
	done   chan struct{}
	result *Result
}

// New creates a coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Coordinator{
		config: cfg,
		done:   make(chan struct{}),
	}
}

// Register adds a step.
func (c *Coordinator) Register(name string, phase int, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step{name: name, phase: phase, handler: h})
}

// RegisterFunc adds a function step.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	c.Register(name, phase, Func(fn))
}

// Shutdown runs every step. Only the first call does work; later calls
// wait for it and return its error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.result = c.run(ctx)
		close(c.done)
	})
	<-c.done
	return c.result.Err
}

// ShutdownWithTimeout calls Shutdown with a deadline. A zero timeout uses
// the configured one.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// Done is closed when shutdown has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Result returns the shutdown result, or nil before Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) *Result {
	start := time.Now()
	c.mu.Lock()
	steps := append([]step(nil), c.steps...)
	c.mu.Unlock()

	sort.SliceStable(steps, func(i, j int) bool { return steps[i].phase < steps[j].phase })

	result := &Result{}
	for _, group := range groupByPhase(steps) {
		if ctx.Err() != nil {
			result.Err = ErrTimeout
			break
		}

		results := c.runPhase(ctx, group)
		result.Steps = append(result.Steps, results...)

		failed := false
		for _, r := range results {
			if r.Err != nil {
				failed = true
			}
		}
		if failed {
			result.Err = ErrStepFailed
			if c.config.StopOnError {
				break
			}
		}
	}
	result.Duration = time.Since(start)

	fields := map[string]interface{}{"duration_ms": result.Duration.Milliseconds()}
	if result.Err != nil {
		fields["error"] = result.Err.Error()
		fields["failed"] = result.FailedSteps()
		c.config.Logger.Warn("shutdown_complete", fields)
	} else {
		c.config.Logger.Info("shutdown_complete", fields)
	}
	return result
}

func (c *Coordinator) runPhase(ctx context.Context, steps []step) []StepResult {
	results := make([]StepResult, len(steps))
	var wg sync.WaitGroup
	for i, s := range steps {
		wg.Add(1)
		go func(i int, s step) {
			defer wg.Done()
			start := time.Now()
			err := s.handler.OnShutdown(ctx)
			results[i] = StepResult{Name: s.name, Phase: s.phase, Duration: time.Since(start), Err: err}

			fields := map[string]interface{}{
				"step":        s.name,
				"phase":       s.phase,
				"duration_ms": results[i].Duration.Milliseconds(),
			}
			if err != nil {
				fields["error"] = err.Error()
				c.config.Logger.Warn("shutdown_step_failed", fields)
				return
			}
			c.config.Logger.Debug("shutdown_step", fields)
		}(i, s)
	}
	wg.Wait()
	return results
}

// groupByPhase splits phase-sorted steps into runs of equal phase.
func groupByPhase(steps []step) [][]step {
	var groups [][]step
	for i := 0; i < len(steps); {
		j := i
		for j < len(steps) && steps[j].phase == steps[i].phase {
			j++
		}
		groups = append(groups, steps[i:j])
		i = j
	}
	return groups
}

// NotifyContext returns a context that is done on SIGINT or SIGTERM.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
