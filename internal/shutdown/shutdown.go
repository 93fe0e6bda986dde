package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Closer is a component that can be shut down gracefully
type Closer interface {
	Close() error
}

// Func is a cleanup function run during shutdown
type Func func(ctx context.Context) error

// Coordinator runs registered cleanup steps in priority order when the
// process stops, either by signal or programmatically
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	steps []step

	shutdownOnce sync.Once
	triggerOnce  sync.Once // Separate Once so TriggerShutdown cannot race the channel close
	shutdownCh   chan struct{}
}

type step struct {
	name     string
	priority int // Lower = run first
	run      Func
}

// New creates a new shutdown coordinator
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Register adds a cleanup function. Priority determines order, lower runs first.
func (c *Coordinator) Register(name string, priority int, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = append(c.steps, step{name: name, priority: priority, run: fn})

	c.logger.Debug().
		Str("name", name).
		Int("priority", priority).
		Msg("Registered shutdown step")
}

// RegisterCloser adds a component whose Close method runs at shutdown
func (c *Coordinator) RegisterCloser(name string, priority int, closer Closer) {
	c.Register(name, priority, func(context.Context) error {
		return closer.Close()
	})
}

// WaitForSignal blocks until a shutdown signal is received or a shutdown is
// triggered programmatically
func (c *Coordinator) WaitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-quit:
		c.logger.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		return sig
	case <-c.shutdownCh:
		return syscall.SIGTERM
	}
}

// Shutdown runs all registered steps in priority order. Steps that miss the
// coordinator timeout are skipped. Safe to call more than once, later calls
// return nil without doing anything.
func (c *Coordinator) Shutdown() error {
	var shutdownErr error

	c.shutdownOnce.Do(func() {
		c.triggerOnce.Do(func() {
			close(c.shutdownCh)
		})

		c.mu.Lock()
		steps := make([]step, len(c.steps))
		copy(steps, c.steps)
		c.mu.Unlock()

		sort.SliceStable(steps, func(i, j int) bool {
			return steps[i].priority < steps[j].priority
		})

		c.logger.Info().
			Dur("timeout", c.timeout).
			Int("steps", len(steps)).
			Msg("Starting graceful shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		start := time.Now()

		for _, s := range steps {
			select {
			case <-ctx.Done():
				c.logger.Warn().
					Str("step", s.name).
					Msg("Shutdown timeout reached, skipping remaining steps")
				shutdownErr = ctx.Err()
				return
			default:
			}

			c.logger.Debug().
				Str("step", s.name).
				Int("priority", s.priority).
				Msg("Running shutdown step")

			if err := s.run(ctx); err != nil {
				c.logger.Error().
					Err(err).
					Str("step", s.name).
					Msg("Shutdown step failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		c.logger.Info().
			Dur("duration", time.Since(start)).
			Msg("Graceful shutdown complete")
	})

	return shutdownErr
}

// TriggerShutdown unblocks WaitForSignal without an OS signal.
// Safe to call from multiple goroutines concurrently.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() {
		c.logger.Info().Msg("Programmatic shutdown triggered")
		close(c.shutdownCh)
	})
}

// Priorities for common steps (use these as guidelines)
const (
	PriorityScheduler = 10 // Stop producing new writes first
	PriorityPublisher = 20 // Disconnect brokers
	PriorityClient    = 30 // Drain and close the Arc client
	PrioritySpool     = 40 // Seal the spool last
)
