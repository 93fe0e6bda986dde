package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, rejecting requests
	StateHalfOpen              // Probing whether the server recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the circuit breaker rejects a request
var ErrOpen = errors.New("circuit breaker is open")

// Breaker trips after consecutive transport failures and rejects further
// attempts until a cooldown passes. A single probe is let through in the
// half-open state; its outcome decides whether the circuit closes again.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	logger    zerolog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a breaker. Threshold and cooldown fall back to 5 failures and
// 30 seconds when zero.
func New(name string, threshold int, cooldown time.Duration, logger zerolog.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger.With().Str("component", "circuit-breaker").Str("name", name).Logger(),
		state:     StateClosed,
	}
}

// Execute runs fn when the circuit allows it and records the outcome.
// Rejected requests fail fast with ErrOpen without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		b.logger.Warn().
			Str("state", b.State().String()).
			Msg("Request rejected by circuit breaker")
		return ErrOpen
	}

	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return true

	case StateHalfOpen:
		// One probe at a time
		if b.probing {
			return false
		}
		b.probing = true
		return true

	default:
		return true
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if err != nil {
			b.openedAt = time.Now()
			b.transition(StateOpen)
		} else {
			b.transition(StateClosed)
		}
		return
	}

	if err != nil {
		b.failures++
		if b.state == StateClosed && b.failures >= b.threshold {
			b.openedAt = time.Now()
			b.transition(StateOpen)
		}
		return
	}

	b.failures = 0
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to
	b.failures = 0

	b.logger.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker state changed")
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen returns true if requests are currently rejected
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen && time.Since(b.openedAt) < b.cooldown
}

// Stats returns circuit breaker statistics
func (b *Breaker) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		"name":             b.name,
		"state":            b.state.String(),
		"failures":         b.failures,
		"threshold":        b.threshold,
		"cooldown_seconds": b.cooldown.Seconds(),
	}
}
