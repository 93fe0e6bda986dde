package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// TestStateString tests the State.String() method
func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("State.String() = %s, want %s", got, tt.expected)
			}
		})
	}
}

// TestNew tests breaker creation and defaults
func TestNew(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("explicit settings", func(t *testing.T) {
		b := New("writes", 3, 10*time.Second, logger)

		if b.State() != StateClosed {
			t.Errorf("Initial state = %v, want Closed", b.State())
		}
		if b.threshold != 3 {
			t.Errorf("threshold = %d, want 3", b.threshold)
		}
	})

	t.Run("zero values fall back to defaults", func(t *testing.T) {
		b := New("writes", 0, 0, logger)

		if b.threshold != 5 {
			t.Errorf("threshold = %d, want 5", b.threshold)
		}
		if b.cooldown != 30*time.Second {
			t.Errorf("cooldown = %v, want 30s", b.cooldown)
		}
	})
}

// TestBreaker_Closed tests normal operation in closed state
func TestBreaker_Closed(t *testing.T) {
	b := New("test", 3, 100*time.Millisecond, zerolog.Nop())

	t.Run("allows requests when closed", func(t *testing.T) {
		callCount := 0
		err := b.Execute(func() error {
			callCount++
			return nil
		})

		if err != nil {
			t.Errorf("Execute returned error: %v", err)
		}
		if callCount != 1 {
			t.Errorf("callCount = %d, want 1", callCount)
		}
		if b.State() != StateClosed {
			t.Errorf("State = %v, want Closed", b.State())
		}
	})

	t.Run("resets failures on success", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			b.Execute(func() error {
				return errors.New("test error")
			})
		}

		b.Execute(func() error {
			return nil
		})

		stats := b.Stats()
		if stats["failures"].(int) != 0 {
			t.Errorf("failures = %d after success, want 0", stats["failures"])
		}
	})
}

// TestBreaker_Open tests transition to open state after failures
func TestBreaker_Open(t *testing.T) {
	b := New("test", 3, 100*time.Millisecond, zerolog.Nop())

	testErr := errors.New("test error")
	for i := 0; i < 3; i++ {
		b.Execute(func() error {
			return testErr
		})
	}

	if b.State() != StateOpen {
		t.Errorf("State = %v after 3 failures, want Open", b.State())
	}
	if !b.IsOpen() {
		t.Error("IsOpen = false after tripping, want true")
	}

	// Requests should be rejected when open
	callCount := 0
	err := b.Execute(func() error {
		callCount++
		return nil
	})

	if !errors.Is(err, ErrOpen) {
		t.Errorf("Execute error = %v, want ErrOpen", err)
	}
	if callCount != 0 {
		t.Error("Function was called when circuit is open")
	}
}

// TestBreaker_HalfOpenProbe tests the cooldown probe cycle
func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Run("successful probe closes", func(t *testing.T) {
		b := New("test", 2, 50*time.Millisecond, zerolog.Nop())

		for i := 0; i < 2; i++ {
			b.Execute(func() error { return errors.New("error") })
		}
		if b.State() != StateOpen {
			t.Fatalf("State = %v, want Open", b.State())
		}

		time.Sleep(60 * time.Millisecond)

		err := b.Execute(func() error { return nil })
		if err != nil {
			t.Errorf("Probe request failed: %v", err)
		}
		if b.State() != StateClosed {
			t.Errorf("State = %v after successful probe, want Closed", b.State())
		}
	})

	t.Run("failed probe reopens", func(t *testing.T) {
		b := New("test", 2, 50*time.Millisecond, zerolog.Nop())

		for i := 0; i < 2; i++ {
			b.Execute(func() error { return errors.New("error") })
		}

		time.Sleep(60 * time.Millisecond)

		b.Execute(func() error { return errors.New("still down") })

		if b.State() != StateOpen {
			t.Errorf("State = %v after failed probe, want Open", b.State())
		}

		// Back in cooldown: requests rejected again
		err := b.Execute(func() error { return nil })
		if !errors.Is(err, ErrOpen) {
			t.Errorf("Execute error = %v after reopening, want ErrOpen", err)
		}
	})
}

// TestBreaker_SingleProbe tests that only one probe runs in half-open
func TestBreaker_SingleProbe(t *testing.T) {
	b := New("test", 2, 50*time.Millisecond, zerolog.Nop())

	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errors.New("error") })
	}

	time.Sleep(60 * time.Millisecond)

	// Hold the probe slot open while a second request arrives
	release := make(chan struct{})
	probeStarted := make(chan struct{})
	var rejected int32

	go func() {
		b.Execute(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	if err := b.Execute(func() error { return nil }); errors.Is(err, ErrOpen) {
		atomic.AddInt32(&rejected, 1)
	}
	close(release)

	if atomic.LoadInt32(&rejected) != 1 {
		t.Error("second request during probe was not rejected")
	}
}

// TestBreaker_Concurrent tests thread safety
func TestBreaker_Concurrent(t *testing.T) {
	b := New("test", 100, time.Second, zerolog.Nop())

	var wg sync.WaitGroup
	var successCount int32
	var errorCount int32

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := b.Execute(func() error {
				if i%10 == 0 {
					return errors.New("error")
				}
				return nil
			})
			if err != nil && !errors.Is(err, ErrOpen) {
				atomic.AddInt32(&errorCount, 1)
			} else if err == nil {
				atomic.AddInt32(&successCount, 1)
			}
		}(i)
	}

	wg.Wait()

	total := successCount + errorCount
	if total != 100 {
		t.Errorf("Processed %d requests, expected 100", total)
	}
	if b.State() != StateClosed {
		t.Errorf("State = %v, want Closed", b.State())
	}
}

// TestBreaker_ErrorPropagation tests that function errors are returned
func TestBreaker_ErrorPropagation(t *testing.T) {
	b := New("test", 5, 30*time.Second, zerolog.Nop())

	expectedErr := errors.New("custom error")
	err := b.Execute(func() error {
		return expectedErr
	})

	if !errors.Is(err, expectedErr) {
		t.Errorf("Execute returned %v, want %v", err, expectedErr)
	}
}

// TestBreaker_ThresholdEdgeCases tests edge cases around thresholds
func TestBreaker_ThresholdEdgeCases(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("exactly at threshold", func(t *testing.T) {
		b := New("test", 3, time.Hour, logger)

		for i := 0; i < 2; i++ {
			b.Execute(func() error { return errors.New("error") })
		}
		if b.State() != StateClosed {
			t.Error("Circuit opened before reaching threshold")
		}

		b.Execute(func() error { return errors.New("error") })
		if b.State() != StateOpen {
			t.Error("Circuit should be open at threshold")
		}
	})

	t.Run("failures reset on success", func(t *testing.T) {
		b := New("test", 3, time.Hour, logger)

		b.Execute(func() error { return errors.New("error") })
		b.Execute(func() error { return errors.New("error") })

		b.Execute(func() error { return nil })

		b.Execute(func() error { return errors.New("error") })
		b.Execute(func() error { return errors.New("error") })

		if b.State() != StateClosed {
			t.Error("Circuit should still be closed - failures were reset")
		}
	})
}

// TestBreaker_Stats tests statistics reporting
func TestBreaker_Stats(t *testing.T) {
	b := New("write-stats", 5, 30*time.Second, zerolog.Nop())

	b.Execute(func() error { return nil })
	b.Execute(func() error { return errors.New("error") })

	stats := b.Stats()

	if stats["name"] != "write-stats" {
		t.Errorf("stats[name] = %v, want write-stats", stats["name"])
	}
	if stats["state"] != "closed" {
		t.Errorf("stats[state] = %v, want closed", stats["state"])
	}
	if stats["threshold"] != 5 {
		t.Errorf("stats[threshold] = %v, want 5", stats["threshold"])
	}
	if stats["cooldown_seconds"] != 30.0 {
		t.Errorf("stats[cooldown_seconds] = %v, want 30", stats["cooldown_seconds"])
	}
	if stats["failures"].(int) != 1 {
		t.Errorf("stats[failures] = %v, want 1", stats["failures"])
	}
}
