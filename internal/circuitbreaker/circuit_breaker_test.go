package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	errTransient = errors.New("transient failure")
	errRejected  = errors.New("entity not found")
)

func newTestBreaker(t *testing.T, config Config) *CircuitBreaker {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	if config.Name == "" {
		config.Name = t.Name()
	}
	return New(config, logger)
}

func fail(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func succeed(context.Context) error { return nil }

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name        string
		scenario    func(t *testing.T, cb *CircuitBreaker)
		expectedEnd State
	}{
		{
			name: "closed_to_open_after_max_failures",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				for i := 0; i < 3; i++ {
					if err := cb.Execute(context.Background(), fail(errTransient)); err == nil {
						t.Error("Expected failure")
					}
				}
			},
			expectedEnd: StateOpen,
		},
		{
			name: "open_rejects_without_calling",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				for i := 0; i < 3; i++ {
					cb.Execute(context.Background(), fail(errTransient))
				}
				called := false
				err := cb.Execute(context.Background(), func(context.Context) error {
					called = true
					return nil
				})
				if !errors.Is(err, ErrCircuitBreakerOpen) {
					t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
				}
				if called {
					t.Error("Function must not run while the breaker is open")
				}
			},
			expectedEnd: StateOpen,
		},
		{
			name: "half_open_to_closed_on_success",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				for i := 0; i < 3; i++ {
					cb.Execute(context.Background(), fail(errTransient))
				}
				time.Sleep(60 * time.Millisecond)
				if err := cb.Execute(context.Background(), succeed); err != nil {
					t.Errorf("Expected success, got %v", err)
				}
			},
			expectedEnd: StateClosed,
		},
		{
			name: "half_open_to_open_on_failure",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				for i := 0; i < 3; i++ {
					cb.Execute(context.Background(), fail(errTransient))
				}
				time.Sleep(60 * time.Millisecond)
				cb.Execute(context.Background(), fail(errTransient))
			},
			expectedEnd: StateOpen,
		},
		{
			name: "success_resets_failure_count",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				cb.Execute(context.Background(), fail(errTransient))
				cb.Execute(context.Background(), fail(errTransient))
				cb.Execute(context.Background(), succeed)
				cb.Execute(context.Background(), fail(errTransient))
				cb.Execute(context.Background(), fail(errTransient))
			},
			expectedEnd: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := newTestBreaker(t, Config{
				MaxFailures: 3,
				Timeout:     50 * time.Millisecond,
				MaxRequests: 1,
			})

			tt.scenario(t, cb)

			if cb.State() != tt.expectedEnd {
				t.Errorf("Expected state %s, got %s", tt.expectedEnd, cb.State())
			}
		})
	}
}

func TestIsFailureFiltersErrors(t *testing.T) {
	cb := newTestBreaker(t, Config{
		MaxFailures: 2,
		Timeout:     time.Minute,
		IsFailure: func(err error) bool {
			return !errors.Is(err, errRejected)
		},
	})

	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), fail(errRejected))
		if !errors.Is(err, errRejected) {
			t.Fatalf("Expected the call's own error to be returned, got %v", err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected breaker to stay closed on non-failure errors, got %s", cb.State())
	}

	snapshot := cb.Snapshot()
	if snapshot.TotalFailures != 0 || snapshot.TotalSuccesses != 10 {
		t.Errorf("Unexpected counters: failures=%d successes=%d", snapshot.TotalFailures, snapshot.TotalSuccesses)
	}
}

func TestCallerCancellationDoesNotTrip(t *testing.T) {
	cb := newTestBreaker(t, Config{MaxFailures: 1, Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error {
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed breaker after caller cancellation, got %s", cb.State())
	}
}

func TestHalfOpenProbeLimit(t *testing.T) {
	cb := newTestBreaker(t, Config{
		MaxFailures: 1,
		Timeout:     20 * time.Millisecond,
		MaxRequests: 1,
	})

	cb.Execute(context.Background(), fail(errTransient))
	time.Sleep(30 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(context.Background(), succeed); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected second half-open probe to be rejected, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("Expected probe to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after successful probe, got %s", cb.State())
	}
}

func TestStateChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	done := make(chan struct{}, 4)

	cb := newTestBreaker(t, Config{
		MaxFailures: 1,
		Timeout:     time.Minute,
		OnStateChange: func(name string, from State, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
			done <- struct{}{}
		},
	})

	cb.Execute(context.Background(), fail(errTransient))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("State change callback was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("Unexpected transitions: %v", transitions)
	}
}

func TestPanickingCallbackIsRecovered(t *testing.T) {
	cb := newTestBreaker(t, Config{
		MaxFailures: 1,
		Timeout:     time.Minute,
		OnStateChange: func(string, State, State) {
			panic("callback exploded")
		},
	})

	cb.Execute(context.Background(), fail(errTransient))
	time.Sleep(20 * time.Millisecond)

	if cb.State() != StateOpen {
		t.Errorf("Expected open state, got %s", cb.State())
	}
}

func TestConfigDefaults(t *testing.T) {
	tests := []struct {
		name            string
		config          Config
		expectedName    string
		expectedMax     int
		expectedTimeout time.Duration
		expectedReqs    int
	}{
		{
			name:            "valid_config",
			config:          Config{Name: "catalog", MaxFailures: 5, Timeout: 30 * time.Second, MaxRequests: 3},
			expectedName:    "catalog",
			expectedMax:     5,
			expectedTimeout: 30 * time.Second,
			expectedReqs:    3,
		},
		{
			name:            "zero_values_get_defaults",
			config:          Config{},
			expectedName:    "unnamed",
			expectedMax:     5,
			expectedTimeout: 30 * time.Second,
			expectedReqs:    1,
		},
		{
			name:            "upper_bounds_are_capped",
			config:          Config{Name: "x", MaxFailures: 5000, Timeout: time.Hour, MaxRequests: 500},
			expectedName:    "x",
			expectedMax:     1000,
			expectedTimeout: 10 * time.Minute,
			expectedReqs:    100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logrus.New()
			logger.SetLevel(logrus.ErrorLevel)
			cb := New(tt.config, logger)

			if cb.name != tt.expectedName {
				t.Errorf("Expected name %q, got %q", tt.expectedName, cb.name)
			}
			if cb.maxFailures != tt.expectedMax {
				t.Errorf("Expected MaxFailures %d, got %d", tt.expectedMax, cb.maxFailures)
			}
			if cb.timeout != tt.expectedTimeout {
				t.Errorf("Expected Timeout %v, got %v", tt.expectedTimeout, cb.timeout)
			}
			if cb.maxRequests != tt.expectedReqs {
				t.Errorf("Expected MaxRequests %d, got %d", tt.expectedReqs, cb.maxRequests)
			}
		})
	}
}

func TestConcurrentExecuteKeepsCountersConsistent(t *testing.T) {
	cb := newTestBreaker(t, Config{
		MaxFailures: 3,
		Timeout:     10 * time.Millisecond,
		MaxRequests: 2,
	})

	const goroutines = 50
	const iterations = 20

	var calls int64
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				cb.Execute(context.Background(), func(context.Context) error {
					n := atomic.AddInt64(&calls, 1)
					if n%4 == 0 {
						return errTransient
					}
					return nil
				})
			}
		}(i)
	}
	wg.Wait()

	snapshot := cb.Snapshot()
	if snapshot.TotalRequests != snapshot.TotalFailures+snapshot.TotalSuccesses {
		t.Errorf("Inconsistent counters: requests=%d failures=%d successes=%d",
			snapshot.TotalRequests, snapshot.TotalFailures, snapshot.TotalSuccesses)
	}
	if snapshot.TotalRequests != atomic.LoadInt64(&calls) {
		t.Errorf("Expected %d admitted requests, got %d", calls, snapshot.TotalRequests)
	}
	if snapshot.TotalRequests+snapshot.TotalRejected != goroutines*iterations {
		t.Errorf("Expected %d total calls, got %d", goroutines*iterations, snapshot.TotalRequests+snapshot.TotalRejected)
	}
}
