package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// manualClock is advanced explicitly so cooldowns need no sleeps.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *manualClock, *[]string) {
	clk := &manualClock{t: time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(threshold, cooldown)
	cb.now = clk.now
	var transitions []string
	cb.OnStateChange = func(from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}
	return cb, clk, &transitions
}

var errRefused = errors.New("dial tcp 127.0.0.1:6379: connection refused")

func fail() error    { return errRefused }
func succeed() error { return nil }

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	tests := []struct {
		name        string
		steps       func(cb *CircuitBreaker, clk *manualClock)
		wantState   State
		transitions []string
	}{
		{
			name:      "fresh breaker is closed",
			steps:     func(*CircuitBreaker, *manualClock) {},
			wantState: StateClosed,
		},
		{
			name: "failures below threshold stay closed",
			steps: func(cb *CircuitBreaker, _ *manualClock) {
				cb.Execute(fail)
				cb.Execute(fail)
			},
			wantState: StateClosed,
		},
		{
			name: "a success resets the streak",
			steps: func(cb *CircuitBreaker, _ *manualClock) {
				cb.Execute(fail)
				cb.Execute(fail)
				cb.Execute(succeed)
				cb.Execute(fail)
				cb.Execute(fail)
			},
			wantState: StateClosed,
		},
		{
			name: "threshold opens",
			steps: func(cb *CircuitBreaker, _ *manualClock) {
				for i := 0; i < 3; i++ {
					cb.Execute(fail)
				}
			},
			wantState:   StateOpen,
			transitions: []string{"closed>open"},
		},
		{
			name: "successful trial closes",
			steps: func(cb *CircuitBreaker, clk *manualClock) {
				for i := 0; i < 3; i++ {
					cb.Execute(fail)
				}
				clk.advance(31 * time.Second)
				cb.Execute(succeed)
			},
			wantState:   StateClosed,
			transitions: []string{"closed>open", "open>half-open", "half-open>closed"},
		},
		{
			name: "failed trial reopens",
			steps: func(cb *CircuitBreaker, clk *manualClock) {
				for i := 0; i < 3; i++ {
					cb.Execute(fail)
				}
				clk.advance(31 * time.Second)
				cb.Execute(fail)
			},
			wantState:   StateOpen,
			transitions: []string{"closed>open", "open>half-open", "half-open>open"},
		},
		{
			name: "misses and cancellations never trip",
			steps: func(cb *CircuitBreaker, _ *manualClock) {
				for i := 0; i < 10; i++ {
					cb.Execute(func() error { return goredis.Nil })
					cb.Execute(func() error { return context.Canceled })
				}
			},
			wantState: StateClosed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clk, transitions := newTestBreaker(3, 30*time.Second)
			tt.steps(cb, clk)
			if got := cb.CurrentState(); got != tt.wantState {
				t.Errorf("state = %v, want %v", got, tt.wantState)
			}
			if len(*transitions) != len(tt.transitions) {
				t.Fatalf("transitions = %v, want %v", *transitions, tt.transitions)
			}
			for i := range tt.transitions {
				if (*transitions)[i] != tt.transitions[i] {
					t.Errorf("transition %d = %s, want %s", i, (*transitions)[i], tt.transitions[i])
				}
			}
		})
	}
}

func TestCircuitBreaker_RejectsDuringCooldown(t *testing.T) {
	cb, clk, _ := newTestBreaker(1, 30*time.Second)
	cb.Execute(fail)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("err = %v, called = %v; want ErrCircuitOpen without calling", err, called)
	}

	clk.advance(30 * time.Second)
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("at exactly the cooldown: err = %v, want still open", err)
	}
}

func TestCircuitBreaker_SingleTrial(t *testing.T) {
	cb, clk, _ := newTestBreaker(1, time.Second)
	cb.Execute(fail)
	clk.advance(2 * time.Second)

	release := make(chan struct{})
	probing := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(probing)
			<-release
			return nil
		})
	}()
	<-probing

	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second call during trial: err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial: %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("state = %v after trial", cb.CurrentState())
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
