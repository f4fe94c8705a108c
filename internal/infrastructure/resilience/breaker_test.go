package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		calls         []func() error
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute},
			calls:         []func() error{succeed, succeed, succeed},
			expectedState: StateClosed,
		},
		{
			name: "opens after consecutive failures",
			settings: Settings{
				Interval: time.Minute,
				Timeout:  time.Minute,
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 3
				},
			},
			calls:         []func() error{fail, fail, fail},
			expectedState: StateOpen,
		},
		{
			name: "a success resets the streak",
			settings: Settings{
				Interval: time.Minute,
				Timeout:  time.Minute,
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 2
				},
			},
			calls:         []func() error{fail, succeed, fail},
			expectedState: StateClosed,
		},
		{
			name: "canceled calls are not failures",
			settings: Settings{
				Interval: time.Minute,
				Timeout:  time.Minute,
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 1
				},
			},
			calls: []func() error{
				func() error { return fmt.Errorf("proxy: %w", context.Canceled) },
			},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("test", tt.settings)
			for _, call := range tt.calls {
				_ = b.Do(call)
			}
			assert.Equal(t, tt.expectedState, b.State())
		})
	}
}

func TestBreakerOpenRejects(t *testing.T) {
	b := New("upstream", Settings{
		Timeout:     time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	require.ErrorIs(t, b.Do(fail), errUpstream)
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpen(t *testing.T) {
	b := New("upstream", Settings{
		MaxRequests: 1,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	_ = b.Do(fail)
	require.Eventually(t, func() bool { return b.State() == StateHalfOpen }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateClosed, b.State())

	_ = b.Do(fail)
	require.Eventually(t, func() bool { return b.State() == StateHalfOpen }, time.Second, 5*time.Millisecond)
	_ = b.Do(fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestCallReturnsResult(t *testing.T) {
	b := New("upstream", Settings{})

	n, err := Call(b, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	counts := b.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
}

func TestBreakerCallbacks(t *testing.T) {
	var transitions []string
	b := New("cb", Settings{
		Timeout:     time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = b.Do(fail)
	_ = b.Do(fail)

	assert.Equal(t, []string{"cb:closed->open"}, transitions)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b := New("p", Settings{ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})

	assert.Panics(t, func() {
		_ = b.Do(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestGroup(t *testing.T) {
	g := NewGroup(Settings{ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})
	defer g.Stop()

	a := g.Get("a.test")
	assert.Same(t, a, g.Get("a.test"))
	assert.Equal(t, "a.test", a.Name())

	_ = a.Do(fail)
	assert.Equal(t, StateOpen, g.Get("a.test").State())
	assert.Equal(t, StateClosed, g.Get("b.test").State(), "hosts trip independently")
	assert.Equal(t, 2, g.Len())
}
