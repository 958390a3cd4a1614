package loop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultBackoff verifies the baseline default values.
func TestDefaultBackoff(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, BackoffFixed, b.Mode)
	assert.Equal(t, time.Hour, b.Initial)
	assert.Equal(t, time.Hour, b.Max)
	require.NoError(t, b.Validate())
}

// TestNewBackoffOverrides checks override precedence and clamping when initial > max.
func TestNewBackoffOverrides(t *testing.T) {
	b := NewBackoff(BackoffLinear, 5*time.Second, 2*time.Second)
	assert.Equal(t, 2*time.Second, b.Initial, "initial > max must be clamped")
	assert.Equal(t, 2*time.Second, b.Max)
	assert.Equal(t, BackoffLinear, b.Mode)

	unknown := NewBackoff("bogus", time.Second, time.Minute)
	assert.Equal(t, BackoffFixed, unknown.Mode, "unknown mode keeps default")
}

// TestBackoffDelayModes ensures fixed, linear, exponential behave and respect the cap.
func TestBackoffDelayModes(t *testing.T) {
	fixed := NewBackoff(BackoffFixed, 100*time.Millisecond, 500*time.Millisecond)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, 100*time.Millisecond, fixed.Delay(i))
	}

	linear := NewBackoff(BackoffLinear, 100*time.Millisecond, 250*time.Millisecond)
	cases := []struct {
		failures int
		want     time.Duration
	}{{1, 100 * time.Millisecond}, {2, 200 * time.Millisecond}, {3, 250 * time.Millisecond}, {4, 250 * time.Millisecond}}
	for _, c := range cases {
		assert.Equal(t, c.want, linear.Delay(c.failures), "linear failures=%d", c.failures)
	}

	exp := NewBackoff(BackoffExponential, 50*time.Millisecond, 160*time.Millisecond)
	expCases := []struct {
		failures int
		want     time.Duration
	}{{1, 50 * time.Millisecond}, {2, 100 * time.Millisecond}, {3, 160 * time.Millisecond}, {4, 160 * time.Millisecond}}
	for _, c := range expCases {
		assert.Equal(t, c.want, exp.Delay(c.failures), "exp failures=%d", c.failures)
	}

	assert.Equal(t, time.Duration(0), linear.Delay(0))
	assert.Equal(t, time.Duration(0), linear.Delay(-1))
}

// TestSupervisorRecoversFromErrors drives two failing iterations through the
// backoff and confirms the loop keeps running and resumes on success.
func TestSupervisorRecoversFromErrors(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewSupervisor("test",
		WithClock(fc),
		WithBackoff(NewBackoff(BackoffFixed, time.Minute, time.Minute)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan int, 10)
	n := 0
	iterate := func(context.Context) (time.Duration, error) {
		n++
		calls <- n
		if n < 3 {
			return 0, errors.New("boom")
		}
		cancel()
		return time.Hour, nil
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx, iterate)
		close(done)
	}()

	require.Equal(t, 1, <-calls)
	fc.BlockUntil(1) // sleeping the first backoff
	fc.Advance(time.Minute)

	require.Equal(t, 2, <-calls)
	fc.BlockUntil(1)
	fc.Advance(time.Minute)

	require.Equal(t, 3, <-calls)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after context cancellation")
	}
	assert.Equal(t, 3, n, "no iterations after cancellation")
}

// TestSupervisorSleepCancellation verifies Sleep reports interruption.
func TestSupervisorSleepCancellation(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s := NewSupervisor("test", WithClock(fc))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, s.Sleep(ctx, time.Hour))
	assert.True(t, s.Sleep(ctx, 0), "non-positive delay returns immediately")
}
