package loop

import (
	"fmt"
	"time"
)

// BackoffMode selects how the failure delay grows across consecutive errors.
type BackoffMode string

const (
	BackoffFixed       BackoffMode = "fixed"
	BackoffLinear      BackoffMode = "linear"
	BackoffExponential BackoffMode = "exponential"
)

// Backoff encapsulates the delay applied after failed loop iterations.
// It is immutable after construction.
type Backoff struct {
	Mode    BackoffMode   // fixed|linear|exponential
	Initial time.Duration // base delay
	Max     time.Duration // cap for growth
}

// DefaultBackoff returns the hub-wide default: a fixed one hour pause after
// a failed iteration, matching the scheduler fallback interval.
func DefaultBackoff() Backoff {
	return Backoff{Mode: BackoffFixed, Initial: time.Hour, Max: time.Hour}
}

// NewBackoff builds a backoff from raw config fields; zero/invalid values fall back to defaults.
func NewBackoff(mode BackoffMode, initial, maxDelay time.Duration) Backoff {
	b := DefaultBackoff()
	if initial > 0 {
		b.Initial = initial
	}
	if maxDelay > 0 {
		b.Max = maxDelay
	}
	switch mode {
	case BackoffFixed, BackoffLinear, BackoffExponential:
		b.Mode = mode
	default:
		// unknown -> keep default
	}
	if b.Initial > b.Max {
		b.Initial = b.Max
	}
	return b
}

// Delay returns the pause before the next iteration after the given number
// of consecutive failures (1-based: first failure => 1).
func (b Backoff) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	switch b.Mode {
	case BackoffLinear:
		d := time.Duration(failures) * b.Initial
		if d > b.Max {
			return b.Max
		}
		return d
	case BackoffExponential:
		d := b.Initial * (1 << (failures - 1))
		if d > b.Max || d <= 0 {
			return b.Max
		}
		return d
	default: // fixed
		return b.Initial
	}
}

// Validate ensures invariants; returns error if the backoff cannot be applied.
func (b Backoff) Validate() error {
	if b.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if b.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	return nil
}
