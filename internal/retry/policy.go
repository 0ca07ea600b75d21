package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// DefaultMaxElapsed bounds retry when a policy sets neither MaxAttempts
// nor MaxElapsed.
const DefaultMaxElapsed = 4 * time.Minute

// Exponential backoff defaults.
const (
	DefaultMinBackoff   = 100 * time.Millisecond
	DefaultMaxBackoff   = 10 * time.Second
	DefaultDeltaBackoff = 100 * time.Millisecond
)

// Decision is the immutable verdict of a Policy.
type Decision struct {
	shouldRetry bool
	after       time.Duration
}

// RetryAfter returns a Decision to retry once d has elapsed.
func RetryAfter(d time.Duration) Decision {
	if d < 0 {
		d = 0
	}
	return Decision{shouldRetry: true, after: d}
}

// Stop is the Decision not to retry.
var Stop = Decision{}

// ShouldRetry reports whether the operation should be attempted again.
func (d Decision) ShouldRetry() bool { return d.shouldRetry }

// RetryAfter returns how long to wait before the next attempt.
func (d Decision) RetryAfter() time.Duration { return d.after }

// Attempt describes a failed operation being considered for retry.
type Attempt struct {
	// Count is the 1-based number of the retry being considered.
	Count int

	// Elapsed is the time since the operation was first attempted.
	Elapsed time.Duration

	// Err is the failure of the latest attempt.
	Err error
}

// Policy decides whether a failed operation is retried.
type Policy interface {
	Decide(a Attempt) Decision
}

// IsRetryable reports whether err, or any error it wraps, declares itself
// retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// Cutoff bounds a policy. A zero Cutoff falls back to DefaultMaxElapsed.
type Cutoff struct {
	// MaxAttempts is the maximum number of retries; the first try is not
	// counted. Zero means no attempt limit.
	MaxAttempts int

	// MaxElapsed stops retrying once this much time has passed since the
	// first try. Zero means no time limit.
	MaxElapsed time.Duration
}

func (c Cutoff) exceeded(a Attempt) bool {
	maxElapsed := c.MaxElapsed
	if c.MaxAttempts <= 0 && maxElapsed <= 0 {
		maxElapsed = DefaultMaxElapsed
	}
	if c.MaxAttempts > 0 && a.Count > c.MaxAttempts {
		return true
	}
	return maxElapsed > 0 && a.Elapsed >= maxElapsed
}

// ExponentialBackoff retries with exponentially growing, jittered waits.
//
// The wait before retry n (n counted from zero) is
//
//	min(MinBackoff + (2^n - 1) * jitter, MaxBackoff)
//
// where jitter is drawn uniformly from [0.8, 1.2] * DeltaBackoff. With
// FirstFastRetry the first retry happens immediately.
type ExponentialBackoff struct {
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
	DeltaBackoff   time.Duration
	FirstFastRetry bool
	Cutoff

	// randN returns a uniform value in [0, n). Replaced in tests.
	randN func(n int64) int64
}

// NewExponentialBackoff returns an ExponentialBackoff with the default
// timings and the given cutoff.
func NewExponentialBackoff(cutoff Cutoff) *ExponentialBackoff {
	return &ExponentialBackoff{
		MinBackoff:     DefaultMinBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		DeltaBackoff:   DefaultDeltaBackoff,
		FirstFastRetry: true,
		Cutoff:         cutoff,
	}
}

// Decide implements Policy.
func (p *ExponentialBackoff) Decide(a Attempt) Decision {
	if !IsRetryable(a.Err) || p.exceeded(a) {
		return Stop
	}

	n := a.Count - 1
	if n < 0 {
		n = 0
	}
	if n == 0 && p.FirstFastRetry {
		return RetryAfter(0)
	}

	lo := int64(p.DeltaBackoff) * 8 / 10
	hi := int64(p.DeltaBackoff) * 12 / 10
	jitter := lo
	if span := hi - lo; span > 0 {
		jitter += p.rand(span + 1)
	}

	wait := float64(p.MinBackoff) + (math.Pow(2, float64(n))-1)*float64(jitter)
	if wait > float64(p.MaxBackoff) {
		return RetryAfter(p.MaxBackoff)
	}
	return RetryAfter(time.Duration(wait))
}

func (p *ExponentialBackoff) rand(n int64) int64 {
	if p.randN != nil {
		return p.randN(n)
	}
	return rand.Int63n(n)
}

// FixedInterval retries after the same wait every time.
type FixedInterval struct {
	Interval time.Duration
	Cutoff
}

// Decide implements Policy.
func (p FixedInterval) Decide(a Attempt) Decision {
	if !IsRetryable(a.Err) || p.exceeded(a) {
		return Stop
	}
	return RetryAfter(p.Interval)
}

// NoRetry never retries.
type NoRetry struct{}

// Decide implements Policy.
func (NoRetry) Decide(Attempt) Decision { return Stop }
