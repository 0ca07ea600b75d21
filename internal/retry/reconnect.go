package retry

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Reconnection defaults.
const (
	DefaultReconnectInitialDelay = 1 * time.Second
	DefaultReconnectMaxDelay     = 60 * time.Second
	DefaultReconnectMultiplier   = 1.5
)

// ReconnectionPolicy decides whether a lost connection is re-established.
type ReconnectionPolicy interface {
	// WaitAndRetry sleeps for the policy's interval and reports whether a
	// reconnect attempt should follow. It returns false without sleeping
	// once the policy is exhausted, and returns false promptly when ctx is
	// cancelled.
	WaitAndRetry(ctx context.Context) bool

	// Reset clears the failure streak after a successful reconnect.
	Reset()
}

// ReconnectConfig configures a Reconnection policy.
type ReconnectConfig struct {
	// InitialDelay is the wait before the first reconnect attempt.
	InitialDelay time.Duration

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration

	// Multiplier grows the wait after every attempt. Values below 1 keep
	// the wait constant.
	Multiplier float64

	// MaxAttempts bounds consecutive reconnect attempts. Zero is unlimited.
	MaxAttempts int

	// MaxElapsed stops a failure streak once this much time has passed
	// since its first attempt. Zero means no time limit. When both
	// MaxAttempts and MaxElapsed are zero the streak is bounded by
	// DefaultMaxElapsed.
	MaxElapsed time.Duration
}

// Reconnection is a bounded-count reconnection policy with exponential
// delay. Its failure streak is per instance.
//
// Thread Safety:
//   - WaitAndRetry and Reset may be called from different goroutines.
type Reconnection struct {
	cfg   ReconnectConfig
	clock clockwork.Clock

	mu       sync.Mutex
	attempts int
	started  time.Time
	next     time.Duration
}

// NewReconnection creates a Reconnection. Zero fields take the defaults.
func NewReconnection(cfg ReconnectConfig, clk clockwork.Clock) *Reconnection {
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultReconnectMaxDelay
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = DefaultReconnectMultiplier
	}
	if cfg.MaxAttempts <= 0 && cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = DefaultMaxElapsed
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Reconnection{
		cfg:   cfg,
		clock: clk,
		next:  cfg.InitialDelay,
	}
}

// WaitAndRetry implements ReconnectionPolicy.
func (r *Reconnection) WaitAndRetry(ctx context.Context) bool {
	r.mu.Lock()
	if r.cfg.MaxAttempts > 0 && r.attempts >= r.cfg.MaxAttempts {
		r.mu.Unlock()
		return false
	}
	now := r.clock.Now()
	if r.attempts == 0 {
		r.started = now
	}
	if r.cfg.MaxElapsed > 0 && now.Sub(r.started) >= r.cfg.MaxElapsed {
		r.mu.Unlock()
		return false
	}
	r.attempts++
	delay := r.next
	if r.cfg.Multiplier > 1 {
		grown := time.Duration(float64(r.next) * r.cfg.Multiplier)
		r.next = min(grown, r.cfg.MaxDelay)
	}
	r.mu.Unlock()

	if delay <= 0 {
		return ctx.Err() == nil
	}

	select {
	case <-ctx.Done():
		return false
	case <-r.clock.After(delay):
		return true
	}
}

// Reset implements ReconnectionPolicy.
func (r *Reconnection) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = 0
	r.next = r.cfg.InitialDelay
}

// Attempts returns the length of the current failure streak.
func (r *Reconnection) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// NoReconnect never reconnects.
type NoReconnect struct{}

// WaitAndRetry implements ReconnectionPolicy.
func (NoReconnect) WaitAndRetry(context.Context) bool { return false }

// Reset implements ReconnectionPolicy.
func (NoReconnect) Reset() {}
