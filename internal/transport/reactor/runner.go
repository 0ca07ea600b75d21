package reactor

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/hublink/internal/transport"
)

// Runner defaults.
const (
	DefaultIdleTimeout = 100 * time.Millisecond

	// DefaultFinalDrain bounds the Process calls made after Stop to flush
	// the engine's outgoing frames.
	DefaultFinalDrain = 16
)

// LossListener is notified when a runner's loop fails.
type LossListener interface {
	OnConnectionLost(cause error, connectionID string)
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// ConnectionID is reported with a connection loss.
	ConnectionID string

	IdleTimeout time.Duration
	FinalDrain  int

	// Listener is notified exactly once if the loop fails.
	Listener LossListener

	// OnClosedUnexpectedly runs after Listener when the loop fails, so the
	// owner can drop its references to the freed engine.
	OnClosedUnexpectedly func(cause error)

	Logger Logger
}

// Runner drives one Engine until it has no more work.
type Runner struct {
	engine Engine
	cfg    RunnerConfig
	logger Logger

	mu    sync.Mutex
	freed bool

	cleanupOnce sync.Once
	done        chan struct{}
}

// NewRunner creates a Runner for engine. Call Run to start it.
func NewRunner(engine Engine, cfg RunnerConfig) *Runner {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.FinalDrain <= 0 {
		cfg.FinalDrain = DefaultFinalDrain
	}
	var logger Logger = noopLogger{}
	if cfg.Logger != nil {
		logger = cfg.Logger
	}
	return &Runner{
		engine: engine,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Run drives the engine on the calling goroutine and returns when the
// loop has ended and the engine has been freed.
func (r *Runner) Run() {
	defer close(r.done)

	err := r.loop()
	if err == nil {
		r.logger.Debug("reactor stopped", "connection_id", r.cfg.ConnectionID)
		return
	}

	cause := transport.NewError(transport.KindNetwork, "reactor", err)
	r.logger.Warn("reactor closed unexpectedly", "connection_id", r.cfg.ConnectionID, "error", err)
	if r.cfg.Listener != nil {
		r.cfg.Listener.OnConnectionLost(cause, r.cfg.ConnectionID)
	}
	if r.cfg.OnClosedUnexpectedly != nil {
		r.cfg.OnClosedUnexpectedly(cause)
	}
}

// Done is closed once Run has returned.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Stop asks the engine to wind down. It is a no-op once the engine has
// been freed.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.freed {
		r.engine.Stop()
	}
}

func (r *Runner) loop() (err error) {
	defer r.shutdown()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()

	r.engine.SetIdleTimeout(r.cfg.IdleTimeout)
	if err := r.engine.Start(); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	for {
		more, err := r.engine.Process()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// shutdown stops, drains and frees the engine. Only the first call has
// any effect.
func (r *Runner) shutdown() {
	r.cleanupOnce.Do(func() {
		r.mu.Lock()
		r.engine.Stop()
		r.mu.Unlock()

		for i := 0; i < r.cfg.FinalDrain; i++ {
			if !r.drainOnce() {
				break
			}
		}

		r.mu.Lock()
		r.engine.Free()
		r.freed = true
		r.mu.Unlock()
	})
}

func (r *Runner) drainOnce() (more bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic while draining engine", "connection_id", r.cfg.ConnectionID, "panic", p)
			more = false
		}
	}()
	more, err := r.engine.Process()
	if err != nil {
		r.logger.Debug("error while draining engine", "connection_id", r.cfg.ConnectionID, "error", err)
		return false
	}
	return more
}
