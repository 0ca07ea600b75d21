package reactor

import (
	"time"

	"github.com/nerrad567/hublink/internal/message"
	"github.com/nerrad567/hublink/internal/transport"
)

// Engine is the event-loop protocol engine driven by a Runner.
//
// Process, Stop and Free are called from the runner goroutine, except that
// Stop may also be called from another goroutine to request a graceful
// stop. Send and Poll are called from other goroutines while Process runs
// and must not block on the event loop.
type Engine interface {
	// SetIdleTimeout bounds how long one Process call waits for events.
	SetIdleTimeout(d time.Duration)

	Start() error

	// Process handles one batch of protocol events. It returns false once
	// the engine has no more work, and an error on an unrecoverable fault.
	Process() (more bool, err error)

	// Send queues msg for transmission. The outcome is reported through
	// Handler.Delivered with the returned tag.
	Send(msg *message.Message) (transport.DeliveryTag, error)

	// Poll returns one inbound message, or nil when none is waiting.
	// Engines that push through Handler.Received may always return nil.
	Poll() (*message.Message, error)

	// Stop asks the engine to wind down. It must be idempotent.
	Stop()

	// Free releases the engine's resources. Called exactly once.
	Free()
}

// Settler is implemented by engines that acknowledge inbound messages.
type Settler interface {
	Settle(msg *message.Message, result message.Result) error
}

// Handler receives events raised by an engine from inside Process.
type Handler interface {
	// Opened reports a completed handshake.
	Opened()

	// Delivered reports the outcome of the send identified by tag.
	Delivered(tag transport.DeliveryTag, err error)

	// Received delivers an inbound message.
	Received(msg *message.Message)
}

// Factory builds a new engine bound to h.
type Factory func(h Handler) (Engine, error)
