package reactor

import "errors"

// Sentinel errors for reactor operations.
var (
	// ErrHandlerPanic indicates a panic escaped the engine's event loop.
	ErrHandlerPanic = errors.New("reactor: panic in event handler")

	// ErrNotOpen indicates an operation on a link without a live engine.
	ErrNotOpen = errors.New("reactor: link not open")

	// ErrEngineStopped indicates the engine stopped before completing the
	// handshake.
	ErrEngineStopped = errors.New("reactor: engine stopped before open")

	// ErrLoopbackStopped indicates a send on a stopped loopback engine.
	ErrLoopbackStopped = errors.New("reactor: loopback engine stopped")
)
