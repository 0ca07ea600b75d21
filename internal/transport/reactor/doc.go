// Package reactor drives an event-loop protocol engine on its own
// goroutine and exposes it as a transport.Connection.
//
// A Runner owns one engine for the lifetime of one connection attempt. It
// sets the engine's idle timeout, starts it and calls Process until the
// engine reports no more work or fails. Whatever ends the loop, the engine
// is stopped, drained and freed exactly once. When the loop fails, the
// runner reports the connection as lost exactly once and then tells its
// owner that the engine closed unexpectedly.
//
// Link creates a fresh Engine and Runner on every Open, so a reconnect
// never reuses an engine.
package reactor
