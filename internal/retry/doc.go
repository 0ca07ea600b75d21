// Package retry decides whether and when failed work is tried again.
//
// Two independent strategies live here:
//
//   - Policy is the per-operation retry strategy. Given the error and the
//     attempt number of a failed message send it returns a Decision. It is
//     a pure function of its input apart from jitter.
//   - ReconnectionPolicy is the connection-level strategy. WaitAndRetry
//     sleeps for the policy's interval and reports whether another
//     reconnect attempt should be made. Each transport owns its own
//     instance; a successful reconnect calls Reset.
//
// Errors opt into retry by implementing Retryable() bool anywhere in their
// wrap chain. Anything else is treated as fatal.
package retry
