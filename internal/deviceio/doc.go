// Package deviceio is the application-facing device client.
//
// A Client owns a transport coordinator and the two background tasks that
// drive it:
//
//   - the send task, woken by its ticker or by new work, hands queued
//     messages to the connection and then runs completed message callbacks;
//   - the receive task polls the connection and dispatches inbound messages
//     to their registered callbacks.
//
// Both tasks run until Close. A panic or error inside a cycle is recovered
// and logged; the task carries on with its next cycle.
//
// Usage:
//
//	tr, _ := transport.New(conn, transport.Config{})
//	client := deviceio.NewClient(tr, deviceio.Config{})
//	if err := client.Open(ctx); err != nil { ... }
//	defer client.Close()
//
//	client.AddMessage(message.New(payload), onSent, nil)
package deviceio
