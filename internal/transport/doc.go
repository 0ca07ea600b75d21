// Package transport coordinates one logical device connection.
//
// A Transport owns the connection state machine, the outbound message
// queue, the set of messages in flight, the queue of completed-message
// callbacks and the queue of received messages. It delegates the wire to a
// Connection and decides on retries through a retry.Policy (per message)
// and a retry.ReconnectionPolicy (per connection).
//
// State machine:
//
//	Disconnected --Open--> Connecting --ok--> Connected
//	Connected --connection lost--> DisconnectedRetrying
//	DisconnectedRetrying --reconnect ok--> Connected
//	DisconnectedRetrying --policy refuses--> Disconnected (re-open required)
//	any --Close--> Disconnected (terminal)
//
// The Transport never runs application code on the connection's
// goroutines. Message completion callbacks run inside InvokeCallbacks,
// inbound message callbacks inside HandleMessages, both driven by the
// caller's task goroutines. Connection status callbacks run on a
// dedicated dispatcher goroutine in the order the transitions happened.
//
// Callbacks must not call Close on the client that invoked them.
package transport
