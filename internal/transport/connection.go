package transport

import (
	"context"

	"github.com/nerrad567/hublink/internal/message"
)

// DeliveryTag identifies one transmission on a connection.
type DeliveryTag uint64

// Listener receives asynchronous events from a Connection. Implementations
// must return quickly; they are called on the connection's goroutines.
type Listener interface {
	// OnMessageSent reports the acknowledgement of a message accepted by
	// Send. err is nil on success.
	OnMessageSent(messageID string, err error)

	// OnMessageReceived delivers an inbound message, or a receive error.
	OnMessageReceived(msg *message.Message, err error)

	// OnConnectionLost reports that the connection identified by
	// connectionID terminated unexpectedly.
	OnConnectionLost(cause error, connectionID string)
}

// Connection is the protocol binding driven by a Transport.
//
// Send must not block waiting for the acknowledgement; the outcome arrives
// through Listener.OnMessageSent, possibly before Send returns. Errors
// should be *Error values so the transport can classify them.
type Connection interface {
	SetListener(l Listener)

	// Open establishes the connection. A Connection may be opened again
	// after Close.
	Open(ctx context.Context) error

	// Close releases the connection. It must be safe to call more than
	// once.
	Close() error

	Send(ctx context.Context, msg *message.Message) (DeliveryTag, error)

	// Receive polls for one inbound message. Push-based connections return
	// (nil, nil) and deliver through Listener.OnMessageReceived instead.
	Receive(ctx context.Context) (*message.Message, error)

	// Complete reports the application's verdict on an inbound message.
	Complete(ctx context.Context, msg *message.Message, result message.Result) error

	// ConnectionID identifies the current underlying connection. It
	// changes on every successful Open.
	ConnectionID() string
}
