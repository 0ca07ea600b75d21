package message

import "fmt"

// Status is the outcome reported to a message's completion callback.
type Status int

const (
	StatusOK Status = iota
	StatusOKEmpty
	StatusBadFormat
	StatusUnauthorized
	StatusTooManyDevices
	StatusNotFound
	StatusPreconditionFailed
	StatusRequestEntityTooLarge
	StatusThrottled
	StatusInternalServerError
	StatusServerBusy
	StatusError
	StatusMessageExpired
	StatusMessageCancelledOnClose
)

var statusNames = map[Status]string{
	StatusOK:                      "OK",
	StatusOKEmpty:                 "OK_EMPTY",
	StatusBadFormat:               "BAD_FORMAT",
	StatusUnauthorized:            "UNAUTHORIZED",
	StatusTooManyDevices:          "TOO_MANY_DEVICES",
	StatusNotFound:                "NOT_FOUND",
	StatusPreconditionFailed:      "PRECONDITION_FAILED",
	StatusRequestEntityTooLarge:   "REQUEST_ENTITY_TOO_LARGE",
	StatusThrottled:               "THROTTLED",
	StatusInternalServerError:     "INTERNAL_SERVER_ERROR",
	StatusServerBusy:              "SERVER_BUSY",
	StatusError:                   "ERROR",
	StatusMessageExpired:          "MESSAGE_EXPIRED",
	StatusMessageCancelledOnClose: "MESSAGE_CANCELLED_ONCLOSE",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// Success reports whether the status means the message was delivered.
func (s Status) Success() bool {
	return s == StatusOK || s == StatusOKEmpty
}

// Result is the application's verdict on an inbound message.
type Result int

const (
	// Complete acknowledges the message; it will not be redelivered.
	Complete Result = iota
	// Abandon returns the message to the service for redelivery.
	Abandon
	// Reject dead-letters the message.
	Reject
)

func (r Result) String() string {
	switch r {
	case Complete:
		return "complete"
	case Abandon:
		return "abandon"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// EventCallback is invoked exactly once when an outbound message completes.
// callbackCtx is the opaque value passed alongside the message.
type EventCallback func(status Status, callbackCtx any)

// Callback is invoked for each inbound message of the type it was
// registered for.
type Callback func(msg *Message, callbackCtx any) Result
