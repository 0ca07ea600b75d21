package transport

import (
	"errors"
	"fmt"

	"github.com/nerrad567/hublink/internal/message"
)

// Sentinel errors for transport operations.
var (
	// ErrClosed indicates the transport has been closed and cannot be reused.
	ErrClosed = errors.New("transport: closed")

	// ErrAlreadyOpen indicates Open was called on a transport that is not
	// disconnected.
	ErrAlreadyOpen = errors.New("transport: already open")

	// ErrNotConnected indicates an operation that requires a live connection.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrNilMessage indicates AddMessage was called without a message.
	ErrNilMessage = errors.New("transport: nil message")

	// ErrInvalidMessageType indicates a message type that cannot be used
	// in the requested direction.
	ErrInvalidMessageType = errors.New("transport: invalid message type")

	// ErrRetryExpired indicates the reconnection policy gave up.
	ErrRetryExpired = errors.New("transport: reconnection retries exhausted")

	// ErrLostDuringOpen indicates the connection reported a loss before
	// the open completed.
	ErrLostDuringOpen = errors.New("transport: connection lost during open")

	// ErrNilConnection indicates New was called without a Connection.
	ErrNilConnection = errors.New("transport: nil connection")
)

// Kind classifies a transport failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindTimeout
	KindThrottled
	KindServerBusy
	KindServerError
	KindUnauthorized
	KindSASTokenExpired
	KindBadRequest
	KindMessageTooLarge
	KindQuotaExceeded
	KindDeviceDisabled
	KindNotFound
	KindProtocol
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindNetwork:         "network",
	KindTimeout:         "timeout",
	KindThrottled:       "throttled",
	KindServerBusy:      "server busy",
	KindServerError:     "server error",
	KindUnauthorized:    "unauthorized",
	KindSASTokenExpired: "sas token expired",
	KindBadRequest:      "bad request",
	KindMessageTooLarge: "message too large",
	KindQuotaExceeded:   "quota exceeded",
	KindDeviceDisabled:  "device disabled",
	KindNotFound:        "not found",
	KindProtocol:        "protocol",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Transient reports whether failures of this kind are retryable by default.
func (k Kind) Transient() bool {
	switch k {
	case KindNetwork, KindTimeout, KindThrottled, KindServerBusy, KindServerError:
		return true
	default:
		return false
	}
}

// Status maps the kind to the status reported to a message callback.
func (k Kind) Status() message.Status {
	switch k {
	case KindThrottled:
		return message.StatusThrottled
	case KindServerBusy:
		return message.StatusServerBusy
	case KindServerError:
		return message.StatusInternalServerError
	case KindUnauthorized, KindSASTokenExpired, KindDeviceDisabled:
		return message.StatusUnauthorized
	case KindBadRequest:
		return message.StatusBadFormat
	case KindMessageTooLarge:
		return message.StatusRequestEntityTooLarge
	case KindQuotaExceeded:
		return message.StatusTooManyDevices
	case KindNotFound:
		return message.StatusNotFound
	default:
		return message.StatusError
	}
}

// Error is the single error type produced by connections and the
// transport. Kind says what went wrong; Retryable says whether trying
// again may help.
type Error struct {
	Kind Kind

	// Op names the failed operation ("open", "send", "complete", ...).
	Op string

	// Err is the underlying cause. May be nil.
	Err error

	retryable bool
}

// NewError creates an Error whose retryability follows its kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err, retryable: kind.Transient()}
}

// WithRetryable returns a copy of e with retryability overridden.
func (e *Error) WithRetryable(retryable bool) *Error {
	c := *e
	c.retryable = retryable
	return &c
}

// Retryable reports whether the failed operation may succeed if retried.
// The retry package discovers it through the error chain.
func (e *Error) Retryable() bool { return e.retryable }

func (e *Error) Error() string {
	msg := "transport"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// StatusOf maps err to the status reported to a message callback.
func StatusOf(err error) message.Status {
	if err == nil {
		return message.StatusOK
	}
	return KindOf(err).Status()
}
