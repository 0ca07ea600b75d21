package transport

import (
	"errors"
	"fmt"
)

// ConnectionStatus is the state of a transport's connection.
type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	DisconnectedRetrying
	Connecting
	Connected
)

func (s ConnectionStatus) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case DisconnectedRetrying:
		return "DISCONNECTED_RETRYING"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

// ChangeReason explains a connection status change.
type ChangeReason int

const (
	ReasonConnectionOK ChangeReason = iota
	ReasonExpectedClose
	ReasonRetryExpired
	ReasonNoNetwork
	ReasonCommunicationError
	ReasonExpiredSASToken
	ReasonBadCredential
)

func (r ChangeReason) String() string {
	switch r {
	case ReasonConnectionOK:
		return "CONNECTION_OK"
	case ReasonExpectedClose:
		return "EXPECTED_CLOSE"
	case ReasonRetryExpired:
		return "RETRY_EXPIRED"
	case ReasonNoNetwork:
		return "NO_NETWORK"
	case ReasonCommunicationError:
		return "COMMUNICATION_ERROR"
	case ReasonExpiredSASToken:
		return "EXPIRED_SAS_TOKEN"
	case ReasonBadCredential:
		return "BAD_CREDENTIAL"
	default:
		return fmt.Sprintf("REASON(%d)", int(r))
	}
}

// ReasonFor maps a connection failure to the reason reported with the
// status change it causes.
func ReasonFor(err error) ChangeReason {
	if errors.Is(err, ErrRetryExpired) {
		return ReasonRetryExpired
	}
	switch KindOf(err) {
	case KindNetwork, KindTimeout:
		return ReasonNoNetwork
	case KindUnauthorized, KindDeviceDisabled:
		return ReasonBadCredential
	case KindSASTokenExpired:
		return ReasonExpiredSASToken
	default:
		return ReasonCommunicationError
	}
}

// StatusCallback is notified of every connection status change.
// cause is the error that triggered the change, if any.
type StatusCallback func(status ConnectionStatus, reason ChangeReason, cause error, callbackCtx any)
