package mqtt

import (
	"errors"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/hublink/internal/transport"
)

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when sending on a closed connection.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrTimeout is returned when a broker operation does not complete in time.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrSubscribeFailed is returned when a subscription is refused.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrPayloadTooLarge is returned for payloads over the hub limit.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrUnknownTopic is returned for inbound messages on unrecognised topics.
	ErrUnknownTopic = errors.New("mqtt: unrecognised topic")

	// ErrMalformedProperties is returned when a topic's property bag cannot be parsed.
	ErrMalformedProperties = errors.New("mqtt: malformed topic properties")

	// ErrMissingKey is returned when neither a password nor a device key is configured.
	ErrMissingKey = errors.New("mqtt: no password or shared access key")
)

// classify converts a paho or broker error into a transport error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *transport.Error
	if errors.As(err, &te) {
		return err
	}

	kind := transport.KindNetwork
	switch {
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword),
		errors.Is(err, packets.ErrorRefusedNotAuthorised):
		kind = transport.KindUnauthorized
	case errors.Is(err, packets.ErrorRefusedIDRejected):
		kind = transport.KindDeviceDisabled
	case errors.Is(err, packets.ErrorRefusedServerUnavailable):
		kind = transport.KindServerBusy
	case errors.Is(err, packets.ErrorRefusedBadProtocolVersion),
		errors.Is(err, packets.ErrorProtocolViolation),
		errors.Is(err, ErrUnknownTopic),
		errors.Is(err, ErrMalformedProperties):
		kind = transport.KindProtocol
	case errors.Is(err, ErrPayloadTooLarge):
		kind = transport.KindMessageTooLarge
	case errors.Is(err, ErrMissingKey):
		kind = transport.KindUnauthorized
	case errors.Is(err, ErrTimeout):
		kind = transport.KindTimeout
	case errors.Is(err, pahomqtt.ErrNotConnected),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, packets.ErrorNetworkError):
		kind = transport.KindNetwork
	}
	return transport.NewError(kind, op, err)
}

// statusError converts a non-2xx hub response status into an error.
func statusError(op string, status int) error {
	if status >= 200 && status < 300 {
		return nil
	}
	kind := transport.KindUnknown
	switch {
	case status == 400:
		kind = transport.KindBadRequest
	case status == 401:
		kind = transport.KindUnauthorized
	case status == 404:
		kind = transport.KindNotFound
	case status == 413:
		kind = transport.KindMessageTooLarge
	case status == 429:
		kind = transport.KindThrottled
	case status == 503:
		kind = transport.KindServerBusy
	case status >= 500:
		kind = transport.KindServerError
	}
	return transport.NewError(kind, op, fmt.Errorf("hub returned status %d", status))
}
