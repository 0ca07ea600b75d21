package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifies what a message carries and, for inbound traffic, which
// registered callback receives it.
type Type int

// Outbound types are produced by the application, inbound types by the
// connection.
const (
	TypeUnknown Type = iota

	// Outbound.
	TypeTelemetry
	TypeTwinGet
	TypeTwinPatchReported
	TypeMethodResponse

	// Inbound.
	TypeCloudToDevice
	TypeTwinResponse
	TypeTwinDesired
	TypeMethodRequest
)

var typeNames = map[Type]string{
	TypeUnknown:           "unknown",
	TypeTelemetry:         "telemetry",
	TypeTwinGet:           "twin_get",
	TypeTwinPatchReported: "twin_patch_reported",
	TypeMethodResponse:    "method_response",
	TypeCloudToDevice:     "cloud_to_device",
	TypeTwinResponse:      "twin_response",
	TypeTwinDesired:       "twin_desired",
	TypeMethodRequest:     "method_request",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Outbound reports whether the application may send messages of this type.
func (t Type) Outbound() bool {
	return t >= TypeTelemetry && t <= TypeMethodResponse
}

// reservedProperties are system properties carried outside the
// application property bag.
var reservedProperties = map[string]bool{
	"message-id":           true,
	"correlation-id":       true,
	"to":                   true,
	"user-id":              true,
	"content-type":         true,
	"content-encoding":     true,
	"absolute-expiry-time": true,
	"$.mid":                true,
	"$.cid":                true,
	"$.to":                 true,
	"$.exp":                true,
	"$.ct":                 true,
	"$.ce":                 true,
}

// Message is one unit of application data travelling through a transport.
//
// A Message belongs to the application until it is handed to AddMessage.
// From then on the transport owns it until the completion callback fires,
// and the application must not modify it.
type Message struct {
	// ID uniquely identifies the message. New assigns a random UUID.
	ID string

	// CorrelationID links a response to its request (twin request id,
	// direct method request id).
	CorrelationID string

	Type    Type
	Payload []byte

	// ContentType and ContentEncoding describe the payload, for example
	// "application/json" and "utf-8".
	ContentType     string
	ContentEncoding string

	// MethodName is the direct method name for method requests.
	MethodName string

	// ResponseStatus is the status code carried by twin and method responses.
	ResponseStatus int

	// ExpiresAt is the absolute expiry time. The zero value never expires.
	ExpiresAt time.Time

	properties map[string]string
}

// New creates a telemetry message with a random id.
func New(payload []byte) *Message {
	return &Message{
		ID:      uuid.NewString(),
		Type:    TypeTelemetry,
		Payload: payload,
	}
}

// NewWithType creates a message of the given type with a random id.
func NewWithType(t Type, payload []byte) *Message {
	m := New(payload)
	m.Type = t
	return m
}

// SetProperty sets an application property. Keys are unique; setting an
// existing key replaces its value.
func (m *Message) SetProperty(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyPropertyKey
	}
	if reservedProperties[strings.ToLower(key)] || strings.HasPrefix(strings.ToLower(key), "iothub-") {
		return fmt.Errorf("%w: %s", ErrReservedProperty, key)
	}
	if m.properties == nil {
		m.properties = make(map[string]string)
	}
	m.properties[key] = value
	return nil
}

// Property returns the value of an application property.
func (m *Message) Property(key string) (string, bool) {
	v, ok := m.properties[key]
	return v, ok
}

// Properties returns a copy of the application properties.
func (m *Message) Properties() map[string]string {
	out := make(map[string]string, len(m.properties))
	for k, v := range m.properties {
		out[k] = v
	}
	return out
}

// SetExpiry sets the expiry to ttl after now. A non-positive ttl clears it.
func (m *Message) SetExpiry(now time.Time, ttl time.Duration) {
	if ttl <= 0 {
		m.ExpiresAt = time.Time{}
		return
	}
	m.ExpiresAt = now.Add(ttl)
}

// IsExpired reports whether the message expired at or before now.
func (m *Message) IsExpired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}
