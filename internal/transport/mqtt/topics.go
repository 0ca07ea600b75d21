package mqtt

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/hublink/internal/message"
)

// Hub topic prefixes.
const (
	topicTwin    = "$iothub/twin"
	topicMethods = "$iothub/methods"

	// apiVersion is sent in the MQTT user name.
	apiVersion = "2021-04-12"
)

// System property keys carried in a topic's property bag.
const (
	propMessageID       = "$.mid"
	propCorrelationID   = "$.cid"
	propTo              = "$.to"
	propUserID          = "$.uid"
	propContentType     = "$.ct"
	propContentEncoding = "$.ce"
	propExpiry          = "$.exp"
	propRequestID       = "$rid"
	propVersion         = "$version"
	propAck             = "iothub-ack"
)

// Topics builds the hub topics for one device or module identity.
//
//	topics := mqtt.Topics{DeviceID: "thermostat-01"}
//	topics.Telemetry()
//	// Returns: "devices/thermostat-01/messages/events/"
type Topics struct {
	DeviceID string
	ModuleID string
}

func (t Topics) base() string {
	if t.ModuleID != "" {
		return fmt.Sprintf("devices/%s/modules/%s", t.DeviceID, t.ModuleID)
	}
	return "devices/" + t.DeviceID
}

// =============================================================================
// Publish Topics
// =============================================================================

// Telemetry returns the telemetry topic without properties.
//
// Example: devices/thermostat-01/messages/events/
func (t Topics) Telemetry() string {
	return t.base() + "/messages/events/"
}

// TwinGet returns the topic requesting the full twin.
//
// Example: $iothub/twin/GET/?$rid=42
func (Topics) TwinGet(requestID string) string {
	return fmt.Sprintf("%s/GET/?%s=%s", topicTwin, propRequestID, url.QueryEscape(requestID))
}

// TwinPatchReported returns the topic updating reported properties.
//
// Example: $iothub/twin/PATCH/properties/reported/?$rid=42
func (Topics) TwinPatchReported(requestID string) string {
	return fmt.Sprintf("%s/PATCH/properties/reported/?%s=%s", topicTwin, propRequestID, url.QueryEscape(requestID))
}

// MethodResponse returns the topic answering a direct method request.
//
// Example: $iothub/methods/res/200/?$rid=7
func (Topics) MethodResponse(status int, requestID string) string {
	return fmt.Sprintf("%s/res/%d/?%s=%s", topicMethods, status, propRequestID, url.QueryEscape(requestID))
}

// =============================================================================
// Subscribe Topics
// =============================================================================

// CloudToDevice returns the cloud-to-device subscription. Modules receive
// on their inputs topic instead.
func (t Topics) CloudToDevice() string {
	if t.ModuleID != "" {
		return t.base() + "/inputs/#"
	}
	return t.base() + "/messages/devicebound/#"
}

// Methods returns the direct method request subscription.
func (Topics) Methods() string {
	return topicMethods + "/POST/#"
}

// TwinResponses returns the twin response subscription.
func (Topics) TwinResponses() string {
	return topicTwin + "/res/#"
}

// TwinDesired returns the desired properties subscription.
func (Topics) TwinDesired() string {
	return topicTwin + "/PATCH/properties/desired/#"
}

// =============================================================================
// Message Mapping
// =============================================================================

// PublishTopic returns the topic msg is published on.
func (t Topics) PublishTopic(msg *message.Message) (string, error) {
	switch msg.Type {
	case message.TypeTelemetry:
		return t.Telemetry() + encodeProperties(msg), nil
	case message.TypeTwinGet:
		return t.TwinGet(msg.ID), nil
	case message.TypeTwinPatchReported:
		return t.TwinPatchReported(msg.ID), nil
	case message.TypeMethodResponse:
		if msg.CorrelationID == "" {
			return "", fmt.Errorf("%w: method response without request id", ErrMalformedProperties)
		}
		return t.MethodResponse(msg.ResponseStatus, msg.CorrelationID), nil
	default:
		return "", fmt.Errorf("%w: cannot publish %s", ErrUnknownTopic, msg.Type)
	}
}

// Parse converts an inbound publication into a message.
func (t Topics) Parse(topic string, payload []byte) (*message.Message, error) {
	switch {
	case strings.HasPrefix(topic, topicMethods+"/POST/"):
		return parseMethod(topic, payload)
	case strings.HasPrefix(topic, topicTwin+"/res/"):
		return parseTwinResponse(topic, payload)
	case strings.HasPrefix(topic, topicTwin+"/PATCH/properties/desired/"):
		msg := message.NewWithType(message.TypeTwinDesired, payload)
		if err := applyProperties(msg, queryOf(topic)); err != nil {
			return nil, err
		}
		return msg, nil
	case strings.HasPrefix(topic, t.base()+"/messages/devicebound/"),
		t.ModuleID != "" && strings.HasPrefix(topic, t.base()+"/inputs/"):
		msg := message.NewWithType(message.TypeCloudToDevice, payload)
		if err := applyProperties(msg, bagOf(topic)); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
}

// parseMethod handles $iothub/methods/POST/{name}/?$rid={rid}.
func parseMethod(topic string, payload []byte) (*message.Message, error) {
	rest := strings.TrimPrefix(topic, topicMethods+"/POST/")
	name, _, _ := strings.Cut(rest, "/")
	if name == "" {
		return nil, fmt.Errorf("%w: method name missing in %s", ErrMalformedProperties, topic)
	}
	msg := message.NewWithType(message.TypeMethodRequest, payload)
	msg.MethodName = name
	if err := applyProperties(msg, queryOf(topic)); err != nil {
		return nil, err
	}
	if msg.CorrelationID == "" {
		return nil, fmt.Errorf("%w: request id missing in %s", ErrMalformedProperties, topic)
	}
	return msg, nil
}

// parseTwinResponse handles $iothub/twin/res/{status}/?$rid={rid}.
func parseTwinResponse(topic string, payload []byte) (*message.Message, error) {
	rest := strings.TrimPrefix(topic, topicTwin+"/res/")
	code, _, _ := strings.Cut(rest, "/")
	status, err := strconv.Atoi(code)
	if err != nil {
		return nil, fmt.Errorf("%w: twin status %q", ErrMalformedProperties, code)
	}
	msg := message.NewWithType(message.TypeTwinResponse, payload)
	msg.ResponseStatus = status
	if err := applyProperties(msg, queryOf(topic)); err != nil {
		return nil, err
	}
	return msg, nil
}

// queryOf returns the part of topic after '?'.
func queryOf(topic string) string {
	_, query, _ := strings.Cut(topic, "?")
	return query
}

// bagOf returns the property bag of a devicebound or inputs topic: the
// last topic level.
func bagOf(topic string) string {
	return topic[strings.LastIndex(topic, "/")+1:]
}

// encodeProperties renders msg's system and application properties as a
// URL-encoded property bag. Application properties are sorted by key.
func encodeProperties(msg *message.Message) string {
	var parts []string
	add := func(key, value string) {
		parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
	}

	if msg.ID != "" {
		add(propMessageID, msg.ID)
	}
	if msg.CorrelationID != "" {
		add(propCorrelationID, msg.CorrelationID)
	}
	if msg.ContentType != "" {
		add(propContentType, msg.ContentType)
	}
	if msg.ContentEncoding != "" {
		add(propContentEncoding, msg.ContentEncoding)
	}
	if !msg.ExpiresAt.IsZero() {
		add(propExpiry, msg.ExpiresAt.UTC().Format(time.RFC3339))
	}

	props := msg.Properties()
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, props[k])
	}

	return strings.Join(parts, "&")
}

// applyProperties decodes a property bag onto msg.
func applyProperties(msg *message.Message, bag string) error {
	if bag == "" {
		return nil
	}
	for _, pair := range strings.Split(bag, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: %q has no value", ErrMalformedProperties, pair)
		}
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedProperties, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedProperties, err)
		}

		switch key {
		case propMessageID:
			msg.ID = value
		case propCorrelationID, propRequestID:
			msg.CorrelationID = value
		case propContentType:
			msg.ContentType = value
		case propContentEncoding:
			msg.ContentEncoding = value
		case propExpiry:
			if at, err := time.Parse(time.RFC3339, value); err == nil {
				msg.ExpiresAt = at
			}
		case propTo, propUserID, propAck, propVersion:
		default:
			if strings.HasPrefix(key, "$") {
				continue
			}
			if err := msg.SetProperty(key, value); err != nil {
				return fmt.Errorf("%w: %w", ErrMalformedProperties, err)
			}
		}
	}
	return nil
}
