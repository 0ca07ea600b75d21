package mqtt

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/hublink/internal/message"
)

func TestTopics_Builders(t *testing.T) {
	device := Topics{DeviceID: "thermostat-01"}
	module := Topics{DeviceID: "gateway", ModuleID: "edge"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"device telemetry", device.Telemetry(), "devices/thermostat-01/messages/events/"},
		{"module telemetry", module.Telemetry(), "devices/gateway/modules/edge/messages/events/"},
		{"device c2d", device.CloudToDevice(), "devices/thermostat-01/messages/devicebound/#"},
		{"module inputs", module.CloudToDevice(), "devices/gateway/modules/edge/inputs/#"},
		{"methods", device.Methods(), "$iothub/methods/POST/#"},
		{"twin responses", device.TwinResponses(), "$iothub/twin/res/#"},
		{"twin desired", device.TwinDesired(), "$iothub/twin/PATCH/properties/desired/#"},
		{"twin get", device.TwinGet("42"), "$iothub/twin/GET/?$rid=42"},
		{"twin reported", device.TwinPatchReported("43"), "$iothub/twin/PATCH/properties/reported/?$rid=43"},
		{"method response", device.MethodResponse(200, "7"), "$iothub/methods/res/200/?$rid=7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublishTopic_TelemetryProperties(t *testing.T) {
	topics := Topics{DeviceID: "dev"}
	msg := message.New([]byte("{}"))
	msg.ID = "m 1"
	msg.CorrelationID = "c&1"
	msg.ContentType = "application/json"
	msg.ContentEncoding = "utf-8"
	msg.ExpiresAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := msg.SetProperty("zone", "kitchen/north"); err != nil {
		t.Fatalf("SetProperty() error = %v", err)
	}
	if err := msg.SetProperty("alert", "true"); err != nil {
		t.Fatalf("SetProperty() error = %v", err)
	}

	got, err := topics.PublishTopic(msg)
	if err != nil {
		t.Fatalf("PublishTopic() error = %v", err)
	}
	want := "devices/dev/messages/events/" +
		"%24.mid=m+1&%24.cid=c%261&%24.ct=application%2Fjson&%24.ce=utf-8" +
		"&%24.exp=2026-01-02T03%3A04%3A05Z&alert=true&zone=kitchen%2Fnorth"
	if got != want {
		t.Errorf("PublishTopic() =\n  %q\nwant\n  %q", got, want)
	}
}

func TestPublishTopic_ByType(t *testing.T) {
	topics := Topics{DeviceID: "dev"}

	get := message.NewWithType(message.TypeTwinGet, nil)
	get.ID = "r1"
	if got, _ := topics.PublishTopic(get); got != "$iothub/twin/GET/?$rid=r1" {
		t.Errorf("twin get topic = %q", got)
	}

	resp := message.NewWithType(message.TypeMethodResponse, []byte(`{"ok":true}`))
	resp.CorrelationID = "9"
	resp.ResponseStatus = 404
	if got, _ := topics.PublishTopic(resp); got != "$iothub/methods/res/404/?$rid=9" {
		t.Errorf("method response topic = %q", got)
	}

	resp.CorrelationID = ""
	if _, err := topics.PublishTopic(resp); !errors.Is(err, ErrMalformedProperties) {
		t.Errorf("method response without request id error = %v, want ErrMalformedProperties", err)
	}

	inbound := message.NewWithType(message.TypeCloudToDevice, nil)
	if _, err := topics.PublishTopic(inbound); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("inbound type error = %v, want ErrUnknownTopic", err)
	}
}

func TestParse_CloudToDevice(t *testing.T) {
	topics := Topics{DeviceID: "dev"}
	topic := "devices/dev/messages/devicebound/%24.mid=abc&%24.to=%2Fdevices%2Fdev&%24.cid=req-1&color=red&note=a%26b"

	msg, err := topics.Parse(topic, []byte("payload"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if msg.Type != message.TypeCloudToDevice {
		t.Errorf("Type = %v, want cloud-to-device", msg.Type)
	}
	if msg.ID != "abc" || msg.CorrelationID != "req-1" {
		t.Errorf("ID/CorrelationID = %q/%q, want abc/req-1", msg.ID, msg.CorrelationID)
	}
	if v, _ := msg.Property("color"); v != "red" {
		t.Errorf("color = %q, want red", v)
	}
	if v, _ := msg.Property("note"); v != "a&b" {
		t.Errorf("note = %q, want a&b", v)
	}
	if _, ok := msg.Property("$.to"); ok {
		t.Error("system property $.to stored as application property")
	}
	if string(msg.Payload) != "payload" {
		t.Errorf("Payload = %q", msg.Payload)
	}
}

func TestParse_ModuleInput(t *testing.T) {
	topics := Topics{DeviceID: "gw", ModuleID: "edge"}
	msg, err := topics.Parse("devices/gw/modules/edge/inputs/input1/%24.mid=x", nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if msg.Type != message.TypeCloudToDevice || msg.ID != "x" {
		t.Errorf("got type %v id %q", msg.Type, msg.ID)
	}
}

func TestParse_Method(t *testing.T) {
	msg, err := Topics{DeviceID: "dev"}.Parse("$iothub/methods/POST/reboot/?$rid=7", []byte(`{"delay":5}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if msg.Type != message.TypeMethodRequest {
		t.Errorf("Type = %v, want method request", msg.Type)
	}
	if msg.MethodName != "reboot" || msg.CorrelationID != "7" {
		t.Errorf("MethodName/CorrelationID = %q/%q, want reboot/7", msg.MethodName, msg.CorrelationID)
	}
}

func TestParse_TwinResponse(t *testing.T) {
	msg, err := Topics{DeviceID: "dev"}.Parse("$iothub/twin/res/204/?$rid=r1&$version=5", nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if msg.Type != message.TypeTwinResponse || msg.ResponseStatus != 204 || msg.CorrelationID != "r1" {
		t.Errorf("got type %v status %d rid %q", msg.Type, msg.ResponseStatus, msg.CorrelationID)
	}
}

func TestParse_TwinDesired(t *testing.T) {
	msg, err := Topics{DeviceID: "dev"}.Parse("$iothub/twin/PATCH/properties/desired/?$version=12", []byte(`{"fan":"on"}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if msg.Type != message.TypeTwinDesired {
		t.Errorf("Type = %v, want twin desired", msg.Type)
	}
}

func TestParse_Errors(t *testing.T) {
	topics := Topics{DeviceID: "dev"}
	tests := []struct {
		name  string
		topic string
		want  error
	}{
		{"foreign device", "devices/other/messages/devicebound/", ErrUnknownTopic},
		{"unknown prefix", "sensors/1", ErrUnknownTopic},
		{"property without value", "devices/dev/messages/devicebound/color", ErrMalformedProperties},
		{"bad escape", "devices/dev/messages/devicebound/color=%zz", ErrMalformedProperties},
		{"reserved property", "devices/dev/messages/devicebound/iothub-foo=1", ErrMalformedProperties},
		{"method without name", "$iothub/methods/POST//?$rid=1", ErrMalformedProperties},
		{"method without rid", "$iothub/methods/POST/reboot/", ErrMalformedProperties},
		{"twin bad status", "$iothub/twin/res/ok/?$rid=1", ErrMalformedProperties},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := topics.Parse(tt.topic, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse(%q) error = %v, want %v", tt.topic, err, tt.want)
			}
		})
	}
}

func TestEncodeProperties_RoundTrip(t *testing.T) {
	out := message.New(nil)
	out.ID = "id/with&chars"
	if err := out.SetProperty("k=1", "v%2"); err != nil {
		t.Fatalf("SetProperty() error = %v", err)
	}

	bag := encodeProperties(out)
	if strings.Count(bag, "&") != 1 {
		t.Fatalf("bag %q should hold exactly two pairs", bag)
	}

	in := message.NewWithType(message.TypeCloudToDevice, nil)
	if err := applyProperties(in, bag); err != nil {
		t.Fatalf("applyProperties() error = %v", err)
	}
	if in.ID != out.ID {
		t.Errorf("ID = %q, want %q", in.ID, out.ID)
	}
	if v, _ := in.Property("k=1"); v != "v%2" {
		t.Errorf("property = %q, want v%%2", v)
	}
}
