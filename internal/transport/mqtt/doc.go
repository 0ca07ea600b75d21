// Package mqtt binds the transport coordinator to an IoT hub over MQTT.
//
// Connection implements transport.Connection on top of paho.mqtt.golang.
// paho's own reconnect loop is disabled: a lost connection is reported to
// the coordinator, which decides whether and when to reopen.
//
// # Topics
//
//	devices/{device}/messages/events/{properties}        telemetry (publish)
//	devices/{device}/messages/devicebound/#              cloud-to-device (subscribe)
//	$iothub/methods/POST/#                               direct methods (subscribe)
//	$iothub/methods/res/{status}/?$rid={rid}             method responses (publish)
//	$iothub/twin/res/#                                   twin responses (subscribe)
//	$iothub/twin/PATCH/properties/desired/#              desired properties (subscribe)
//	$iothub/twin/GET/?$rid={rid}                         twin get (publish)
//	$iothub/twin/PATCH/properties/reported/?$rid={rid}   reported properties (publish)
//
// Module identities use devices/{device}/modules/{module}/... for
// telemetry and inputs.
//
// # Authentication
//
// Without an explicit password the connection signs a fresh SAS token
// with the device key on every Open, so a reconnect never presents an
// expired token.
//
// # Usage
//
//	conn := mqtt.New(cfg.Device, cfg.MQTT)
//	tr, err := transport.New(conn, transport.Config{})
package mqtt
