// Package message defines the unit of data exchanged between an
// application and a device transport.
//
// A Message carries an opaque payload, a bag of string properties, a Type
// that routes it (telemetry, twin, direct method, cloud-to-device), an id
// and an optional expiry. Outbound completion is reported through an
// EventCallback with a Status; inbound messages are delivered to a
// Callback registered for their Type, which returns a Result.
package message
