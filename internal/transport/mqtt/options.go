package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/hublink/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultPublishTimeout bounds the wait for a publish acknowledgement.
	defaultPublishTimeout = 30 * time.Second

	// defaultSubscribeTimeout bounds each subscription on open.
	defaultSubscribeTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 240 * time.Second

	// maxPayloadSize is the hub's message size limit.
	maxPayloadSize = 256 * 1024

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// clientID returns the MQTT client id: the device id, or device/module.
func clientID(device config.DeviceConfig) string {
	if device.ModuleID != "" {
		return device.DeviceID + "/" + device.ModuleID
	}
	return device.DeviceID
}

// userName returns the hub user name for the identity.
//
// Format: {hub}/{client id}/?api-version={version}
func userName(hub, id string) string {
	return fmt.Sprintf("%s/%s/?api-version=%s", hub, id, url.QueryEscape(apiVersion))
}

// buildClientOptions creates paho options for one connection attempt.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client id and hub user name for the identity
//   - Password (explicit or a freshly signed SAS token)
//   - Persistent session so unacknowledged cloud-to-device messages are redelivered
//   - Manual acknowledgement of inbound messages
//   - No automatic reconnect; the transport coordinator owns reconnection
func buildClientOptions(device config.DeviceConfig, cfg config.MQTTConfig, host, password string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, host, cfg.Broker.Port))

	id := cfg.Broker.ClientID
	if id == "" {
		id = clientID(device)
	}
	opts.SetClientID(id)

	user := cfg.Auth.Username
	if user == "" {
		user = userName(device.HubHostname, clientID(device))
	}
	opts.SetUsername(user)
	opts.SetPassword(password)

	opts.SetCleanSession(false)
	opts.SetAutoAckDisabled(true)
	opts.SetOrderMatters(false)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	keepAlive := defaultKeepAlive
	if cfg.KeepAlive > 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
			ServerName: host,
		})
	}

	return opts
}
