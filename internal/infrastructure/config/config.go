package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for hublink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Connection ConnectionConfig `yaml:"connection"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Transport  TransportConfig  `yaml:"transport"`
	Retry      RetryConfig      `yaml:"retry"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DeviceConfig identifies the device (or module) to the hub.
type DeviceConfig struct {
	HubHostname string `yaml:"hub_hostname"`
	DeviceID    string `yaml:"device_id"`
	ModuleID    string `yaml:"module_id"`

	// SharedAccessKey is the base64 device key used to sign SAS tokens.
	SharedAccessKey string `yaml:"shared_access_key"`

	// SASTokenTTL is the lifetime of a generated SAS token in seconds.
	SASTokenTTL int `yaml:"sas_token_ttl"`
}

// ConnectionConfig selects the transport binding.
type ConnectionConfig struct {
	// Mode is "mqtt" or "loopback".
	Mode string `yaml:"mode"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig `yaml:"broker"`
	Auth      MQTTAuthConfig   `yaml:"auth"`
	QoS       int              `yaml:"qos"`
	KeepAlive int              `yaml:"keep_alive"`

	// SubscribeTwin and SubscribeMethods add the twin and direct method
	// subscriptions to the cloud-to-device one.
	SubscribeTwin    bool `yaml:"subscribe_twin"`
	SubscribeMethods bool `yaml:"subscribe_methods"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
// An empty Host means the device's hub hostname.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains explicit MQTT credentials. When Password is
// empty a SAS token is generated from the device key.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TransportConfig tunes the coordinator and its tasks.
type TransportConfig struct {
	MaxMessagesPerSend int `yaml:"max_messages_per_send"`

	// ConnectTimeout bounds each connection attempt, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// CloseGrace is how long Close waits for acknowledgements, in
	// milliseconds. Negative disables the wait.
	CloseGrace int `yaml:"close_grace"`

	// SendInterval and ReceiveInterval are the task periods in milliseconds.
	SendInterval    int `yaml:"send_interval"`
	ReceiveInterval int `yaml:"receive_interval"`

	// MessageTTL expires unsent messages after this many seconds. Zero
	// disables expiry.
	MessageTTL int `yaml:"message_ttl"`
}

// RetryConfig selects and tunes the message retry policy.
type RetryConfig struct {
	// Policy is "exponential", "fixed" or "none".
	Policy string `yaml:"policy"`

	// Backoff bounds in milliseconds, for the exponential policy.
	MinBackoff     int  `yaml:"min_backoff"`
	MaxBackoff     int  `yaml:"max_backoff"`
	DeltaBackoff   int  `yaml:"delta_backoff"`
	FirstFastRetry bool `yaml:"first_fast_retry"`

	// Interval is the fixed policy's wait in milliseconds.
	Interval int `yaml:"interval"`

	MaxAttempts int `yaml:"max_attempts"`

	// MaxElapsed is the overall retry budget in seconds.
	MaxElapsed int `yaml:"max_elapsed"`
}

// ReconnectConfig contains reconnection settings. Delays are in seconds.
type ReconnectConfig struct {
	Enabled      bool    `yaml:"enabled"`
	InitialDelay int     `yaml:"initial_delay"`
	MaxDelay     int     `yaml:"max_delay"`
	Multiplier   float64 `yaml:"multiplier"`
	MaxAttempts  int     `yaml:"max_attempts"`
	MaxElapsed   int     `yaml:"max_elapsed"`
}

// LedgerConfig contains the SQLite delivery ledger settings.
type LedgerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// Retention is how many days of records Prune keeps. Zero keeps all.
	Retention int `yaml:"retention"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the local operations API settings.
type APIConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Listen    string          `yaml:"listen"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// TimeoutConfig contains HTTP timeout settings in seconds.
type TimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains the event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MetricsConfig contains the Prometheus endpoint settings. Metrics are
// served on the API listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TelemetryConfig contains the heartbeat telemetry settings.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval between heartbeats in seconds.
	Interval int `yaml:"interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HUBLINK_SECTION_KEY
// For example: HUBLINK_DEVICE_ID, HUBLINK_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			SASTokenTTL: 3600,
		},
		Connection: ConnectionConfig{
			Mode: "mqtt",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port: 8883,
				TLS:  true,
			},
			QoS:              1,
			KeepAlive:        240,
			SubscribeTwin:    true,
			SubscribeMethods: true,
		},
		Transport: TransportConfig{
			MaxMessagesPerSend: 10,
			ConnectTimeout:     30,
			CloseGrace:         5000,
			SendInterval:       10,
			ReceiveInterval:    10,
		},
		Retry: RetryConfig{
			Policy:         "exponential",
			MinBackoff:     100,
			MaxBackoff:     10000,
			DeltaBackoff:   100,
			FirstFastRetry: true,
			Interval:       1000,
			MaxElapsed:     240,
		},
		Reconnect: ReconnectConfig{
			Enabled:      true,
			InitialDelay: 1,
			MaxDelay:     60,
			Multiplier:   1.5,
			MaxElapsed:   240,
		},
		Ledger: LedgerConfig{
			Enabled:     true,
			Path:        "./data/hublink.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9464",
			Timeouts: TimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				Path:           "/api/v1/ws",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Telemetry: TelemetryConfig{
			Enabled:  true,
			Interval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HUBLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("HUBLINK_HUB_HOSTNAME"); v != "" {
		cfg.Device.HubHostname = v
	}
	if v := os.Getenv("HUBLINK_DEVICE_ID"); v != "" {
		cfg.Device.DeviceID = v
	}
	if v := os.Getenv("HUBLINK_MODULE_ID"); v != "" {
		cfg.Device.ModuleID = v
	}
	if v := os.Getenv("HUBLINK_SHARED_ACCESS_KEY"); v != "" {
		cfg.Device.SharedAccessKey = v
	}
	if v := os.Getenv("HUBLINK_CONNECTION_MODE"); v != "" {
		cfg.Connection.Mode = v
	}

	// MQTT
	if v := os.Getenv("HUBLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HUBLINK_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HUBLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HUBLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Ledger
	if v := os.Getenv("HUBLINK_LEDGER_PATH"); v != "" {
		cfg.Ledger.Path = v
	}

	// InfluxDB
	if v := os.Getenv("HUBLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("HUBLINK_API_LISTEN"); v != "" {
		cfg.API.Listen = v
	}

	// Logging
	if v := os.Getenv("HUBLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	if c.Device.DeviceID == "" {
		errs = append(errs, "device.device_id is required (set HUBLINK_DEVICE_ID environment variable)")
	}

	// Connection validation
	switch c.Connection.Mode {
	case "loopback":
	case "mqtt":
		if c.Device.HubHostname == "" && c.MQTT.Broker.Host == "" {
			errs = append(errs, "device.hub_hostname or mqtt.broker.host is required for mqtt mode")
		}
		if c.MQTT.Auth.Password == "" && c.Device.SharedAccessKey == "" {
			errs = append(errs, "device.shared_access_key or mqtt.auth.password is required for mqtt mode")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	default:
		errs = append(errs, fmt.Sprintf("connection.mode %q must be mqtt or loopback", c.Connection.Mode))
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 1 {
		errs = append(errs, "mqtt.qos must be 0 or 1")
	}

	// Retry validation
	switch c.Retry.Policy {
	case "exponential":
		if c.Retry.MinBackoff < 0 || c.Retry.MaxBackoff < c.Retry.MinBackoff {
			errs = append(errs, "retry.max_backoff must be at least retry.min_backoff")
		}
	case "fixed":
		if c.Retry.Interval <= 0 {
			errs = append(errs, "retry.interval must be positive for the fixed policy")
		}
	case "none":
	default:
		errs = append(errs, fmt.Sprintf("retry.policy %q must be exponential, fixed or none", c.Retry.Policy))
	}
	if c.Retry.MaxAttempts < 0 || c.Retry.MaxElapsed < 0 {
		errs = append(errs, "retry cutoffs must not be negative")
	}

	// Reconnect validation
	if c.Reconnect.Multiplier != 0 && c.Reconnect.Multiplier < 1 {
		errs = append(errs, "reconnect.multiplier must be at least 1")
	}
	if c.Reconnect.MaxAttempts < 0 || c.Reconnect.MaxElapsed < 0 {
		errs = append(errs, "reconnect cutoffs must not be negative")
	}

	// Ledger validation
	if c.Ledger.Enabled && c.Ledger.Path == "" {
		errs = append(errs, "ledger.path is required when the ledger is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled && c.API.Listen == "" {
		errs = append(errs, "api.listen is required when the api is enabled")
	}
	if c.Metrics.Enabled && !c.API.Enabled {
		errs = append(errs, "metrics are served by the api; enable api or disable metrics")
	}

	// Telemetry validation
	if c.Telemetry.Enabled && c.Telemetry.Interval <= 0 {
		errs = append(errs, "telemetry.interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerHost returns the MQTT host, falling back to the hub hostname.
func (c *Config) BrokerHost() string {
	if c.MQTT.Broker.Host != "" {
		return c.MQTT.Broker.Host
	}
	return c.Device.HubHostname
}

// GetConnectTimeout returns the connection timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Transport.ConnectTimeout) * time.Second
}

// GetCloseGrace returns the close grace period as a Duration.
func (c *Config) GetCloseGrace() time.Duration {
	return time.Duration(c.Transport.CloseGrace) * time.Millisecond
}

// GetSendInterval returns the send task period as a Duration.
func (c *Config) GetSendInterval() time.Duration {
	return time.Duration(c.Transport.SendInterval) * time.Millisecond
}

// GetReceiveInterval returns the receive task period as a Duration.
func (c *Config) GetReceiveInterval() time.Duration {
	return time.Duration(c.Transport.ReceiveInterval) * time.Millisecond
}

// GetMessageTTL returns the message expiry as a Duration.
func (c *Config) GetMessageTTL() time.Duration {
	return time.Duration(c.Transport.MessageTTL) * time.Second
}

// GetSASTokenTTL returns the SAS token lifetime as a Duration.
func (c *Config) GetSASTokenTTL() time.Duration {
	return time.Duration(c.Device.SASTokenTTL) * time.Second
}

// GetTelemetryInterval returns the heartbeat period as a Duration.
func (c *Config) GetTelemetryInterval() time.Duration {
	return time.Duration(c.Telemetry.Interval) * time.Second
}
