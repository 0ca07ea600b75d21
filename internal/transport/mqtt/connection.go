package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/hublink/internal/infrastructure/config"
	"github.com/nerrad567/hublink/internal/message"
	"github.com/nerrad567/hublink/internal/transport"
)

// Logger defines the logging interface used by the connection.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Connection is a transport.Connection over paho.mqtt.golang.
//
// Each Open creates a new paho client. Publishes complete asynchronously:
// the outcome of a Send is reported through Listener.OnMessageSent once the
// broker acknowledges it or the publish times out.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Connection struct {
	device config.DeviceConfig
	cfg    config.MQTTConfig
	host   string
	topics Topics
	clock  clockwork.Clock

	// PublishTimeout bounds the wait for each publish acknowledgement.
	publishTimeout time.Duration

	// newClient builds the paho client; replaced in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	logger   Logger
	loggerMu sync.RWMutex

	mu       sync.Mutex
	listener transport.Listener
	client   pahomqtt.Client
	connID   string
	token    SASToken
	// closing is closed when the current client is torn down, ending its
	// publish waiters.
	closing chan struct{}
	// unacked holds inbound messages awaiting Complete, by message id.
	unacked map[string]pahomqtt.Message

	nextTag atomic.Uint64
	wg      sync.WaitGroup
}

// New creates an MQTT connection for the device identity. host overrides
// the hub hostname as the broker address when cfg.Broker.Host is set.
func New(device config.DeviceConfig, cfg config.MQTTConfig) *Connection {
	host := cfg.Broker.Host
	if host == "" {
		host = device.HubHostname
	}
	return &Connection{
		device:         device,
		cfg:            cfg,
		host:           host,
		topics:         Topics{DeviceID: device.DeviceID, ModuleID: device.ModuleID},
		clock:          clockwork.NewRealClock(),
		publishTimeout: defaultPublishTimeout,
		newClient:      pahomqtt.NewClient,
		unacked:        make(map[string]pahomqtt.Message),
	}
}

// SetLogger sets the logger for connection events.
func (c *Connection) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

func (c *Connection) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// Topics returns the topic builder for the connection's identity.
func (c *Connection) Topics() Topics {
	return c.topics
}

// SetListener implements transport.Connection.
func (c *Connection) SetListener(l transport.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// ConnectionID implements transport.Connection.
func (c *Connection) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// TokenExpiry returns the expiry of the SAS token presented by the last
// Open, or the zero time when an explicit password is used.
func (c *Connection) TokenExpiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token.Expiry
}

// password returns the configured password or signs a new SAS token.
func (c *Connection) password() (string, SASToken, error) {
	if c.cfg.Auth.Password != "" {
		return c.cfg.Auth.Password, SASToken{}, nil
	}
	if c.device.SharedAccessKey == "" {
		return "", SASToken{}, ErrMissingKey
	}
	ttl := time.Duration(c.device.SASTokenTTL) * time.Second
	token, err := NewSASToken(resourceURI(c.device.HubHostname, c.topics), c.device.SharedAccessKey, c.clock.Now(), ttl)
	if err != nil {
		return "", SASToken{}, err
	}
	return token.String(), token, nil
}

// Open implements transport.Connection. It connects a new paho client and
// subscribes to the identity's inbound topics.
func (c *Connection) Open(ctx context.Context) error {
	if err := c.Close(); err != nil {
		return err
	}

	password, token, err := c.password()
	if err != nil {
		return classify("open", err)
	}

	connID := uuid.NewString()
	opts := buildClientOptions(c.device, c.cfg, c.host, password)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(connID, err)
	})
	if deadline, ok := ctx.Deadline(); ok {
		opts.SetConnectTimeout(time.Until(deadline))
	}

	client := c.newClient(opts)
	if err := wait(ctx, client.Connect(), 0); err != nil {
		client.Disconnect(0)
		return classify("open", err)
	}

	closing := make(chan struct{})
	c.mu.Lock()
	c.client = client
	c.connID = connID
	c.token = token
	c.closing = closing
	c.mu.Unlock()

	if err := c.subscribe(ctx, client, connID); err != nil {
		c.Close() //nolint:errcheck // Close never fails
		return classify("subscribe", err)
	}

	c.log().Info("mqtt connected",
		"host", c.host,
		"client_id", clientID(c.device),
		"connection_id", connID,
	)
	return nil
}

func (c *Connection) subscribe(ctx context.Context, client pahomqtt.Client, connID string) error {
	topics := []string{c.topics.CloudToDevice()}
	if c.cfg.SubscribeMethods {
		topics = append(topics, c.topics.Methods())
	}
	if c.cfg.SubscribeTwin {
		topics = append(topics, c.topics.TwinResponses(), c.topics.TwinDesired())
	}

	qos := byte(c.cfg.QoS)
	for _, topic := range topics {
		token := client.Subscribe(topic, qos, func(_ pahomqtt.Client, m pahomqtt.Message) {
			c.handleMessage(connID, m)
		})
		if err := wait(ctx, token, defaultSubscribeTimeout); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
		}
		if st, ok := token.(*pahomqtt.SubscribeToken); ok {
			for _, granted := range st.Result() {
				if granted == 0x80 {
					return fmt.Errorf("%w: %s refused by broker", ErrSubscribeFailed, topic)
				}
			}
		}
	}
	return nil
}

// Close implements transport.Connection. It is idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	client := c.client
	closing := c.closing
	c.client = nil
	c.closing = nil
	clear(c.unacked)
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	close(closing)
	client.Disconnect(defaultDisconnectQuiesce)
	c.wg.Wait()
	c.log().Debug("mqtt disconnected")
	return nil
}

// Send implements transport.Connection. The publish outcome is reported
// through the listener.
func (c *Connection) Send(ctx context.Context, msg *message.Message) (transport.DeliveryTag, error) {
	if len(msg.Payload) > maxPayloadSize {
		return 0, classify("send", fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(msg.Payload), maxPayloadSize))
	}
	topic, err := c.topics.PublishTopic(msg)
	if err != nil {
		return 0, classify("send", err)
	}

	c.mu.Lock()
	client := c.client
	closing := c.closing
	listener := c.listener
	if client == nil {
		c.mu.Unlock()
		return 0, classify("send", ErrNotConnected)
	}
	c.wg.Add(1)
	c.mu.Unlock()

	token := client.Publish(topic, byte(c.cfg.QoS), false, msg.Payload)
	tag := transport.DeliveryTag(c.nextTag.Add(1))

	go func() {
		defer c.wg.Done()
		var err error
		timer := c.clock.After(c.publishTimeout)
		select {
		case <-token.Done():
			err = token.Error()
		case <-timer:
			err = fmt.Errorf("%w: publish after %v", ErrTimeout, c.publishTimeout)
		case <-closing:
			err = ErrNotConnected
		}
		if listener != nil {
			listener.OnMessageSent(msg.ID, classify("publish", err))
		}
	}()

	return tag, nil
}

// Receive implements transport.Connection. Inbound messages are pushed to
// the listener as they arrive, so Receive never returns one.
func (c *Connection) Receive(context.Context) (*message.Message, error) {
	return nil, nil
}

// Complete implements transport.Connection. Complete and Reject
// acknowledge the publication; Abandon leaves it unacknowledged so the hub
// redelivers it on the next session.
func (c *Connection) Complete(_ context.Context, msg *message.Message, result message.Result) error {
	c.mu.Lock()
	m, ok := c.unacked[msg.ID]
	delete(c.unacked, msg.ID)
	connected := c.client != nil
	c.mu.Unlock()

	if !ok {
		if !connected {
			return classify("complete", ErrNotConnected)
		}
		return nil
	}
	if result == message.Abandon {
		c.log().Debug("abandoning inbound message", "message_id", msg.ID)
		return nil
	}
	m.Ack()
	return nil
}

// handleMessage converts a publication and passes it to the listener.
func (c *Connection) handleMessage(connID string, m pahomqtt.Message) {
	c.mu.Lock()
	current := c.connID == connID && c.client != nil
	listener := c.listener
	c.mu.Unlock()
	if !current || listener == nil {
		return
	}

	msg, err := c.topics.Parse(m.Topic(), m.Payload())
	if err != nil {
		m.Ack()
		c.log().Warn("dropping unparseable inbound message", "topic", m.Topic(), "error", err)
		listener.OnMessageReceived(nil, classify("receive", err))
		return
	}

	if msg.Type == message.TypeTwinResponse {
		if err := statusError("twin", msg.ResponseStatus); err != nil {
			c.log().Warn("twin request failed", "request_id", msg.CorrelationID, "error", err)
		}
	}

	c.mu.Lock()
	c.unacked[msg.ID] = m
	c.mu.Unlock()
	listener.OnMessageReceived(msg, nil)
}

func (c *Connection) handleConnectionLost(connID string, err error) {
	c.mu.Lock()
	current := c.connID == connID
	listener := c.listener
	c.mu.Unlock()
	if !current || listener == nil {
		return
	}

	cause := classify("connection", err)
	c.mu.Lock()
	expired := c.token.Expiry
	c.mu.Unlock()
	if !expired.IsZero() && !c.clock.Now().Before(expired) {
		cause = transport.NewError(transport.KindSASTokenExpired, "connection", err).WithRetryable(true)
	}

	c.log().Warn("mqtt connection lost", "connection_id", connID, "error", err)
	listener.OnConnectionLost(cause, connID)
}

// wait blocks until token completes, ctx ends or timeout passes. A zero
// timeout waits on ctx alone.
func wait(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-expired:
		return fmt.Errorf("%w: after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}
