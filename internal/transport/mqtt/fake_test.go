package mqtt

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/hublink/internal/message"
)

// fakeToken is a pahomqtt.Token completed by the test or at creation.
type fakeToken struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func doneToken(err error) *fakeToken {
	tok := newToken()
	tok.complete(err)
	return tok
}

func (t *fakeToken) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *fakeToken) Wait() bool { <-t.done; return true }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

// fakeMessage is an inbound publication.
type fakeMessage struct {
	topic   string
	payload []byte
	acks    atomic.Int32
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              { m.acks.Add(1) }

type publication struct {
	topic   string
	qos     byte
	payload []byte
	token   *fakeToken
}

// fakeClient is a scripted pahomqtt.Client.
type fakeClient struct {
	opts *pahomqtt.ClientOptions

	mu          sync.Mutex
	connectErr  error
	publishErr  error
	holdPublish bool
	published   []publication
	handlers    map[string]pahomqtt.MessageHandler
	disconnects int
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }

func (c *fakeClient) Connect() pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return doneToken(c.connectErr)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok := newToken()
	if !c.holdPublish {
		tok.complete(c.publishErr)
	}
	c.published = append(c.published, publication{topic: topic, qos: qos, payload: payload.([]byte), token: tok})
	return tok
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[string]pahomqtt.MessageHandler)
	}
	c.handlers[topic] = cb
	return doneToken(nil)
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return doneToken(nil)
}

func (c *fakeClient) Unsubscribe(...string) pahomqtt.Token { return doneToken(nil) }

func (c *fakeClient) AddRoute(string, pahomqtt.MessageHandler) {}

func (c *fakeClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.NewOptionsReader(c.opts)
}

// deliver invokes the handler subscribed on filter.
func (c *fakeClient) deliver(t *testing.T, filter string, m *fakeMessage) {
	t.Helper()
	c.mu.Lock()
	cb := c.handlers[filter]
	c.mu.Unlock()
	if cb == nil {
		t.Fatalf("no subscription on %s", filter)
	}
	cb(c, m)
}

func (c *fakeClient) publications() []publication {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publication(nil), c.published...)
}

// listenerLog records listener callbacks.
type listenerLog struct {
	sent     chan sentEvent
	received chan receivedEvent
	lost     chan lostEvent
}

type sentEvent struct {
	id  string
	err error
}

type receivedEvent struct {
	msg *message.Message
	err error
}

type lostEvent struct {
	cause  error
	connID string
}

func newListenerLog() *listenerLog {
	return &listenerLog{
		sent:     make(chan sentEvent, 16),
		received: make(chan receivedEvent, 16),
		lost:     make(chan lostEvent, 4),
	}
}

func (l *listenerLog) OnMessageSent(id string, err error) {
	l.sent <- sentEvent{id: id, err: err}
}

func (l *listenerLog) OnMessageReceived(msg *message.Message, err error) {
	l.received <- receivedEvent{msg: msg, err: err}
}

func (l *listenerLog) OnConnectionLost(cause error, connID string) {
	l.lost <- lostEvent{cause: cause, connID: connID}
}

// next reads one value from ch or fails after two seconds.
func next[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		var zero T
		t.Fatal("timed out waiting for listener event")
		return zero
	}
}
