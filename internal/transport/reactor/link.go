package reactor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/hublink/internal/message"
	"github.com/nerrad567/hublink/internal/transport"
)

// LinkConfig configures a Link.
type LinkConfig struct {
	IdleTimeout time.Duration
	FinalDrain  int
}

// Link is a transport.Connection backed by an Engine. Every Open builds a
// new engine from the factory and a new Runner to drive it.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Link struct {
	factory Factory
	cfg     LinkConfig

	logger   Logger
	loggerMu sync.RWMutex

	mu       sync.Mutex
	listener transport.Listener
	engine   Engine
	runner   *Runner
	connID   string
	pending  map[transport.DeliveryTag]string
}

// NewLink creates a Link that builds engines with factory.
func NewLink(factory Factory, cfg LinkConfig) *Link {
	return &Link{
		factory: factory,
		cfg:     cfg,
		pending: make(map[transport.DeliveryTag]string),
	}
}

// SetLogger sets the logger passed to every Runner.
func (l *Link) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	defer l.loggerMu.Unlock()
	l.logger = logger
}

func (l *Link) log() Logger {
	l.loggerMu.RLock()
	defer l.loggerMu.RUnlock()
	if l.logger == nil {
		return noopLogger{}
	}
	return l.logger
}

// SetListener implements transport.Connection.
func (l *Link) SetListener(listener transport.Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listener = listener
}

// Open implements transport.Connection. It starts a new runner and waits
// for the engine's handshake, the runner's exit or ctx.
func (l *Link) Open(ctx context.Context) error {
	if err := l.Close(); err != nil {
		return err
	}

	connID := uuid.NewString()
	h := &linkHandler{link: l, connID: connID, opened: make(chan struct{})}
	engine, err := l.factory(h)
	if err != nil {
		return transport.NewError(transport.KindProtocol, "open", err)
	}

	l.mu.Lock()
	runner := NewRunner(engine, RunnerConfig{
		ConnectionID: connID,
		IdleTimeout:  l.cfg.IdleTimeout,
		FinalDrain:   l.cfg.FinalDrain,
		Listener:     l.listener,
		OnClosedUnexpectedly: func(error) {
			l.release(connID)
		},
		Logger: l.log(),
	})
	l.engine = engine
	l.runner = runner
	l.connID = connID
	l.mu.Unlock()

	go runner.Run()

	select {
	case <-h.opened:
		return nil
	case <-runner.Done():
		l.release(connID)
		return transport.NewError(transport.KindNetwork, "open", ErrEngineStopped)
	case <-ctx.Done():
		l.Close() //nolint:errcheck // Close never fails
		kind := transport.KindTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			kind = transport.KindNetwork
		}
		return transport.NewError(kind, "open", ctx.Err())
	}
}

// Close implements transport.Connection. It stops the current runner and
// waits for it to free its engine.
func (l *Link) Close() error {
	l.mu.Lock()
	runner := l.runner
	l.runner = nil
	l.engine = nil
	clear(l.pending)
	l.mu.Unlock()

	if runner != nil {
		runner.Stop()
		<-runner.Done()
	}
	return nil
}

// release drops references to the engine of connection connID after it
// has been freed.
func (l *Link) release(connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connID != connID {
		return
	}
	l.runner = nil
	l.engine = nil
	clear(l.pending)
}

// Send implements transport.Connection.
func (l *Link) Send(ctx context.Context, msg *message.Message) (transport.DeliveryTag, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.engine == nil {
		return 0, transport.NewError(transport.KindNetwork, "send", ErrNotOpen)
	}
	tag, err := l.engine.Send(msg)
	if err != nil {
		return 0, classify("send", err)
	}
	l.pending[tag] = msg.ID
	return tag, nil
}

// Receive implements transport.Connection.
func (l *Link) Receive(ctx context.Context) (*message.Message, error) {
	l.mu.Lock()
	engine := l.engine
	l.mu.Unlock()

	if engine == nil {
		return nil, nil
	}
	msg, err := engine.Poll()
	if err != nil {
		return nil, classify("receive", err)
	}
	return msg, nil
}

// Complete implements transport.Connection.
func (l *Link) Complete(ctx context.Context, msg *message.Message, result message.Result) error {
	l.mu.Lock()
	engine := l.engine
	l.mu.Unlock()

	if engine == nil {
		return transport.NewError(transport.KindNetwork, "complete", ErrNotOpen)
	}
	settler, ok := engine.(Settler)
	if !ok {
		return nil
	}
	if err := settler.Settle(msg, result); err != nil {
		return classify("complete", err)
	}
	return nil
}

// ConnectionID implements transport.Connection.
func (l *Link) ConnectionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connID
}

func (l *Link) delivered(connID string, tag transport.DeliveryTag, err error) {
	l.mu.Lock()
	if l.connID != connID {
		l.mu.Unlock()
		return
	}
	id, ok := l.pending[tag]
	delete(l.pending, tag)
	listener := l.listener
	l.mu.Unlock()

	if ok && listener != nil {
		if err != nil {
			err = classify("deliver", err)
		}
		listener.OnMessageSent(id, err)
	}
}

func (l *Link) received(connID string, msg *message.Message) {
	l.mu.Lock()
	current := l.connID == connID
	listener := l.listener
	l.mu.Unlock()

	if current && listener != nil {
		listener.OnMessageReceived(msg, nil)
	}
}

// classify keeps transport errors as they are and treats anything else as
// a retryable network failure.
func classify(op string, err error) error {
	var te *transport.Error
	if errors.As(err, &te) {
		return err
	}
	return transport.NewError(transport.KindNetwork, op, err)
}

// linkHandler routes engine events for one connection attempt.
type linkHandler struct {
	link     *Link
	connID   string
	opened   chan struct{}
	openOnce sync.Once
}

func (h *linkHandler) Opened() {
	h.openOnce.Do(func() { close(h.opened) })
}

func (h *linkHandler) Delivered(tag transport.DeliveryTag, err error) {
	h.link.delivered(h.connID, tag, err)
}

func (h *linkHandler) Received(msg *message.Message) {
	h.link.received(h.connID, msg)
}
