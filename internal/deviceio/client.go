package deviceio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/hublink/internal/message"
	"github.com/nerrad567/hublink/internal/transport"
)

// DefaultTaskInterval is the default period of the send and receive tasks.
const DefaultTaskInterval = 10 * time.Millisecond

// Coordinator is the part of *transport.Transport a Client drives.
type Coordinator interface {
	Open(ctx context.Context) error
	Close() error
	Status() transport.ConnectionStatus

	AddMessage(msg *message.Message, cb message.EventCallback, callbackCtx any) error
	SendReady() <-chan struct{}
	HasMessagesToSend() bool
	SendMessages() error
	HasCallbacksToExecute() bool
	InvokeCallbacks()

	HandleMessages() error
	RegisterMessageCallback(typ message.Type, cb message.Callback, callbackCtx any) error
	RegisterConnectionStatusChangeCallback(cb transport.StatusCallback, callbackCtx any)
}

// Config configures a Client. Zero fields take defaults.
type Config struct {
	// SendInterval is the send task period. Default: 10ms.
	SendInterval time.Duration

	// ReceiveInterval is the receive task period. Default: 10ms.
	ReceiveInterval time.Duration

	// Clock drives the task tickers. Default: the wall clock.
	Clock clockwork.Clock
}

// Client is a device or module identity's connection to the hub.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	coord Coordinator
	cfg   Config

	logger   Logger
	loggerMu sync.RWMutex

	mu      sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewClient creates a Client driving coord.
func NewClient(coord Coordinator, cfg Config) (*Client, error) {
	if coord == nil {
		return nil, ErrNilCoordinator
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = DefaultTaskInterval
	}
	if cfg.ReceiveInterval <= 0 {
		cfg.ReceiveInterval = DefaultTaskInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Client{coord: coord, cfg: cfg}, nil
}

// SetLogger sets the logger for the client and its tasks.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// Open connects to the hub and starts the send and receive tasks.
//
// Open blocks until the handshake completes or fails. It may be called
// again after a failed attempt.
//
// Returns:
//   - ErrClientClosed after Close, including a Close that ran while the
//     handshake was in progress
//   - the coordinator's error if the connection could not be opened
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.mu.Unlock()

	if err := c.coord.Open(ctx); err != nil {
		return fmt.Errorf("opening transport: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.running {
		return nil
	}
	taskCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true

	send := newTask("send", c.cfg.SendInterval, c.cfg.Clock, c.coord.SendReady(), c.sendCycle, c.log)
	receive := newTask("receive", c.cfg.ReceiveInterval, c.cfg.Clock, nil, c.receiveCycle, c.log)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		send.run(taskCtx)
	}()
	go func() {
		defer c.wg.Done()
		receive.run(taskCtx)
	}()

	c.log().Info("device client opened")
	return nil
}

// Close stops the tasks and closes the transport, cancelling any message
// still pending. The client cannot be reopened. Calling Close again is a
// no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	if err := c.coord.Close(); err != nil {
		return fmt.Errorf("closing transport: %w", err)
	}
	c.log().Info("device client closed")
	return nil
}

// Status returns the current connection status.
func (c *Client) Status() transport.ConnectionStatus {
	return c.coord.Status()
}

// AddMessage queues msg for sending. cb is called exactly once with the
// outcome. It never blocks on I/O.
func (c *Client) AddMessage(msg *message.Message, cb message.EventCallback, callbackCtx any) error {
	return c.coord.AddMessage(msg, cb, callbackCtx)
}

// RegisterConnectionStatusChangeCallback sets the connection status
// callback.
func (c *Client) RegisterConnectionStatusChangeCallback(cb transport.StatusCallback, callbackCtx any) {
	c.coord.RegisterConnectionStatusChangeCallback(cb, callbackCtx)
}

// RegisterMessageCallback sets the callback for inbound messages of typ.
func (c *Client) RegisterMessageCallback(typ message.Type, cb message.Callback, callbackCtx any) error {
	return c.coord.RegisterMessageCallback(typ, cb, callbackCtx)
}

func (c *Client) sendCycle() error {
	var err error
	if c.coord.HasMessagesToSend() {
		err = c.coord.SendMessages()
		if errors.Is(err, transport.ErrNotConnected) {
			err = nil
		}
	}
	if c.coord.HasCallbacksToExecute() {
		c.coord.InvokeCallbacks()
	}
	return err
}

func (c *Client) receiveCycle() error {
	return c.coord.HandleMessages()
}
