package transport

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/hublink/internal/message"
	"github.com/nerrad567/hublink/internal/retry"
)

// Default tuning for a Transport.
const (
	DefaultMaxMessagesPerSend = 10
	DefaultConnectTimeout     = 30 * time.Second
	DefaultCloseGrace         = 5 * time.Second
)

// Config configures a Transport. Zero fields take defaults.
type Config struct {
	// RetryPolicy decides whether a failed message send is retried.
	// Default: exponential backoff with jitter bounded by
	// retry.DefaultMaxElapsed.
	RetryPolicy retry.Policy

	// Reconnection decides whether a lost connection is re-established.
	// The Transport owns this instance; do not share it.
	// Default: retry.NewReconnection with default delays, each failure
	// streak bounded by retry.DefaultMaxElapsed.
	Reconnection retry.ReconnectionPolicy

	// Clock drives expiry and backoff. Default: the wall clock.
	Clock clockwork.Clock

	// Observer is told about message and connection events. Optional.
	Observer Observer

	// MaxMessagesPerSend bounds how many messages one SendMessages call
	// hands to the connection. Default: 10.
	MaxMessagesPerSend int

	// ConnectTimeout bounds each Connection.Open. Default: 30s.
	ConnectTimeout time.Duration

	// CloseGrace is how long Close waits for in-flight acknowledgements.
	// Default: 5s. Negative disables the wait.
	CloseGrace time.Duration
}

type registration struct {
	cb  message.Callback
	ctx any
}

type pendingAck struct {
	msg    *message.Message
	result message.Result
}

type statusEvent struct {
	status ConnectionStatus
	reason ChangeReason
	cause  error
	cb     StatusCallback
	cbCtx  any
}

// openLoss is a connection loss reported while Connection.Open ran.
type openLoss struct {
	connID string
	cause  error
}

type retryEvent struct {
	p     *packet
	after time.Duration
	cause error
}

// Transport is the single authority over connection lifecycle and message
// flow for one device or module identity.
//
// Thread Safety:
//   - AddMessage, the predicates and the Listener methods are safe for
//     concurrent use with SendMessages, InvokeCallbacks and HandleMessages.
//   - Open and Close are serialised internally.
type Transport struct {
	conn      Connection
	cfg       Config
	clock     clockwork.Clock
	policy    retry.Policy
	reconnect retry.ReconnectionPolicy
	observer  Observer

	logger   Logger
	loggerMu sync.RWMutex

	// ctx is cancelled by Close to interrupt reconnect backoff and sends.
	ctx    context.Context
	cancel context.CancelFunc

	lifecycleMu sync.Mutex

	mu          sync.Mutex
	status      ConnectionStatus
	closed      bool
	opened      bool
	connID      string
	opening     bool
	openLosses  []openLoss
	seq         uint64
	waiting     *outboundQueue
	inFlight    map[string]*packet
	drained     chan struct{}
	completions []completion
	received    []*message.Message
	acks        []pendingAck
	statusCB    StatusCallback
	statusCBCtx any
	handlers    map[message.Type]registration

	sendReady chan struct{}

	reconnectWG sync.WaitGroup

	notifyMu  sync.Mutex
	notifyQ   []statusEvent
	notifying bool
}

// New creates a Transport driving conn and registers itself as conn's
// listener. The transport starts Disconnected.
func New(conn Connection, cfg Config) (*Transport, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RetryPolicy == nil {
		cfg.RetryPolicy = retry.NewExponentialBackoff(retry.Cutoff{})
	}
	if cfg.Reconnection == nil {
		cfg.Reconnection = retry.NewReconnection(retry.ReconnectConfig{
			InitialDelay: retry.DefaultReconnectInitialDelay,
		}, cfg.Clock)
	}
	if cfg.Observer == nil {
		cfg.Observer = Observers(nil)
	}
	if cfg.MaxMessagesPerSend <= 0 {
		cfg.MaxMessagesPerSend = DefaultMaxMessagesPerSend
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.CloseGrace == 0 {
		cfg.CloseGrace = DefaultCloseGrace
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:      conn,
		cfg:       cfg,
		clock:     cfg.Clock,
		policy:    cfg.RetryPolicy,
		reconnect: cfg.Reconnection,
		observer:  cfg.Observer,
		ctx:       ctx,
		cancel:    cancel,
		status:    Disconnected,
		waiting:   newOutboundQueue(),
		inFlight:  make(map[string]*packet),
		handlers:  make(map[message.Type]registration),
		sendReady: make(chan struct{}, 1),
	}
	conn.SetListener(t)
	return t, nil
}

// SetLogger sets the logger for transport events.
func (t *Transport) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	defer t.loggerMu.Unlock()
	t.logger = logger
}

func (t *Transport) log() Logger {
	t.loggerMu.RLock()
	defer t.loggerMu.RUnlock()
	if t.logger == nil {
		return noopLogger{}
	}
	return t.logger
}

// Status returns the current connection status.
func (t *Transport) Status() ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SendReady returns a channel that receives a value whenever there may be
// new work for the send task.
func (t *Transport) SendReady() <-chan struct{} {
	return t.sendReady
}

func (t *Transport) signalSend() {
	select {
	case t.sendReady <- struct{}{}:
	default:
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Open connects the transport. Retryable handshake failures are retried
// according to the reconnection policy before Open gives up.
//
// Returns ErrAlreadyOpen if the transport is not disconnected and
// ErrClosed after Close.
func (t *Transport) Open(ctx context.Context) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.status != Disconnected {
		t.mu.Unlock()
		return ErrAlreadyOpen
	}
	t.transitionLocked(Connecting, ReasonConnectionOK, nil)
	t.mu.Unlock()

	for {
		err := t.openConnection(ctx)
		if err == nil {
			break
		}
		if !retry.IsRetryable(err) {
			t.failOpen(err)
			return fmt.Errorf("opening connection: %w", err)
		}
		t.log().Warn("open attempt failed", "error", err)
		if !t.reconnect.WaitAndRetry(ctx) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				t.failOpen(err)
				return fmt.Errorf("opening connection: %w", ctxErr)
			}
			expired := fmt.Errorf("%w: %w", ErrRetryExpired, err)
			t.failOpen(expired)
			return expired
		}
	}

	t.log().Info("transport connected", "connection_id", t.conn.ConnectionID())

	t.signalSend()
	return nil
}

// openConnection opens the connection and moves the transport to
// Connected. A loss reported for the new connection before that move
// fails the attempt.
func (t *Transport) openConnection(ctx context.Context) error {
	openCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	t.mu.Lock()
	t.opening = true
	t.openLosses = nil
	t.mu.Unlock()

	err := t.conn.Open(openCtx)
	connID := t.conn.ConnectionID()

	t.mu.Lock()
	losses := t.openLosses
	t.opening = false
	t.openLosses = nil
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.opened = true
	if lost := lostDuringOpen(losses, connID); lost != nil {
		t.mu.Unlock()
		if cerr := t.conn.Close(); cerr != nil {
			t.log().Debug("closing lost connection", "error", cerr)
		}
		return lost
	}
	t.connID = connID
	t.reconnect.Reset()
	if !t.closed {
		t.transitionLocked(Connected, ReasonConnectionOK, nil)
	}
	t.mu.Unlock()
	return nil
}

// lostDuringOpen returns the open failure for the first loss reported for
// connID, or nil. Losses without a connection id count as current. The
// loss keeps its cause's retryability; untyped causes are retryable.
func lostDuringOpen(losses []openLoss, connID string) error {
	for _, l := range losses {
		if l.connID != "" && l.connID != connID {
			continue
		}
		kind, retryable := KindNetwork, true
		var te *Error
		if errors.As(l.cause, &te) {
			kind, retryable = te.Kind, te.Retryable()
		}
		return NewError(kind, "open", fmt.Errorf("%w: %w", ErrLostDuringOpen, l.cause)).WithRetryable(retryable)
	}
	return nil
}

func (t *Transport) failOpen(cause error) {
	t.reconnect.Reset()
	t.mu.Lock()
	t.transitionLocked(Disconnected, ReasonFor(cause), cause)
	t.mu.Unlock()
}

// Close shuts the transport down for good.
//
// It interrupts a pending reconnect, waits up to the close grace period
// for in-flight acknowledgements, completes every remaining message with
// message.StatusMessageCancelledOnClose, runs pending callbacks and closes
// the connection. Calling Close again is a no-op.
func (t *Transport) Close() error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.reconnectWG.Wait()

	t.awaitInFlight()

	t.mu.Lock()
	cancelled := t.inFlightBySeqLocked()
	cancelled = append(cancelled, t.waiting.drain()...)
	for _, p := range cancelled {
		t.completeLocked(p, message.StatusMessageCancelledOnClose)
	}
	clear(t.inFlight)
	opened := t.opened
	t.opened = false
	t.mu.Unlock()

	if len(cancelled) > 0 {
		t.log().Info("cancelled pending messages on close", "count", len(cancelled))
	}
	t.InvokeCallbacks()

	var err error
	if opened {
		if cerr := t.conn.Close(); cerr != nil {
			err = fmt.Errorf("closing connection: %w", cerr)
		}
	}

	t.mu.Lock()
	t.received = nil
	t.acks = nil
	t.transitionLocked(Disconnected, ReasonExpectedClose, nil)
	t.mu.Unlock()

	return err
}

func (t *Transport) awaitInFlight() {
	if t.cfg.CloseGrace < 0 {
		return
	}

	t.mu.Lock()
	if len(t.inFlight) == 0 || t.status != Connected {
		t.mu.Unlock()
		return
	}
	drained := make(chan struct{})
	t.drained = drained
	t.mu.Unlock()

	select {
	case <-drained:
	case <-t.clock.After(t.cfg.CloseGrace):
		t.log().Warn("close grace period elapsed with messages in flight")
	}

	t.mu.Lock()
	t.drained = nil
	t.mu.Unlock()
}

// =============================================================================
// Outbound
// =============================================================================

// AddMessage queues msg for sending and returns without touching the
// network. cb, if not nil, is invoked exactly once with the outcome.
//
// Messages may be added before Open and while reconnecting; they are sent
// in order once connected. Message ids must be unique among pending
// messages; an empty id is replaced with a random one.
func (t *Transport) AddMessage(msg *message.Message, cb message.EventCallback, callbackCtx any) error {
	if msg == nil {
		return ErrNilMessage
	}
	if !msg.Type.Outbound() {
		return fmt.Errorf("%w: %s cannot be sent", ErrInvalidMessageType, msg.Type)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.seq++
	t.waiting.pushBack(&packet{
		seq:         t.seq,
		msg:         msg,
		callback:    cb,
		callbackCtx: callbackCtx,
	})
	t.mu.Unlock()

	t.observer.MessageQueued(msg)
	t.signalSend()
	return nil
}

// HasMessagesToSend reports whether the outbound queue is non-empty.
func (t *Transport) HasMessagesToSend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waiting.len() > 0
}

// HasCallbacksToExecute reports whether completed messages are waiting
// for their callbacks.
func (t *Transport) HasCallbacksToExecute() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.completions) > 0
}

// Pending returns the number of queued and in-flight messages.
func (t *Transport) Pending() (queued, inFlight int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waiting.len(), len(t.inFlight)
}

// SendMessages hands up to MaxMessagesPerSend due messages to the
// connection in FIFO order.
//
// Expired messages complete with message.StatusMessageExpired. A message
// that fails transiently goes back to the head of the queue with a
// not-before time taken from the retry policy; messages behind it still go
// out in this cycle. When the policy refuses, or the failure is fatal, the
// message completes with the status mapped from the error.
func (t *Transport) SendMessages() error {
	t.mu.Lock()
	if t.status != Connected {
		t.mu.Unlock()
		return ErrNotConnected
	}

	now := t.clock.Now()
	var batch, deferred []*packet
	for len(batch) < t.cfg.MaxMessagesPerSend {
		p := t.waiting.popFront()
		if p == nil {
			break
		}
		if p.msg.IsExpired(now) {
			t.completeLocked(p, message.StatusMessageExpired)
			continue
		}
		if _, busy := t.inFlight[p.msg.ID]; busy || p.notBefore.After(now) {
			deferred = append(deferred, p)
			continue
		}
		if p.firstAttempt.IsZero() {
			p.firstAttempt = now
		}
		t.inFlight[p.msg.ID] = p
		batch = append(batch, p)
	}
	t.waiting.pushFront(deferred...)
	t.mu.Unlock()

	var requeue []*packet
	var retried []retryEvent
	for _, p := range batch {
		if !t.isInFlight(p) {
			continue
		}
		if _, err := t.conn.Send(t.ctx, p.msg); err != nil {
			t.mu.Lock()
			if t.inFlight[p.msg.ID] == p {
				t.removeInFlightLocked(p.msg.ID)
				if ev, ok := t.retryOrCompleteLocked(p, err, t.clock.Now()); ok {
					requeue = append(requeue, p)
					retried = append(retried, ev)
				}
			}
			t.mu.Unlock()
		}
	}

	if len(requeue) > 0 {
		t.mu.Lock()
		t.waiting.pushFront(requeue...)
		t.mu.Unlock()
	}
	for _, ev := range retried {
		t.reportRetry(ev)
	}
	return nil
}

func (t *Transport) isInFlight(p *packet) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == Connected && t.inFlight[p.msg.ID] == p
}

// retryOrCompleteLocked either schedules p for another attempt, leaving
// the caller to put it back at the head of the queue, or completes it.
func (t *Transport) retryOrCompleteLocked(p *packet, err error, now time.Time) (retryEvent, bool) {
	d := t.policy.Decide(retry.Attempt{
		Count:   p.retries + 1,
		Elapsed: now.Sub(p.firstAttempt),
		Err:     err,
	})
	if !d.ShouldRetry() {
		t.completeLocked(p, StatusOf(err))
		return retryEvent{}, false
	}
	p.retries++
	p.notBefore = now.Add(d.RetryAfter())
	return retryEvent{p: p, after: d.RetryAfter(), cause: err}, true
}

func (t *Transport) reportRetry(ev retryEvent) {
	t.log().Debug("message send failed, will retry",
		"message_id", ev.p.msg.ID,
		"attempt", ev.p.retries,
		"retry_after", ev.after,
		"error", ev.cause,
	)
	t.observer.MessageRetried(ev.p.msg, ev.p.retries, ev.after, ev.cause)
}

func (t *Transport) completeLocked(p *packet, status message.Status) {
	t.completions = append(t.completions, completion{p: p, status: status})
}

func (t *Transport) removeInFlightLocked(id string) {
	delete(t.inFlight, id)
	if len(t.inFlight) == 0 && t.drained != nil {
		close(t.drained)
		t.drained = nil
	}
}

func (t *Transport) inFlightBySeqLocked() []*packet {
	ps := make([]*packet, 0, len(t.inFlight))
	for _, p := range t.inFlight {
		ps = append(ps, p)
	}
	slices.SortFunc(ps, func(a, b *packet) int { return cmp.Compare(a.seq, b.seq) })
	return ps
}

// InvokeCallbacks runs every queued completion callback on the calling
// goroutine. A panicking callback is logged and does not stop the others.
func (t *Transport) InvokeCallbacks() {
	t.mu.Lock()
	pending := t.completions
	t.completions = nil
	t.mu.Unlock()

	for _, c := range pending {
		t.observer.MessageCompleted(c.p.msg, c.status, c.p.retries)
		if c.p.callback != nil {
			t.invokeEventCallback(c)
		}
	}
}

func (t *Transport) invokeEventCallback(c completion) {
	defer func() {
		if r := recover(); r != nil {
			t.log().Error("panic in message callback",
				"message_id", c.p.msg.ID,
				"status", c.status.String(),
				"panic", r,
			)
		}
	}()
	c.p.callback(c.status, c.p.callbackCtx)
}

// =============================================================================
// Inbound
// =============================================================================

// RegisterMessageCallback registers cb for inbound messages of type typ.
// A nil cb removes the registration.
func (t *Transport) RegisterMessageCallback(typ message.Type, cb message.Callback, callbackCtx any) error {
	if typ == message.TypeUnknown || typ.Outbound() {
		return fmt.Errorf("%w: %s cannot be received", ErrInvalidMessageType, typ)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cb == nil {
		delete(t.handlers, typ)
		return nil
	}
	t.handlers[typ] = registration{cb: cb, ctx: callbackCtx}
	return nil
}

// HasReceivedMessages reports whether inbound messages or their
// acknowledgements are pending.
func (t *Transport) HasReceivedMessages() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.received) > 0 || len(t.acks) > 0
}

// HandleMessages polls the connection once, dispatches every received
// message to its registered callback and reports the results back to the
// connection. Messages without a callback are abandoned.
func (t *Transport) HandleMessages() error {
	var recvErr error
	if t.Status() == Connected {
		msg, err := t.conn.Receive(t.ctx)
		if err != nil {
			recvErr = fmt.Errorf("receiving message: %w", err)
		} else if msg != nil {
			t.OnMessageReceived(msg, nil)
		}
	}

	t.mu.Lock()
	batch := t.received
	t.received = nil
	t.mu.Unlock()

	for _, msg := range batch {
		result := t.dispatch(msg)
		t.mu.Lock()
		t.acks = append(t.acks, pendingAck{msg: msg, result: result})
		t.mu.Unlock()
	}

	return errors.Join(recvErr, t.flushAcks())
}

func (t *Transport) dispatch(msg *message.Message) (result message.Result) {
	t.mu.Lock()
	reg, ok := t.handlers[msg.Type]
	t.mu.Unlock()

	if !ok {
		t.log().Warn("no callback registered for inbound message, abandoning",
			"message_id", msg.ID,
			"type", msg.Type.String(),
		)
		return message.Abandon
	}

	defer func() {
		if r := recover(); r != nil {
			t.log().Error("panic in inbound message callback",
				"message_id", msg.ID,
				"type", msg.Type.String(),
				"panic", r,
			)
			result = message.Abandon
		}
	}()
	return reg.cb(msg, reg.ctx)
}

func (t *Transport) flushAcks() error {
	t.mu.Lock()
	if t.status != Connected || len(t.acks) == 0 {
		t.mu.Unlock()
		return nil
	}
	acks := t.acks
	t.acks = nil
	t.mu.Unlock()

	for i, ack := range acks {
		err := t.conn.Complete(t.ctx, ack.msg, ack.result)
		if err == nil {
			continue
		}
		if retry.IsRetryable(err) {
			t.mu.Lock()
			t.acks = append(acks[i:len(acks):len(acks)], t.acks...)
			t.mu.Unlock()
			return fmt.Errorf("acknowledging message %s: %w", ack.msg.ID, err)
		}
		t.log().Warn("dropping acknowledgement after fatal error",
			"message_id", ack.msg.ID,
			"result", ack.result.String(),
			"error", err,
		)
	}
	return nil
}

// =============================================================================
// Listener
// =============================================================================

// OnMessageSent implements Listener.
func (t *Transport) OnMessageSent(messageID string, err error) {
	t.mu.Lock()
	p, ok := t.inFlight[messageID]
	if !ok {
		t.mu.Unlock()
		t.log().Debug("acknowledgement for unknown message", "message_id", messageID)
		return
	}
	t.removeInFlightLocked(messageID)

	var ev retryEvent
	var retried bool
	if err == nil {
		t.completeLocked(p, message.StatusOK)
	} else if ev, retried = t.retryOrCompleteLocked(p, err, t.clock.Now()); retried {
		t.waiting.pushFront(p)
	}
	t.mu.Unlock()

	if retried {
		t.reportRetry(ev)
	}
	t.signalSend()
}

// OnMessageReceived implements Listener.
func (t *Transport) OnMessageReceived(msg *message.Message, err error) {
	if err != nil {
		t.log().Warn("inbound message error", "error", err)
		return
	}
	if msg == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.received = append(t.received, msg)
}

// OnConnectionLost implements Listener. A loss reported while a
// connection is being opened fails that open attempt. Otherwise
// notifications for a connection other than the current one, or while not
// connected, are ignored.
func (t *Transport) OnConnectionLost(cause error, connectionID string) {
	t.mu.Lock()
	if t.opening && !t.closed {
		t.openLosses = append(t.openLosses, openLoss{connID: connectionID, cause: cause})
		t.mu.Unlock()
		t.log().Debug("connection lost during open", "connection_id", connectionID, "error", cause)
		return
	}
	if t.closed || t.status != Connected || (connectionID != "" && connectionID != t.connID) {
		t.mu.Unlock()
		t.log().Debug("ignoring connection loss", "connection_id", connectionID, "error", cause)
		return
	}

	requeued := t.inFlightBySeqLocked()
	clear(t.inFlight)
	t.waiting.pushFront(requeued...)
	t.transitionLocked(DisconnectedRetrying, ReasonFor(cause), cause)
	t.reconnectWG.Add(1)
	t.mu.Unlock()

	t.log().Warn("connection lost",
		"connection_id", connectionID,
		"requeued", len(requeued),
		"error", cause,
	)
	go t.reconnectLoop(cause)
}

func (t *Transport) reconnectLoop(cause error) {
	defer t.reconnectWG.Done()

	for {
		if !t.reconnect.WaitAndRetry(t.ctx) {
			if t.ctx.Err() != nil {
				return
			}
			t.giveUp(fmt.Errorf("%w: %w", ErrRetryExpired, cause))
			return
		}
		if t.ctx.Err() != nil {
			return
		}

		if err := t.conn.Close(); err != nil {
			t.log().Debug("closing lost connection", "error", err)
		}

		err := t.openConnection(t.ctx)
		if err == nil {
			t.log().Info("connection re-established", "connection_id", t.conn.ConnectionID())
			t.signalSend()
			return
		}
		if t.ctx.Err() != nil {
			return
		}

		cause = err
		if !retry.IsRetryable(err) {
			t.giveUp(err)
			return
		}
		t.log().Warn("reconnect attempt failed", "error", err)
	}
}

func (t *Transport) giveUp(cause error) {
	if err := t.conn.Close(); err != nil {
		t.log().Debug("closing lost connection", "error", err)
	}
	t.reconnect.Reset()

	t.mu.Lock()
	t.opened = false
	if !t.closed {
		t.transitionLocked(Disconnected, ReasonFor(cause), cause)
	}
	t.mu.Unlock()
	t.log().Error("giving up on connection", "error", cause)
}

// =============================================================================
// Status notification
// =============================================================================

// RegisterConnectionStatusChangeCallback sets the callback notified of
// connection status changes. It replaces any previous callback.
func (t *Transport) RegisterConnectionStatusChangeCallback(cb StatusCallback, callbackCtx any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusCB = cb
	t.statusCBCtx = callbackCtx
}

// transitionLocked records a status change and queues its notification.
// Queuing under t.mu keeps notifications in transition order.
func (t *Transport) transitionLocked(status ConnectionStatus, reason ChangeReason, cause error) {
	if t.status == status {
		return
	}
	t.status = status

	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	t.notifyQ = append(t.notifyQ, statusEvent{
		status: status,
		reason: reason,
		cause:  cause,
		cb:     t.statusCB,
		cbCtx:  t.statusCBCtx,
	})
	if !t.notifying {
		t.notifying = true
		go t.dispatchStatus()
	}
}

func (t *Transport) dispatchStatus() {
	for {
		t.notifyMu.Lock()
		if len(t.notifyQ) == 0 {
			t.notifying = false
			t.notifyMu.Unlock()
			return
		}
		ev := t.notifyQ[0]
		t.notifyQ = t.notifyQ[1:]
		t.notifyMu.Unlock()

		t.observer.StatusChanged(ev.status, ev.reason, ev.cause)
		if ev.cb != nil {
			t.invokeStatusCallback(ev)
		}
	}
}

func (t *Transport) invokeStatusCallback(ev statusEvent) {
	defer func() {
		if r := recover(); r != nil {
			t.log().Error("panic in connection status callback",
				"status", ev.status.String(),
				"reason", ev.reason.String(),
				"panic", r,
			)
		}
	}()
	ev.cb(ev.status, ev.reason, ev.cause, ev.cbCtx)
}
