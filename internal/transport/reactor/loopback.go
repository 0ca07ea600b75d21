package reactor

import (
	"sync"
	"time"

	"github.com/nerrad567/hublink/internal/message"
	"github.com/nerrad567/hublink/internal/transport"
)

// Loopback is an in-process Engine. It acknowledges every send on the
// next Process call and delivers messages passed to Inject. It backs the
// "loopback" connection mode and is useful in tests.
type Loopback struct {
	h Handler

	mu       sync.Mutex
	idle     time.Duration
	nextTag  transport.DeliveryTag
	acks     []transport.DeliveryTag
	inbound  []*message.Message
	settled  map[string]message.Result
	started  bool
	stopped  bool
	freed    bool
	wake     chan struct{}
	onSend   func(*message.Message)
	failNext error
}

// NewLoopback is a Factory for Loopback engines.
func NewLoopback(h Handler) (Engine, error) {
	return newLoopback(h), nil
}

func newLoopback(h Handler) *Loopback {
	return &Loopback{
		h:       h,
		idle:    DefaultIdleTimeout,
		settled: make(map[string]message.Result),
		wake:    make(chan struct{}, 1),
	}
}

// LoopbackFactory returns a Factory whose engines echo every sent message
// back as an inbound message of type echo. An echo of
// message.TypeUnknown disables echoing.
func LoopbackFactory(echo message.Type) Factory {
	return func(h Handler) (Engine, error) {
		lb := newLoopback(h)
		if echo != message.TypeUnknown {
			lb.onSend = func(msg *message.Message) {
				in := message.NewWithType(echo, msg.Payload)
				in.CorrelationID = msg.ID
				lb.inbound = append(lb.inbound, in)
			}
		}
		return lb, nil
	}
}

// SetIdleTimeout implements Engine.
func (lb *Loopback) SetIdleTimeout(d time.Duration) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.idle = d
}

// Start implements Engine.
func (lb *Loopback) Start() error {
	lb.mu.Lock()
	lb.started = true
	lb.mu.Unlock()
	lb.h.Opened()
	return nil
}

// Process implements Engine.
func (lb *Loopback) Process() (bool, error) {
	lb.mu.Lock()
	idle := lb.idle
	ready := len(lb.acks) > 0 || len(lb.inbound) > 0 || lb.stopped
	lb.mu.Unlock()

	if !ready {
		timer := time.NewTimer(idle)
		select {
		case <-lb.wake:
		case <-timer.C:
		}
		timer.Stop()
	}

	lb.mu.Lock()
	acks := lb.acks
	inbound := lb.inbound
	lb.acks = nil
	lb.inbound = nil
	stopped := lb.stopped
	lb.mu.Unlock()

	for _, tag := range acks {
		lb.h.Delivered(tag, nil)
	}
	for _, msg := range inbound {
		lb.h.Received(msg)
	}

	if stopped {
		return len(acks) > 0 || len(inbound) > 0, nil
	}
	return true, nil
}

// Send implements Engine.
func (lb *Loopback) Send(msg *message.Message) (transport.DeliveryTag, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if lb.stopped || lb.freed {
		return 0, ErrLoopbackStopped
	}
	if err := lb.failNext; err != nil {
		lb.failNext = nil
		return 0, err
	}
	lb.nextTag++
	lb.acks = append(lb.acks, lb.nextTag)
	if lb.onSend != nil {
		lb.onSend(msg)
	}
	lb.signal()
	return lb.nextTag, nil
}

// Poll implements Engine. Loopback pushes inbound messages through the
// handler, so Poll always returns nil.
func (lb *Loopback) Poll() (*message.Message, error) {
	return nil, nil
}

// Settle implements Settler.
func (lb *Loopback) Settle(msg *message.Message, result message.Result) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.settled[msg.ID] = result
	return nil
}

// Settled returns the result recorded for the inbound message id.
func (lb *Loopback) Settled(id string) (message.Result, bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	r, ok := lb.settled[id]
	return r, ok
}

// Inject queues msg for delivery on the next Process call.
func (lb *Loopback) Inject(msg *message.Message) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.inbound = append(lb.inbound, msg)
	lb.signal()
}

// Stop implements Engine.
func (lb *Loopback) Stop() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.stopped = true
	lb.signal()
}

// Free implements Engine.
func (lb *Loopback) Free() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.freed = true
	lb.acks = nil
	lb.inbound = nil
}

func (lb *Loopback) signal() {
	select {
	case lb.wake <- struct{}{}:
	default:
	}
}
