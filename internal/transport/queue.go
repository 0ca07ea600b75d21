package transport

import (
	"container/list"
	"time"

	"github.com/nerrad567/hublink/internal/message"
)

// packet is an outbound message together with its completion callback and
// retry bookkeeping.
type packet struct {
	seq         uint64
	msg         *message.Message
	callback    message.EventCallback
	callbackCtx any

	retries      int
	firstAttempt time.Time
	notBefore    time.Time
}

// completion is a finished packet waiting for its callback to run.
type completion struct {
	p      *packet
	status message.Status
}

// outboundQueue is a FIFO of packets that also accepts packets at its
// head. It is not safe for concurrent use; Transport guards it.
type outboundQueue struct {
	l *list.List
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{l: list.New()}
}

func (q *outboundQueue) pushBack(p *packet) {
	q.l.PushBack(p)
}

// pushFront inserts ps at the head, keeping their relative order.
func (q *outboundQueue) pushFront(ps ...*packet) {
	for i := len(ps) - 1; i >= 0; i-- {
		q.l.PushFront(ps[i])
	}
}

func (q *outboundQueue) popFront() *packet {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	return q.l.Remove(e).(*packet)
}

func (q *outboundQueue) len() int {
	return q.l.Len()
}

// drain removes and returns every packet in order.
func (q *outboundQueue) drain() []*packet {
	out := make([]*packet, 0, q.l.Len())
	for p := q.popFront(); p != nil; p = q.popFront() {
		out = append(out, p)
	}
	return out
}
