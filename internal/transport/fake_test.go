package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hublink/internal/message"
)

// fakeConn is a scripted Connection.
type fakeConn struct {
	mu       sync.Mutex
	listener Listener

	// openErrs is consumed one entry per Open; an exhausted script succeeds.
	openErrs []error
	opens    int
	closes   int
	id       int

	// sendErr returns the synchronous error for a send, if any.
	sendErr func(msg *message.Message, attempt int) error
	// manualAck leaves acknowledgements to the test.
	manualAck bool
	attempts  map[string]int
	sent      []string
	unacked   []string

	inbox       []*message.Message
	completeErr func(msg *message.Message) error
	completed   []ackRecord
}

type ackRecord struct {
	id     string
	result message.Result
}

func newFakeConn() *fakeConn {
	return &fakeConn{attempts: make(map[string]int)}
}

func (f *fakeConn) SetListener(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

func (f *fakeConn) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		if err != nil {
			return err
		}
	}
	f.id++
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeConn) Send(ctx context.Context, msg *message.Message) (DeliveryTag, error) {
	f.mu.Lock()
	f.attempts[msg.ID]++
	attempt := f.attempts[msg.ID]
	f.sent = append(f.sent, msg.ID)
	var err error
	if f.sendErr != nil {
		err = f.sendErr(msg, attempt)
	}
	if err == nil && f.manualAck {
		f.unacked = append(f.unacked, msg.ID)
	}
	listener := f.listener
	manual := f.manualAck
	tag := DeliveryTag(len(f.sent))
	f.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if !manual {
		listener.OnMessageSent(msg.ID, nil)
	}
	return tag, nil
}

func (f *fakeConn) Receive(ctx context.Context) (*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		return nil, nil
	}
	msg := f.inbox[0]
	f.inbox = f.inbox[1:]
	return msg, nil
}

func (f *fakeConn) Complete(ctx context.Context, msg *message.Message, result message.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		if err := f.completeErr(msg); err != nil {
			return err
		}
	}
	f.completed = append(f.completed, ackRecord{id: msg.ID, result: result})
	return nil
}

func (f *fakeConn) ConnectionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("conn-%d", f.id)
}

// ackAll acknowledges every outstanding send with err.
func (f *fakeConn) ackAll(err error) {
	f.mu.Lock()
	ids := f.unacked
	f.unacked = nil
	listener := f.listener
	f.mu.Unlock()
	for _, id := range ids {
		listener.OnMessageSent(id, err)
	}
}

func (f *fakeConn) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeConn) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeConn) setOpenErrs(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErrs = errs
}

// outcomes records completion callbacks keyed by the callback context.
type outcomes struct {
	mu     sync.Mutex
	order  []string
	status map[string][]message.Status
}

func newOutcomes() *outcomes {
	return &outcomes{status: make(map[string][]message.Status)}
}

func (o *outcomes) callback(status message.Status, callbackCtx any) {
	id := callbackCtx.(string)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.order = append(o.order, id)
	o.status[id] = append(o.status[id], status)
}

func (o *outcomes) got() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

func (o *outcomes) statusOf(id string) []message.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]message.Status(nil), o.status[id]...)
}

type statusChange struct {
	status ConnectionStatus
	reason ChangeReason
}

// statusLog records connection status callbacks.
type statusLog struct {
	mu      sync.Mutex
	changes []statusChange
}

func (s *statusLog) callback(status ConnectionStatus, reason ChangeReason, cause error, callbackCtx any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, statusChange{status, reason})
}

func (s *statusLog) got() []statusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statusChange(nil), s.changes...)
}

func (s *statusLog) last() (statusChange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.changes) == 0 {
		return statusChange{}, false
	}
	return s.changes[len(s.changes)-1], true
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// newMessage creates a telemetry message whose id doubles as its
// callback context.
func newMessage(id string) *message.Message {
	m := message.New([]byte(id))
	m.ID = id
	return m
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
