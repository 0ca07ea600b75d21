package reactor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hublink/internal/message"
	"github.com/nerrad567/hublink/internal/transport"
)

// scriptEngine is an Engine whose Process calls can be made to fail or
// panic.
type scriptEngine struct {
	h Handler

	mu        sync.Mutex
	starts    int
	stops     int
	frees     int
	processes int
	stopped   bool
	startErr  error
	panicAt   int
	failAt    int
	fault     chan error
	nextTag   transport.DeliveryTag
	// drainPanic makes every Process call after Stop panic.
	drainPanic bool
}

func newScriptEngine(h Handler) *scriptEngine {
	return &scriptEngine{h: h, fault: make(chan error, 1)}
}

func (e *scriptEngine) SetIdleTimeout(time.Duration) {}

func (e *scriptEngine) Start() error {
	e.mu.Lock()
	e.starts++
	err := e.startErr
	e.mu.Unlock()
	if err == nil && e.h != nil {
		e.h.Opened()
	}
	return err
}

func (e *scriptEngine) Process() (bool, error) {
	e.mu.Lock()
	e.processes++
	n := e.processes
	stopped := e.stopped
	drainPanic := e.drainPanic
	e.mu.Unlock()

	if stopped && drainPanic {
		panic("drain failure")
	}
	if n == e.panicAt {
		panic("handler exploded")
	}
	if n == e.failAt {
		return false, errors.New("protocol fault")
	}
	if stopped {
		return false, nil
	}
	select {
	case err := <-e.fault:
		return false, err
	case <-time.After(time.Millisecond):
	}
	return true, nil
}

func (e *scriptEngine) Send(msg *message.Message) (transport.DeliveryTag, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextTag++
	return e.nextTag, nil
}

func (e *scriptEngine) Poll() (*message.Message, error) { return nil, nil }

func (e *scriptEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	e.stopped = true
}

func (e *scriptEngine) Free() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frees++
}

func (e *scriptEngine) counts() (starts, stops, frees int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts, e.stops, e.frees
}

// lossRecorder is a LossListener.
type lossRecorder struct {
	mu     sync.Mutex
	causes []error
	ids    []string
}

func (l *lossRecorder) OnConnectionLost(cause error, connectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.causes = append(l.causes, cause)
	l.ids = append(l.ids, connectionID)
}

func (l *lossRecorder) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.causes)
}

// statusLog records transport status callbacks.
type statusLog struct {
	mu       sync.Mutex
	statuses []transport.ConnectionStatus
}

func (s *statusLog) callback(status transport.ConnectionStatus, _ transport.ChangeReason, _ error, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func (s *statusLog) got() []transport.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.ConnectionStatus(nil), s.statuses...)
}

func (s *statusLog) contains(status transport.ConnectionStatus) bool {
	for _, got := range s.got() {
		if got == status {
			return true
		}
	}
	return false
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
