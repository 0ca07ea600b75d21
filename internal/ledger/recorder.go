package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/hublink/internal/message"
	"github.com/nerrad567/hublink/internal/transport"
)

// Recorder defaults.
const (
	DefaultBuffer        = 1024
	DefaultPruneInterval = time.Hour

	// drainTimeout bounds the final flush when Run's context ends.
	drainTimeout = 5 * time.Second
)

// Logger defines the logging interface used by the recorder.
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

// RecorderConfig tunes a Recorder. Zero values take the defaults.
type RecorderConfig struct {
	// Buffer is the number of records held while the writer catches up.
	// Records arriving on a full buffer are dropped and counted.
	Buffer int

	// Retention is how long completed records are kept. Zero keeps
	// everything.
	Retention time.Duration

	// PruneInterval is how often old records are deleted.
	PruneInterval time.Duration

	Clock clockwork.Clock
}

// record is one pending repository write.
type record func(ctx context.Context, repo Repository) error

// Recorder is a transport.Observer that writes to a Repository from a
// single goroutine.
type Recorder struct {
	repo  Repository
	cfg   RecorderConfig
	clock clockwork.Clock

	records chan record
	done    chan struct{}
	dropped atomic.Uint64
	written atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

var _ transport.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder writing to repo. Call Run to start
// writing.
func NewRecorder(repo Repository, cfg RecorderConfig) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Recorder{
		repo:    repo,
		cfg:     cfg,
		clock:   cfg.Clock,
		records: make(chan record, cfg.Buffer),
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger for write failures and drops.
func (r *Recorder) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	defer r.loggerMu.Unlock()
	r.logger = logger
}

func (r *Recorder) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	if r.logger == nil {
		return noopLogger{}
	}
	return r.logger
}

// Dropped returns the number of records discarded on a full buffer.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns the number of records applied to the repository.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Run applies records until ctx ends, then flushes what is buffered and
// returns. It prunes on every PruneInterval when Retention is set.
func (r *Recorder) Run(ctx context.Context) error {
	defer close(r.done)

	ticker := r.clock.NewTicker(r.cfg.PruneInterval)
	defer ticker.Stop()

	// A write already started finishes even if ctx ends meanwhile.
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case rec := <-r.records:
			r.apply(writeCtx, rec)
		case <-ticker.Chan():
			r.prune(writeCtx)
		}
	}
}

// Done is closed when Run returns.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case rec := <-r.records:
			r.apply(ctx, rec)
		default:
			return
		}
	}
}

func (r *Recorder) apply(ctx context.Context, rec record) {
	if err := rec(ctx, r.repo); err != nil {
		r.log().Warn("ledger write failed", "error", err)
		return
	}
	r.written.Add(1)
}

func (r *Recorder) prune(ctx context.Context) {
	if r.cfg.Retention <= 0 {
		return
	}
	n, err := r.repo.Prune(ctx, r.clock.Now().Add(-r.cfg.Retention))
	if err != nil {
		r.log().Warn("ledger prune failed", "error", err)
		return
	}
	if n > 0 {
		r.log().Debug("ledger pruned", "rows", n)
	}
}

// enqueue never blocks; observer callbacks run on transport goroutines.
func (r *Recorder) enqueue(rec record) {
	select {
	case r.records <- rec:
	default:
		if r.dropped.Add(1) == 1 {
			r.log().Warn("ledger buffer full, dropping records")
		}
	}
}

// MessageQueued implements transport.Observer.
func (r *Recorder) MessageQueued(msg *message.Message) {
	snap := snapshot(msg)
	at := r.clock.Now()
	r.enqueue(func(ctx context.Context, repo Repository) error {
		return repo.RecordQueued(ctx, snap, at)
	})
}

// MessageRetried implements transport.Observer.
func (r *Recorder) MessageRetried(msg *message.Message, attempt int, _ time.Duration, cause error) {
	id := msg.ID
	r.enqueue(func(ctx context.Context, repo Repository) error {
		return repo.RecordRetry(ctx, id, attempt, cause)
	})
}

// MessageCompleted implements transport.Observer.
func (r *Recorder) MessageCompleted(msg *message.Message, status message.Status, retries int) {
	snap := snapshot(msg)
	at := r.clock.Now()
	r.enqueue(func(ctx context.Context, repo Repository) error {
		return repo.RecordCompleted(ctx, snap, status, retries, at)
	})
}

// StatusChanged implements transport.Observer.
func (r *Recorder) StatusChanged(status transport.ConnectionStatus, reason transport.ChangeReason, cause error) {
	at := r.clock.Now()
	r.enqueue(func(ctx context.Context, repo Repository) error {
		return repo.RecordStatus(ctx, status, reason, cause, at)
	})
}

// snapshot copies the fields the ledger stores; the application owns msg
// again once its callback has run.
func snapshot(msg *message.Message) *message.Message {
	return &message.Message{
		ID:            msg.ID,
		CorrelationID: msg.CorrelationID,
		Type:          msg.Type,
	}
}
