package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/hublink/internal/message"
	"github.com/nerrad567/hublink/internal/transport"
)

// timeLayout is fixed width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Delivery states that are not a final message.Status.
const (
	StateQueued   = "QUEUED"
	StateRetrying = "RETRYING"
)

// Query limits.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// Delivery is the ledger row for one outbound message.
type Delivery struct {
	MessageID     string
	CorrelationID string
	Type          string

	// Status is StateQueued, StateRetrying or a message.Status name.
	Status    string
	Retries   int
	LastError string

	QueuedAt    time.Time
	CompletedAt time.Time // zero until the message completes
}

// ConnectionEvent is one connection status transition.
type ConnectionEvent struct {
	ID         int64
	Status     string
	Reason     string
	Cause      string
	OccurredAt time.Time
}

// Filter selects deliveries. Zero values match everything.
type Filter struct {
	Status string
	Since  time.Time
	Limit  int // default 50, max 500
}

// Repository stores ledger records.
type Repository interface {
	RecordQueued(ctx context.Context, msg *message.Message, at time.Time) error
	RecordRetry(ctx context.Context, messageID string, attempt int, cause error) error
	RecordCompleted(ctx context.Context, msg *message.Message, status message.Status, retries int, at time.Time) error
	RecordStatus(ctx context.Context, status transport.ConnectionStatus, reason transport.ChangeReason, cause error, at time.Time) error

	Delivery(ctx context.Context, messageID string) (*Delivery, error)
	Deliveries(ctx context.Context, filter Filter) ([]Delivery, error)
	ConnectionEvents(ctx context.Context, limit int) ([]ConnectionEvent, error)
	StatusCounts(ctx context.Context) (map[string]int, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository is a Repository over the ledger schema in migrations.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository. The schema must already be
// migrated.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordQueued inserts a delivery in the queued state. A message id that
// is queued again starts over.
func (r *SQLiteRepository) RecordQueued(ctx context.Context, msg *message.Message, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deliveries (message_id, correlation_id, message_type, status, retries, queued_at)
		 VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT (message_id) DO UPDATE SET
		     status = excluded.status, retries = 0, last_error = NULL,
		     queued_at = excluded.queued_at, completed_at = NULL`,
		msg.ID, nullableString(msg.CorrelationID), msg.Type.String(), StateQueued, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("recording queued delivery %s: %w", msg.ID, err)
	}
	return nil
}

// RecordRetry marks a delivery as retrying after a failed attempt.
func (r *SQLiteRepository) RecordRetry(ctx context.Context, messageID string, attempt int, cause error) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, retries = ?, last_error = ? WHERE message_id = ?`,
		StateRetrying, attempt, errorText(cause), messageID,
	)
	if err != nil {
		return fmt.Errorf("recording retry of %s: %w", messageID, err)
	}
	return nil
}

// RecordCompleted stores the final status of a delivery, inserting the row
// if its queued record was never written.
func (r *SQLiteRepository) RecordCompleted(ctx context.Context, msg *message.Message, status message.Status, retries int, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deliveries (message_id, correlation_id, message_type, status, retries, queued_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (message_id) DO UPDATE SET
		     status = excluded.status, retries = excluded.retries, completed_at = excluded.completed_at`,
		msg.ID, nullableString(msg.CorrelationID), msg.Type.String(), status.String(), retries,
		formatTime(at), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("recording completed delivery %s: %w", msg.ID, err)
	}
	return nil
}

// RecordStatus appends a connection status change.
func (r *SQLiteRepository) RecordStatus(ctx context.Context, status transport.ConnectionStatus, reason transport.ChangeReason, cause error, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connection_events (status, reason, cause, occurred_at) VALUES (?, ?, ?, ?)`,
		status.String(), reason.String(), errorText(cause), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("recording connection event: %w", err)
	}
	return nil
}

const deliveryColumns = `message_id, correlation_id, message_type, status, retries, last_error, queued_at, completed_at`

// Delivery returns the record for messageID, or ErrNotFound.
func (r *SQLiteRepository) Delivery(ctx context.Context, messageID string) (*Delivery, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE message_id = ?`, messageID)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Deliveries returns deliveries matching filter, most recently queued first.
func (r *SQLiteRepository) Deliveries(ctx context.Context, filter Filter) ([]Delivery, error) {
	limit := clampLimit(filter.Limit)

	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE 1 = 1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if !filter.Since.IsZero() {
		query += ` AND queued_at >= ?`
		args = append(args, formatTime(filter.Since))
	}
	query += ` ORDER BY queued_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deliveries: %w", err)
	}
	return out, nil
}

// ConnectionEvents returns the most recent connection events, oldest first.
func (r *SQLiteRepository) ConnectionEvents(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, status, reason, cause, occurred_at FROM (
		     SELECT * FROM connection_events ORDER BY id DESC LIMIT ?
		 ) ORDER BY id`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying connection events: %w", err)
	}
	defer rows.Close()

	var out []ConnectionEvent
	for rows.Next() {
		var ev ConnectionEvent
		var cause sql.NullString
		var at string
		if err := rows.Scan(&ev.ID, &ev.Status, &ev.Reason, &cause, &at); err != nil {
			return nil, fmt.Errorf("scanning connection event: %w", err)
		}
		ev.Cause = cause.String
		if ev.OccurredAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connection events: %w", err)
	}
	return out, nil
}

// StatusCounts returns the number of deliveries in each status.
func (r *SQLiteRepository) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM deliveries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting deliveries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning delivery count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery counts: %w", err)
	}
	return counts, nil
}

// Prune deletes completed deliveries and connection events older than
// before. Deliveries still pending are kept.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := formatTime(before)

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM deliveries WHERE completed_at IS NOT NULL AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning deliveries: %w", err)
	}
	deliveries, _ := res.RowsAffected() //nolint:errcheck // sqlite3 always reports rows affected

	res, err = r.db.ExecContext(ctx, `DELETE FROM connection_events WHERE occurred_at < ?`, cutoff)
	if err != nil {
		return deliveries, fmt.Errorf("pruning connection events: %w", err)
	}
	events, _ := res.RowsAffected() //nolint:errcheck // sqlite3 always reports rows affected

	return deliveries + events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDelivery(s scanner) (*Delivery, error) {
	var d Delivery
	var correlationID, lastError, completedAt sql.NullString
	var queuedAt string
	if err := s.Scan(&d.MessageID, &correlationID, &d.Type, &d.Status, &d.Retries,
		&lastError, &queuedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning delivery: %w", err)
	}
	d.CorrelationID = correlationID.String
	d.LastError = lastError.String

	var err error
	if d.QueuedAt, err = parseTime(queuedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		if d.CompletedAt, err = parseTime(completedAt.String); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing ledger timestamp %q: %w", s, err)
	}
	return t, nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func errorText(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}
