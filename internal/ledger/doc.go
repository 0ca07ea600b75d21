// Package ledger keeps a durable record of message deliveries and
// connection status changes in SQLite.
//
// The Recorder implements transport.Observer. Observer callbacks run on
// the transport's goroutines, so the Recorder only enqueues; a single
// writer goroutine (Recorder.Run) applies records to the Repository and
// prunes rows older than the retention period.
//
// Usage:
//
//	repo := ledger.NewSQLiteRepository(db.DB)
//	rec := ledger.NewRecorder(repo, ledger.RecorderConfig{Retention: 30 * 24 * time.Hour})
//	go rec.Run(ctx)
//
//	tr, err := transport.New(conn, transport.Config{Observer: rec})
package ledger
