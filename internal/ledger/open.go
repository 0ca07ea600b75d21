package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/hublink/internal/infrastructure/config"
	"github.com/nerrad567/hublink/internal/infrastructure/database"
	"github.com/nerrad567/hublink/migrations"
)

// Open opens the ledger database described by cfg and applies pending
// migrations. The caller closes the returned DB.
func Open(ctx context.Context, cfg config.LedgerConfig) (*database.DB, *SQLiteRepository, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening ledger: %w", err)
	}
	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, nil, fmt.Errorf("migrating ledger: %w", err)
	}
	return db, NewSQLiteRepository(db.DB), nil
}

// RetentionOf converts the configured retention in days.
func RetentionOf(cfg config.LedgerConfig) time.Duration {
	return time.Duration(cfg.Retention) * 24 * time.Hour
}
