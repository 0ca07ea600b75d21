// Package database provides the SQLite store used by the delivery ledger.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - A single-writer connection pool suited to SQLite
//   - Ordered, versioned schema migrations read from any fs.FS
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "./data/hublink.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrationsFS); err != nil {
//	    return err
//	}
//
// Migration files are named NNNN_description.up.sql with an optional
// NNNN_description.down.sql. Versions sort as strings, so pad them.
package database
