package database

import (
	"context"
	"embed"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
)

//go:embed testdata/*.sql
var testdataFS embed.FS

func testMigrations(t *testing.T) fs.FS {
	t.Helper()
	sub, err := fs.Sub(testdataFS, "testdata")
	if err != nil {
		t.Fatalf("fs.Sub() error = %v", err)
	}
	return sub
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
	if err != nil {
		t.Fatalf("sqlite_master query error = %v", err)
	}
	return count == 1
}

// =============================================================================
// Migrate
// =============================================================================

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations(t)

	n, err := db.Migrate(ctx, fsys)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("applied = %d, want 2", n)
	}
	if !tableExists(t, db, "widgets") {
		t.Fatal("widgets table not created")
	}
	if _, err := db.Exec("INSERT INTO widgets (name, colour) VALUES ('knob', 'red')"); err != nil {
		t.Errorf("second migration not applied: %v", err)
	}

	n, err = db.Migrate(ctx, fsys)
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate() applied = %d, want 0", n)
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied/pending = %d/%d, want 2/0", len(applied), len(pending))
	}
	if applied[0].Version != "0001" || applied[0].AppliedAt.IsZero() {
		t.Errorf("first applied = %+v", applied[0])
	}
}

func TestMigrate_FailureKeepsEarlierVersions(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"0001_ok.up.sql":     {Data: []byte("CREATE TABLE good (id INTEGER);")},
		"0002_broken.up.sql": {Data: []byte("CREATE TABLE nope (")},
	}

	n, err := db.Migrate(context.Background(), fsys)
	if err == nil || !strings.Contains(err.Error(), "0002 (broken)") {
		t.Fatalf("Migrate() error = %v, want failure naming 0002", err)
	}
	if n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}
	if !tableExists(t, db, "good") {
		t.Error("first migration rolled back")
	}
}

func TestMigrate_Empty(t *testing.T) {
	db := openTestDB(t)
	n, err := db.Migrate(context.Background(), fstest.MapFS{})
	if err != nil || n != 0 {
		t.Errorf("Migrate(empty) = %d, %v; want 0, nil", n, err)
	}
}

// =============================================================================
// Rollback
// =============================================================================

func TestRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := fstest.MapFS{
		"0001_create_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id INTEGER);")},
		"0001_create_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
	}

	if _, err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.Rollback(ctx, fsys); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if tableExists(t, db, "widgets") {
		t.Error("widgets table still present after rollback")
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 0 || len(pending) != 1 {
		t.Errorf("applied/pending = %d/%d, want 0/1", len(applied), len(pending))
	}

	if err := db.Rollback(ctx, fsys); err != nil {
		t.Errorf("Rollback() with nothing applied error = %v", err)
	}
}

func TestRollback_NoDownFile(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations(t)

	if _, err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	err := db.Rollback(ctx, fsys)
	if err == nil || !strings.Contains(err.Error(), "no down file") {
		t.Errorf("Rollback() error = %v, want missing down file", err)
	}
}

// =============================================================================
// Loading
// =============================================================================

func TestLoadMigrations_OrderAndPairs(t *testing.T) {
	fsys := fstest.MapFS{
		"0010_later.up.sql":     {Data: []byte("B")},
		"0002_first.up.sql":     {Data: []byte("A")},
		"0002_first.down.sql":   {Data: []byte("undo A")},
		"notes.txt":             {Data: []byte("ignored")},
		"0003_orphan.down.sql2": {Data: []byte("ignored")},
	}

	got, err := LoadMigrations(fsys)
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("migrations = %d, want 2", len(got))
	}
	if got[0].Version != "0002" || got[0].Name != "first" || got[0].Down != "undo A" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Version != "0010" || got[1].Up != "B" || got[1].Down != "" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestLoadMigrations_DownWithoutUp(t *testing.T) {
	fsys := fstest.MapFS{"0001_lonely.down.sql": {Data: []byte("DROP TABLE x;")}}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Error("LoadMigrations() should reject a down file without an up file")
	}
}

func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		file        string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"0001_create_deliveries.up.sql", "0001", "create_deliveries", true, true},
		{"0001_create_deliveries.down.sql", "0001", "create_deliveries", false, true},
		{"0001_create_deliveries.sql", "", "", false, false},
		{"readme.md", "", "", false, false},
		{"v1_bad.up.sql", "", "", false, false},
		{"0001.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, up, ok := parseMigrationName(tt.file)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
