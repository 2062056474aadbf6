package shared

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	sqlite3 "modernc.org/sqlite/lib"
)

func TestIsSQLiteConflictError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", errors.New("SQLITE_BUSY: cannot commit"), true},
		{"locked", fmt.Errorf("save settings: %w", errors.New("database is locked (5)")), true},
		{"other", errors.New("no such table: devices"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSQLiteConflictError(tt.err); got != tt.want {
				t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDriverErrorCodes(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "codes.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE t (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO t (id) VALUES ('a')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = db.Exec(`INSERT INTO t (id) VALUES ('a')`)
	if err == nil {
		t.Fatal("expected constraint violation")
	}

	if got := primaryCode(err); got != sqlite3.SQLITE_CONSTRAINT {
		t.Errorf("primaryCode = %d, want %d", got, sqlite3.SQLITE_CONSTRAINT)
	}
	if IsSQLiteConflictError(err) {
		t.Errorf("constraint violation reported as conflict: %v", err)
	}
}
