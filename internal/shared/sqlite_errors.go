// Package shared holds helpers used by more than one storage component.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// primaryCode returns the primary result code of a driver error, or 0 when err
// did not come from the driver. Extended codes keep the primary code in the
// low byte.
func primaryCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() & 0xff
	}
	return 0
}

// IsSQLiteBusyError reports SQLITE_BUSY, including errors flattened to text.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return primaryCode(err) == sqlite3.SQLITE_BUSY || strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError reports SQLITE_LOCKED and "database is locked".
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return primaryCode(err) == sqlite3.SQLITE_LOCKED || strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError reports lock contention of either kind. The store
// retries these.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}
