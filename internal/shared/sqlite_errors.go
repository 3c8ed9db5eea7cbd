// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import "strings"

// SQLiteErrorClass groups driver errors by how callers should react.
type SQLiteErrorClass int

const (
	SQLiteOther SQLiteErrorClass = iota
	// SQLiteContention covers SQLITE_BUSY and "database is locked"; retry.
	SQLiteContention
	// SQLiteUnique covers UNIQUE and PRIMARY KEY violations.
	SQLiteUnique
)

// modernc.org/sqlite reports errors as text only, so matching is by substring.
var sqliteErrorMarkers = []struct {
	marker string
	class  SQLiteErrorClass
}{
	{"SQLITE_BUSY", SQLiteContention},
	{"database is locked", SQLiteContention},
	{"UNIQUE constraint failed", SQLiteUnique},
	{"SQLITE_CONSTRAINT_UNIQUE", SQLiteUnique},
	{"SQLITE_CONSTRAINT_PRIMARYKEY", SQLiteUnique},
}

// ClassifySQLiteError returns the class of err. nil is SQLiteOther.
func ClassifySQLiteError(err error) SQLiteErrorClass {
	if err == nil {
		return SQLiteOther
	}
	msg := err.Error()
	for _, m := range sqliteErrorMarkers {
		if strings.Contains(msg, m.marker) {
			return m.class
		}
	}
	return SQLiteOther
}

// IsSQLiteConflictError reports SQLite contention errors that warrant a retry.
func IsSQLiteConflictError(err error) bool {
	return ClassifySQLiteError(err) == SQLiteContention
}

// IsSQLiteUniqueError reports a UNIQUE or PRIMARY KEY constraint violation.
func IsSQLiteUniqueError(err error) bool {
	return ClassifySQLiteError(err) == SQLiteUnique
}
