package db

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TimeToString converts a time.Time to RFC3339Nano string for database storage
func TimeToString(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// StringToTime converts an RFC3339Nano string from database to time.Time
func StringToTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// StringPtr returns a pointer to the given string, or nil if it is empty.
// Used for nullable text columns where the empty string means "absent".
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PtrToString dereferences a nullable text column value, mapping nil to "".
func PtrToString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// OpenDB opens a SQLite database at the given path with foreign key
// constraints enabled.
func OpenDB(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// NewInMemoryDB creates a new in-memory SQLite database for testing
func NewInMemoryDB() (*sql.DB, error) {
	return OpenDB(":memory:")
}
