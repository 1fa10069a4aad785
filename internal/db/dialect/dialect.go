// Package dialect provides SQL fragment helpers for SQLite/PostgreSQL portability.
package dialect

import "time"

const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// TimeLayout is the canonical timestamp encoding: ISO-8601 in UTC.
const TimeLayout = "2006-01-02T15:04:05Z07:00"

// IsPostgres returns true if the driver is PostgreSQL (pgx).
func IsPostgres(driver string) bool {
	return driver == PGX
}

// BoolToInt converts a boolean to an integer for SQL storage.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// FormatTime encodes a timestamp for storage in a TEXT column.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime decodes a stored timestamp. Zero time on empty input.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(TimeLayout, s)
}
