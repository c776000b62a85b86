// Package store persists pipeline state: the scenario pool snapshot, the
// append-only case log, and an optional SQL index of accepted cases.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Error variables for store operations.
var (
	ErrDSNNotSet        = errors.New("database DSN not set")
	ErrSnapshotNotList  = errors.New("snapshot top-level value is not a JSON list")
	ErrCaseLogClosed    = errors.New("case log is closed")
	ErrEmptyDedupKey    = errors.New("case index record has an empty dedup key")
	ErrUnknownIndexType = errors.New("unknown case index type")
)

// Database types for DSN detection.
const (
	DBTypeSQLite   = "sqlite3"
	DBTypePostgres = "postgres"
)

// DetectDSNType returns DBTypePostgres for postgres:// or postgresql:// URLs
// and key=value strings containing host=, and DBTypeSQLite for anything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return DBTypePostgres
	}
	return DBTypeSQLite
}

// Opts holds configuration for the SQL case index.
type Opts struct {
	DSN string
}

// Option configures the SQL case index.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// IndexRecord is one accepted case as mirrored into the index.
type IndexRecord struct {
	DedupKey  string
	CaseID    int
	Category  string
	Risk      string
	RunID     string
	CreatedAt time.Time
}

// CaseIndex mirrors accepted cases into a database keyed by dedup key.
type CaseIndex interface {
	// RecordCase inserts rec unless its key is already present. It returns
	// false when the key was recorded before.
	RecordCase(rec IndexRecord) (bool, error)
	// LoadKeys returns every recorded dedup key.
	LoadKeys() ([]string, error)
	// Reset removes every recorded case.
	Reset() error
	Close() error
}

// OpenCaseIndex opens the backend matching the DSN.
func OpenCaseIndex(dsn string) (CaseIndex, error) {
	switch t := DetectDSNType(dsn); t {
	case DBTypePostgres:
		slog.Debug("OpenCaseIndex: using postgres")
		return NewPostgresIndex(WithPostgresDSN(dsn))
	case DBTypeSQLite:
		slog.Debug("OpenCaseIndex: using sqlite", "path", dsn)
		return NewSQLiteIndex(WithSQLiteDSN(dsn))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndexType, t)
	}
}
