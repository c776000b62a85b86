package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteIndex is a CaseIndex backed by a local SQLite file.
type SQLiteIndex struct {
	db *sql.DB
}

var _ CaseIndex = (*SQLiteIndex)(nil)

// NewSQLiteIndex opens (creating if needed) the SQLite file named by the DSN
// and applies the migrations.
func NewSQLiteIndex(opts ...Option) (*SQLiteIndex, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteIndex invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		return nil, ErrDSNNotSet
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("NewSQLiteIndex: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		db.Close()
		slog.Error("NewSQLiteIndex: failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("NewSQLiteIndex: migrations applied", "path", dsn)
	return &SQLiteIndex{db: db}, nil
}

func (s *SQLiteIndex) RecordCase(rec IndexRecord) (bool, error) {
	if rec.DedupKey == "" {
		return false, ErrEmptyDedupKey
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO case_index (dedup_key, case_id, category, risk, run_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.DedupKey, rec.CaseID, rec.Category, rec.Risk, rec.RunID, rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("record case %d failed: %w", rec.CaseID, err)
	}
	return insertedRow(result)
}

func (s *SQLiteIndex) LoadKeys() ([]string, error) {
	return queryKeys(s.db)
}

func (s *SQLiteIndex) Reset() error {
	slog.Info("SQLiteIndex.Reset: clearing case index")
	return resetIndex(s.db)
}

func (s *SQLiteIndex) Close() error {
	slog.Debug("SQLiteIndex.Close: closing database")
	return s.db.Close()
}
