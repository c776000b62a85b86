package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	DefaultMaxOpenConns    = 4
	DefaultMaxIdleConns    = 4
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresIndex is a CaseIndex backed by a shared Postgres database.
type PostgresIndex struct {
	db *sql.DB
}

var _ CaseIndex = (*PostgresIndex)(nil)

// NewPostgresIndex connects to Postgres and applies the migrations.
func NewPostgresIndex(opts ...Option) (*PostgresIndex, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresIndex invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		return nil, ErrDSNNotSet
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres index: %w", err)
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		db.Close()
		slog.Error("NewPostgresIndex: failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("NewPostgresIndex: migrations applied")
	return &PostgresIndex{db: db}, nil
}

func (s *PostgresIndex) RecordCase(rec IndexRecord) (bool, error) {
	if rec.DedupKey == "" {
		return false, ErrEmptyDedupKey
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(
		`INSERT INTO case_index (dedup_key, case_id, category, risk, run_id, created_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (dedup_key) DO NOTHING`,
		rec.DedupKey, rec.CaseID, rec.Category, rec.Risk, rec.RunID, rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("record case %d failed: %w", rec.CaseID, err)
	}
	return insertedRow(result)
}

func (s *PostgresIndex) LoadKeys() ([]string, error) {
	return queryKeys(s.db)
}

func (s *PostgresIndex) Reset() error {
	slog.Info("PostgresIndex.Reset: clearing case index")
	return resetIndex(s.db)
}

func (s *PostgresIndex) Close() error {
	slog.Debug("PostgresIndex.Close: closing database")
	return s.db.Close()
}
