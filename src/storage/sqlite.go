package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"quote-relay/src/helpers"
	"quote-relay/src/logger"
	"quote-relay/src/models"

	_ "modernc.org/sqlite"
)

// ErrSubjectNotFound is returned when no subject has the requested id.
var ErrSubjectNotFound = errors.New("subject not found")

// -----------------------------------------------------------------------------

type SQLiteSubjectStore struct {
	Config models.MStorageConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSQLiteSubjectStore(cfg models.MStorageConfig, log *logger.Logger) *SQLiteSubjectStore {
	if log == nil {
		log = logger.Nop()
	}
	return &SQLiteSubjectStore{
		Config: cfg,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

func (d *SQLiteSubjectStore) Initialize() error {
	dsn := d.Config.DBPath
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return &helpers.DatabaseError{RelayError: helpers.RelayError{Message: "open sqlite", Cause: err}}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return &helpers.DatabaseError{RelayError: helpers.RelayError{Message: "ping sqlite", Cause: err}}
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *SQLiteSubjectStore) createTables() error {
	// SQLite types: INTEGER for bool, TEXT for string
	query := `
		CREATE TABLE IF NOT EXISTS subjects (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			plan TEXT NOT NULL DEFAULT 'free',
			blocked INTEGER NOT NULL DEFAULT 0
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create subjects: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteSubjectStore) FindSubject(ctx context.Context, id string) (models.MSubject, error) {
	var s models.MSubject
	err := d.DB.QueryRowContext(ctx,
		`SELECT id, email, name, plan, blocked FROM subjects WHERE id = ?`, id,
	).Scan(&s.ID, &s.Email, &s.Name, &s.Plan, &s.Blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MSubject{}, ErrSubjectNotFound
	}
	if err != nil {
		return models.MSubject{}, &helpers.DatabaseError{RelayError: helpers.RelayError{Message: "find subject", Cause: err}}
	}
	return s, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteSubjectStore) UpsertSubject(ctx context.Context, s models.MSubject) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO subjects (id, email, name, plan, blocked)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			plan = excluded.plan,
			blocked = excluded.blocked
	`, s.ID, s.Email, s.Name, s.Plan, s.Blocked)
	if err != nil {
		return &helpers.DatabaseError{RelayError: helpers.RelayError{Message: "upsert subject " + s.ID, Cause: err}}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteSubjectStore) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
