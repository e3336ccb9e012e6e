package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"quote-relay/src/helpers"
	"quote-relay/src/logger"
	"quote-relay/src/models"

	_ "github.com/lib/pq"
)

const defaultSchema = "quote_relay"

var identPattern = regexp.MustCompile(`^\w+$`)

// -----------------------------------------------------------------------------

type PostgresSubjectStore struct {
	Config models.MStorageConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresSubjectStore(cfg models.MStorageConfig, log *logger.Logger) (*PostgresSubjectStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	schema := cfg.Schema
	if schema == "" {
		schema = defaultSchema
	}
	// the schema name is interpolated into DDL, so keep it to identifier characters
	if !identPattern.MatchString(schema) {
		return nil, &helpers.ConfigurationError{RelayError: helpers.RelayError{Message: fmt.Sprintf("invalid schema name %q", schema)}}
	}

	return &PostgresSubjectStore{
		Config: cfg,
		Schema: schema,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresSubjectStore) Initialize() error {
	dsn := d.Config.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return &helpers.DatabaseError{RelayError: helpers.RelayError{Message: "open postgres", Cause: err}}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return &helpers.DatabaseError{RelayError: helpers.RelayError{Message: "ping postgres", Cause: err}}
	}

	d.DB = db

	// Create Schema
	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresSubjectStore initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresSubjectStore) createTables() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."subjects" (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			plan TEXT NOT NULL DEFAULT 'free',
			blocked BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`, d.Schema)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create subjects: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresSubjectStore) FindSubject(ctx context.Context, id string) (models.MSubject, error) {
	var s models.MSubject
	query := fmt.Sprintf(`SELECT id, email, name, plan, blocked FROM "%s"."subjects" WHERE id = $1`, d.Schema)
	err := d.DB.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.Email, &s.Name, &s.Plan, &s.Blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MSubject{}, ErrSubjectNotFound
	}
	if err != nil {
		return models.MSubject{}, &helpers.DatabaseError{RelayError: helpers.RelayError{Message: "find subject", Cause: err}}
	}
	return s, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresSubjectStore) UpsertSubject(ctx context.Context, s models.MSubject) error {
	query := fmt.Sprintf(`
		INSERT INTO "%s"."subjects" (id, email, name, plan, blocked, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			plan = EXCLUDED.plan,
			blocked = EXCLUDED.blocked,
			updated_at = EXCLUDED.updated_at
	`, d.Schema)
	if _, err := d.DB.ExecContext(ctx, query, s.ID, s.Email, s.Name, s.Plan, s.Blocked); err != nil {
		return &helpers.DatabaseError{RelayError: helpers.RelayError{Message: "upsert subject " + s.ID, Cause: err}}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresSubjectStore) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
