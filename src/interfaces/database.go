package interfaces

import (
	"context"

	"quote-relay/src/models"
)

// -----------------------------------------------------------------------------
// ISubjectStore defines the contract for the subject lookup behind client tokens.
// -----------------------------------------------------------------------------

type ISubjectStore interface {

	// -----------------------------------------------------------------------------

	// Initialize opens the connection and creates the schema if needed.
	Initialize() error

	// -----------------------------------------------------------------------------

	// FindSubject loads a subject by id. A missing subject returns
	// storage.ErrSubjectNotFound.
	FindSubject(ctx context.Context, id string) (models.MSubject, error)

	// -----------------------------------------------------------------------------

	// UpsertSubject inserts or replaces a subject, used for seeding.
	UpsertSubject(ctx context.Context, subject models.MSubject) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
