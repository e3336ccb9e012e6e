package storage

import (
	"context"
	"fmt"
	"strings"

	"quote-relay/src/helpers"
	"quote-relay/src/interfaces"
	"quote-relay/src/logger"
	"quote-relay/src/models"
)

// -----------------------------------------------------------------------------

// NewSubjectStore builds the store named by cfg.DBType: sqlite (default) or postgres.
func NewSubjectStore(cfg models.MStorageConfig, log *logger.Logger) (interfaces.ISubjectStore, error) {
	switch strings.ToLower(cfg.DBType) {
	case "", "sqlite":
		return NewSQLiteSubjectStore(cfg, log), nil
	case "postgres":
		return NewPostgresSubjectStore(cfg, log)
	default:
		return nil, &helpers.ConfigurationError{RelayError: helpers.RelayError{Message: fmt.Sprintf("unsupported db_type %q", cfg.DBType)}}
	}
}

// -----------------------------------------------------------------------------

// SeedSubjects upserts the configured development subjects. Entries without an
// id are skipped.
func SeedSubjects(ctx context.Context, store interfaces.ISubjectStore, seed []models.MSubject, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	count := 0
	for _, s := range seed {
		if strings.TrimSpace(s.ID) == "" {
			log.Warning("Skipping seed subject without id (%s)", s.Email)
			continue
		}
		if s.Plan == "" {
			s.Plan = string(models.TierFree)
		}
		if err := store.UpsertSubject(ctx, s); err != nil {
			return err
		}
		count++
	}
	if count > 0 {
		log.Info("Seeded %d subjects", count)
	}
	return nil
}
