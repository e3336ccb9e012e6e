package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quote-relay/src/helpers"
	"quote-relay/src/logger"
	"quote-relay/src/models"
)

func TestSQLiteSubjectStore(t *testing.T) {
	log := logger.FromZap(zaptest.NewLogger(t), "storage")
	store, err := NewSubjectStore(models.MStorageConfig{DBType: "sqlite", DBPath: "file:subjects?mode=memory&cache=shared"}, log)
	require.NoError(t, err)
	require.NoError(t, store.Initialize())
	defer store.Close()
	ctx := context.Background()

	_, err = store.FindSubject(ctx, "u1")
	assert.ErrorIs(t, err, ErrSubjectNotFound)

	require.NoError(t, SeedSubjects(ctx, store, []models.MSubject{
		{ID: "u1", Email: "a@example.com", Name: "A"},
		{Email: "no-id@example.com"},
	}, log))

	got, err := store.FindSubject(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.MSubject{ID: "u1", Email: "a@example.com", Name: "A", Plan: "free"}, got)

	require.NoError(t, store.UpsertSubject(ctx, models.MSubject{ID: "u1", Email: "a@example.com", Name: "A", Plan: "pro", Blocked: true}))
	got, err = store.FindSubject(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "pro", got.Plan)
	assert.True(t, got.Blocked)
}

func TestNewSubjectStore(t *testing.T) {
	s, err := NewSubjectStore(models.MStorageConfig{DBType: "postgres", Schema: "relay_test"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "relay_test", s.(*PostgresSubjectStore).Schema)

	s, err = NewSubjectStore(models.MStorageConfig{DBType: "postgres"}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultSchema, s.(*PostgresSubjectStore).Schema)

	_, err = NewSubjectStore(models.MStorageConfig{DBType: "postgres", Schema: `x"; DROP`}, nil)
	var ce *helpers.ConfigurationError
	assert.ErrorAs(t, err, &ce)

	_, err = NewSubjectStore(models.MStorageConfig{DBType: "mongo"}, nil)
	assert.ErrorAs(t, err, &ce)
}
