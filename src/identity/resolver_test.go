package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quote-relay/src/helpers"
	"quote-relay/src/logger"
	"quote-relay/src/models"
	"quote-relay/src/protocol"
	"quote-relay/src/storage"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, userID string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	log := logger.FromZap(zaptest.NewLogger(t), "identity")
	store := storage.NewSQLiteSubjectStore(models.MStorageConfig{DBPath: "file:" + t.Name() + "?mode=memory&cache=shared"}, log)
	require.NoError(t, store.Initialize())
	t.Cleanup(func() { store.Close() })

	seed := []models.MSubject{
		{ID: "u-free", Email: "free@example.com", Name: "Free", Plan: "free"},
		{ID: "u-pro", Email: "pro@example.com", Name: "Pro", Plan: "pro"},
		{ID: "u-blocked", Email: "blocked@example.com", Name: "Blocked", Plan: "pro", Blocked: true},
	}
	require.NoError(t, storage.SeedSubjects(context.Background(), store, seed, log))

	return NewResolver(models.MIdentityConfig{JWTSecret: secret}, store, log)
}

func authCode(t *testing.T, err error) string {
	t.Helper()
	var ae *helpers.AuthError
	require.True(t, errors.As(err, &ae), "want AuthError, got %v", err)
	return ae.Code
}

// -----------------------------------------------------------------------------

func TestResolve(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()
	later := time.Now().Add(time.Hour)

	subject, err := r.Resolve(ctx, sign(t, jwt.SigningMethodHS256, []byte(secret), "u-pro", later))
	require.NoError(t, err)
	assert.Equal(t, "Pro", subject.Name)
	assert.Equal(t, models.TierPro, subject.Tier())

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"missing", "", protocol.CodeAuthRequired},
		{"garbage", "not-a-jwt", protocol.CodeAuthFailed},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), "u-pro", later), protocol.CodeAuthFailed},
		{"wrong algorithm", sign(t, jwt.SigningMethodHS512, []byte(secret), "u-pro", later), protocol.CodeAuthFailed},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte(secret), "u-pro", time.Now().Add(-time.Minute)), protocol.CodeTokenExpired},
		{"unknown subject", sign(t, jwt.SigningMethodHS256, []byte(secret), "u-ghost", later), protocol.CodeAuthFailed},
		{"no subject claim", sign(t, jwt.SigningMethodHS256, []byte(secret), "", later), protocol.CodeAuthFailed},
		{"blocked", sign(t, jwt.SigningMethodHS256, []byte(secret), "u-blocked", later), protocol.CodeAuthBlocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(ctx, tt.token)
			assert.Equal(t, tt.code, authCode(t, err))
		})
	}
}

func TestUnknownPlanIsFree(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()
	require.NoError(t, r.Store.UpsertSubject(ctx, models.MSubject{ID: "u-odd", Plan: "enterprise"}))

	subject, err := r.Resolve(ctx, sign(t, jwt.SigningMethodHS256, []byte(secret), "u-odd", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, subject.Tier())
}
