package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"quote-relay/src/helpers"
	"quote-relay/src/interfaces"
	"quote-relay/src/logger"
	"quote-relay/src/models"
	"quote-relay/src/protocol"
	"quote-relay/src/storage"
)

// Claims is the payload of a client token. Tokens are issued elsewhere; the
// relay only verifies them.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// -----------------------------------------------------------------------------

// Resolver turns a client token into a subject. Every failure is an
// *helpers.AuthError whose Code is the client-facing error code.
type Resolver struct {
	secret []byte
	Store  interfaces.ISubjectStore
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewResolver(cfg models.MIdentityConfig, store interfaces.ISubjectStore, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{
		secret: []byte(cfg.JWTSecret),
		Store:  store,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

func (r *Resolver) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return r.secret, nil
}

// -----------------------------------------------------------------------------

// Resolve verifies tokenString (HS256) and loads its subject.
func (r *Resolver) Resolve(ctx context.Context, tokenString string) (models.MSubject, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return models.MSubject{}, helpers.NewAuthError(protocol.CodeAuthRequired, "Token required for authentication", nil)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, r.keyFunc, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.MSubject{}, helpers.NewAuthError(protocol.CodeTokenExpired, "Token expired", err)
		}
		return models.MSubject{}, helpers.NewAuthError(protocol.CodeAuthFailed, "Authentication failed", err)
	}
	if !token.Valid || claims.UserID == "" {
		return models.MSubject{}, helpers.NewAuthError(protocol.CodeAuthFailed, "Authentication failed", nil)
	}

	subject, err := r.Store.FindSubject(ctx, claims.UserID)
	if errors.Is(err, storage.ErrSubjectNotFound) {
		return models.MSubject{}, helpers.NewAuthError(protocol.CodeAuthFailed, "User not found", err)
	}
	if err != nil {
		r.Logger.Error("Subject lookup failed for %s: %v", claims.UserID, err)
		return models.MSubject{}, helpers.NewAuthError(protocol.CodeAuthFailed, "Authentication failed", err)
	}

	if subject.Blocked {
		return models.MSubject{}, helpers.NewAuthError(protocol.CodeAuthBlocked, "Account blocked", nil)
	}
	return subject, nil
}
