package helpers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quote-relay/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type RelayError struct {
	Message string
	Cause   error
}

func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RelayError) Unwrap() error {
	return e.Cause
}

type ConfigurationError struct{ RelayError }
type DatabaseError struct{ RelayError }
type ValidationError struct{ RelayError }
type LimitExceededError struct {
	RelayError
	Limit int
}

// UpstreamError covers transport failures, timeouts and provider-reported errors.
type UpstreamError struct {
	RelayError
	Provider string
	Status   int
}

// RateLimitError means the provider refused the call for exceeding its quota.
type RateLimitError struct {
	RelayError
	Provider string
}

// AuthError is a rejected credential. Code carries the client-facing error code
// when the credential belongs to a client, or is empty for provider tokens.
type AuthError struct {
	RelayError
	Code string
}

// -----------------------------------------------------------------------------

func NewUpstreamError(provider string, status int, msg string, cause error) *UpstreamError {
	return &UpstreamError{RelayError: RelayError{Message: provider + ": " + msg, Cause: cause}, Provider: provider, Status: status}
}

func NewRateLimitError(provider string, msg string) *RateLimitError {
	return &RateLimitError{RelayError: RelayError{Message: provider + ": " + msg}, Provider: provider}
}

func NewAuthError(code string, msg string, cause error) *AuthError {
	return &AuthError{RelayError: RelayError{Message: msg, Cause: cause}, Code: code}
}

func NewValidationError(msg string) *ValidationError {
	return &ValidationError{RelayError{Message: msg}}
}

func NewLimitExceededError(limit int, msg string) *LimitExceededError {
	return &LimitExceededError{RelayError: RelayError{Message: msg}, Limit: limit}
}

// -----------------------------------------------------------------------------

// IsUpstream reports whether err is any of the upstream failure classes.
func IsUpstream(err error) bool {
	var up *UpstreamError
	var rl *RateLimitError
	var au *AuthError
	return errors.As(err, &up) || errors.As(err, &rl) || errors.As(err, &au)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryFixed runs fn up to 1+retries times, sleeping backoff between attempts.
// It returns the last error, or ctx.Err() if the context ends while waiting.
func RetryFixed(ctx context.Context, retries int, backoff time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := Sleep(ctx, backoff); err != nil {
				return err
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// -----------------------------------------------------------------------------

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// -----------------------------------------------------------------------------
// Error Handler
// -----------------------------------------------------------------------------

type ErrorHandler struct {
	Logger *logger.Logger
}

func NewErrorHandler(log *logger.Logger) *ErrorHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ErrorHandler{Logger: log}
}

// -----------------------------------------------------------------------------

// Handle logs err at a level matching its class.
func (e *ErrorHandler) Handle(err error, context string) {
	if err == nil {
		return
	}

	var rl *RateLimitError
	var up *UpstreamError
	var au *AuthError
	var ve *ValidationError
	var le *LimitExceededError

	switch {
	case errors.As(err, &rl):
		e.Logger.Warning("rate limited in %s (%s): %v", context, rl.Provider, err)
	case errors.As(err, &up):
		e.Logger.Warning("upstream failure in %s (%s, status %d): %v", context, up.Provider, up.Status, err)
	case errors.As(err, &au):
		e.Logger.Warning("auth failure in %s: %v", context, err)
	case errors.As(err, &ve), errors.As(err, &le):
		e.Logger.Debug("rejected in %s: %v", context, err)
	default:
		e.Logger.Error("Error in %s: %v", context, err)
	}
}
