package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quote-relay/src/helpers"
)

// -----------------------------------------------------------------------------

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// -----------------------------------------------------------------------------

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var ve *helpers.ValidationError
	var rl *helpers.RateLimitError
	var au *helpers.AuthError
	var up *helpers.UpstreamError

	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &rl):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &au):
		return http.StatusServiceUnavailable
	case errors.As(err, &up):
		if up.Status == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *APIServer) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	// provider outages are expected noise, our own failures are not
	if status >= http.StatusInternalServerError && !helpers.IsUpstream(err) {
		s.Logger.Error("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	} else {
		s.Logger.Warning("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"status":  status,
			"message": err.Error(),
		},
	})
}

// -----------------------------------------------------------------------------

// queryInt reads an integer query parameter, returning def when absent.
func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, helpers.NewValidationError("invalid " + key + ": " + raw)
	}
	return v, nil
}
