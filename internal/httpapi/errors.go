package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"consultation-service/internal/session"
	"consultation-service/pkg/logger"
)

// retryAfterSeconds is advertised on provider failures.
const retryAfterSeconds = "5"

func statusFor(kind string) int {
	switch kind {
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindForbidden:
		return http.StatusForbidden
	case session.KindValidation:
		return http.StatusBadRequest
	case session.KindInvalidState:
		return http.StatusConflict
	case session.KindProvider:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError maps an engine error onto the {error, kind} body.
// Internal errors are logged and never echoed to the client.
func writeError(c *gin.Context, err error) {
	kind := session.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()

	switch kind {
	case session.KindProvider:
		c.Header("Retry-After", retryAfterSeconds)
		logger.FromGin(c).Warn("meeting provider failure", "err", err)
	case session.KindInternal:
		_ = c.Error(err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "kind": kind})
}

// bindError reports a request body or query that failed to bind.
func bindError(c *gin.Context, err error) {
	msg := "invalid request body"
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg = "invalid field " + fe.Field() + " (" + fe.Tag() + ")"
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "kind": session.KindValidation})
}
