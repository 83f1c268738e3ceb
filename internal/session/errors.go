package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state")
	ErrProvider     = errors.New("meeting provider error")
)

// Kinds are the stable error identifiers surfaced to callers.
const (
	KindNotFound     = "not_found"
	KindForbidden    = "forbidden"
	KindValidation   = "validation"
	KindInvalidState = "invalid_state"
	KindProvider     = "provider"
	KindInternal     = "internal"
)

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrProvider):
		return KindProvider
	}
	return KindInternal
}

// IsRetryable reports whether repeating the operation may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == KindProvider || k == KindInternal
}

func invalidState(current Status, op Op) error {
	return fmt.Errorf("%w: cannot %s a session that is %s", ErrInvalidState, op, current)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

func describeField(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "nefield":
		return fmt.Sprintf("%s must differ from %s", field, fe.Param())
	}
	return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
}
