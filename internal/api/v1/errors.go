package v1

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/kanbansync/internal/domain"
)

// httpError maps a domain error onto a huma status error. msg is used as the
// response detail; the wrapped error is attached for logging.
func httpError(err error, msg string) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound(msg, err)
	case errors.Is(err, domain.ErrInvalidColumn), errors.Is(err, domain.ErrValidation):
		return huma.Error422UnprocessableEntity(msg, err)
	case errors.Is(err, domain.ErrIntegrity):
		return huma.Error409Conflict(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
