package httperr

import (
	"errors"
	"net/http"

	"github.com/corray333/labshop/internal/service/errs"
	"github.com/corray333/labshop/pkg/http/respond"
	"github.com/go-playground/validator/v10"
)

// Classify maps the service error taxonomy to a status and an envelope code.
func Classify(err error) (int, string) {
	var verr validator.ValidationErrors
	switch {
	case errors.As(err, &verr), errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, errs.ErrDependency):
		return http.StatusServiceUnavailable, "dependency_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func Write(w http.ResponseWriter, r *http.Request, err error) {
	respond.Classified(w, r, err, Classify)
}

// BadRequest reports an undecodable body or parameter.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	respond.Error(w, r, http.StatusBadRequest, "validation_error", message)
}
