package httpx

import (
	"errors"
	"net/http"

	"github.com/bottlekeep/bottlekeep/internal/shared"
)

// RespondError maps domain error kinds to HTTP responses using RFC7807.
// Validation and insufficient-quantity errors keep their detail so the UI
// can explain the fix; stale-state errors tell the caller to re-fetch.
func RespondError(w http.ResponseWriter, err error) {
	var insufficient *shared.InsufficientQuantityError
	switch {
	case errors.As(err, &insufficient):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Quantity", insufficient.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
