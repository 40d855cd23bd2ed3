package httpx

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/kinoteka/kinoteka/internal/authz"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("malformed request")
)

// RespondError maps domain errors and guard denials to HTTP responses.
// Unexpected errors are logged and reported without detail.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if v, ok := authz.AsViolations(err); ok {
		respondViolations(w, v)
		return
	}
	if d, ok := authz.AsDenial(err); ok {
		respondViolations(w, &authz.Violations{Items: []*authz.Denial{d}})
		return
	}
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		Fail(w, http.StatusUnprocessableEntity, "The given data was invalid.", ValidationFields(verrs))
	case errors.Is(err, ErrNotFound):
		Fail(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, ErrBadRequest):
		Fail(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, ErrUnauthorized):
		Fail(w, http.StatusUnauthorized, "Unauthenticated.", nil)
	default:
		if logger != nil {
			logger.Error("request failed", slog.Any("error", err))
		}
		Fail(w, http.StatusInternalServerError, "Internal server error.", nil)
	}
}

func respondViolations(w http.ResponseWriter, v *authz.Violations) {
	fields := v.Fields()
	switch kind := v.Kind(); {
	case kind == authz.KindRateLimited:
		seconds := 0
		for _, d := range v.Items {
			if d.Kind == authz.KindRateLimited {
				seconds = int(math.Ceil(d.RetryAfter.Seconds()))
			}
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		JSON(w, http.StatusTooManyRequests, Envelope{Success: false, Message: authz.ReasonThrottled, Errors: fields, RetryAfter: seconds})
	case v.FieldLevel:
		Fail(w, http.StatusUnprocessableEntity, "The given data was invalid.", fields)
	case kind == authz.KindAuthorization, kind == authz.KindCatalogRestricted:
		if len(v.Items) == 1 && v.Items[0].Field == "" {
			Fail(w, http.StatusForbidden, v.Items[0].Reason, nil)
			return
		}
		Fail(w, http.StatusForbidden, v.Items[0].Reason, fields)
	default:
		Fail(w, http.StatusUnprocessableEntity, "The given data was invalid.", fields)
	}
}

// ValidationFields converts validator errors into the per-field error map.
func ValidationFields(verrs validator.ValidationErrors) map[string][]string {
	out := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		out[field] = append(out[field], fieldMessage(fe))
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "The " + fe.Field() + " field is required."
	case "snake_case":
		return "The " + fe.Field() + " must be lowercase snake_case."
	case "oneof":
		return "The selected " + fe.Field() + " is invalid."
	case "min":
		return "The " + fe.Field() + " must be at least " + fe.Param() + "."
	case "max":
		return "The " + fe.Field() + " may not be greater than " + fe.Param() + "."
	case "email":
		return "The " + fe.Field() + " must be a valid email address."
	default:
		return "The " + fe.Field() + " is invalid."
	}
}
