package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/erazemk/ferme/internal/model"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("error encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names so errors match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate decodes the body into target and runs struct
// validation, reporting the first failing field as a ValidationError.
func decodeAndValidate(r *http.Request, target any) error {
	if err := decodeJSON(r, target); err != nil {
		return &model.ValidationError{Field: "body", Message: "invalid request body"}
	}
	if err := validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return &model.ValidationError{Field: fe.Field()}
			}
			return &model.ValidationError{Field: fe.Field(), Message: validationMessage(fe)}
		}
		return fmt.Errorf("validating request: %w", err)
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte", "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "invalid value"
}

// writeError maps domain errors to HTTP responses. Unknown errors are
// logged and reported as internal errors.
func writeError(w http.ResponseWriter, err error, action string) {
	err = model.ClassifyError(err)

	var (
		ve *model.ValidationError
		ie *model.InsufficientStockError
		ne *model.NotFoundError
		se *model.StateError
		fe *model.ForbiddenError
		we *model.WorkerConflictError
		ce *model.ConnectivityError
	)
	switch {
	case errors.As(err, &ve):
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &ie):
		jsonResponse(w, http.StatusConflict, map[string]any{
			"error": ie.Error(), "available": ie.Available, "requested": ie.Requested,
		})
	case errors.As(err, &ne):
		jsonError(w, http.StatusNotFound, ne.Error())
	case errors.As(err, &se):
		jsonResponse(w, http.StatusConflict, map[string]string{"error": se.Error(), "status": string(se.From)})
	case errors.As(err, &fe):
		jsonError(w, http.StatusForbidden, fe.Error())
	case errors.As(err, &we):
		jsonResponse(w, http.StatusConflict, map[string]any{
			"error":      we.Error(),
			"existing":   we.Existing,
			"ferme_name": we.FarmName,
			"recipients": we.Recipients,
		})
	case errors.As(err, &ce):
		slog.Error("store unreachable", "action", action, "error", err)
		jsonError(w, http.StatusServiceUnavailable, "connection problem, please try again")
	default:
		slog.Error("request failed", "action", action, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

// errorClass names an error for metric labels.
func errorClass(err error) string {
	err = model.ClassifyError(err)
	var (
		ve *model.ValidationError
		ie *model.InsufficientStockError
		ne *model.NotFoundError
		se *model.StateError
		fe *model.ForbiddenError
		ce *model.ConnectivityError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ie):
		return "insufficient_stock"
	case errors.As(err, &ne):
		return "not_found"
	case errors.As(err, &se):
		return "state"
	case errors.As(err, &fe):
		return "forbidden"
	case errors.As(err, &ce):
		return "connectivity"
	}
	return "error"
}
