// Package handler contains the HTTP handlers for the access-control API:
// health probes, token lifecycle, OTP challenges, and the admin surface for
// roles, route permissions, and audit records.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/driveport/api/pkg/apierror"
)

// validate is the shared validator instance for request payloads.
var validate = validator.New(validator.WithRequiredStructEnabled())

// respondJSON writes a success envelope.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    data,
	})
}

// decodeJSON decodes and validates a request payload. Validation failures
// return a 422 with per-field details.
func decodeJSON(r *http.Request, dst any) *apierror.Error {
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apierror.BadRequest("Invalid JSON body").WithError(err)
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
			return apierror.ValidationFailed("Request validation failed", details)
		}
		return apierror.BadRequest("Invalid request").WithError(err)
	}

	return nil
}
