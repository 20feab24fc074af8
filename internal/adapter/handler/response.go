package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/srgjo27/travel_booking/internal/core/domain"
	"github.com/srgjo27/travel_booking/internal/core/ports"
	"github.com/srgjo27/travel_booking/internal/core/services"
)

const retryLaterMessage = "service temporarily unavailable, please retry later"

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// rejectionStatus maps a business rejection onto an HTTP status.
func rejectionStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.InventoryUnavailable:
		return http.StatusNotFound
	case domain.AlreadyTerminal, domain.InvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// writeServiceError renders any error returned by the services. Infrastructure
// failures never leak their detail.
func writeServiceError(w http.ResponseWriter, err error) {
	var rej *domain.RejectionError
	switch {
	case errors.As(err, &rej):
		writeJSON(w, rejectionStatus(rej.Kind), map[string]string{
			"error":  rej.Message,
			"reason": string(rej.Kind),
		})
	case errors.Is(err, services.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ports.ErrBookingNotFound), errors.Is(err, ports.ErrItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ports.ErrStatusConflict):
		writeError(w, http.StatusConflict, "booking was modified concurrently, please retry")
	default:
		writeError(w, http.StatusInternalServerError, retryLaterMessage)
	}
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the 400 response itself and reports whether the caller may go on.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeJSON(w, r, dst) && validateBody(w, dst)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func validateBody(w http.ResponseWriter, dst any) bool {
	err := validate.Struct(dst)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field()+" failed "+fe.Tag())
		}
		writeError(w, http.StatusBadRequest, "validation failed: "+strings.Join(fields, ", "))
		return false
	}
	writeError(w, http.StatusBadRequest, err.Error())
	return false
}
