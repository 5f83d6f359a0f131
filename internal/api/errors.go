package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/pcd-core/internal/announce"
	"github.com/nerrad567/pcd-core/internal/catalogue"
	"github.com/nerrad567/pcd-core/internal/driver"
	"github.com/nerrad567/pcd-core/internal/pcd"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeForbidden   = "forbidden"
	ErrCodeConflict    = "conflict"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeNoSpace     = "no_space"
	ErrCodeUnavailable = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDriverError maps a driver, catalogue or codec error to a response.
// The error text is returned to the caller; it never carries secrets.
func writeDriverError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	writeError(w, status, code, err.Error())
}

// classifyError picks the HTTP status and error code for err.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, driver.ErrUnknownDevice),
		errors.Is(err, driver.ErrUnknownAttribute),
		errors.Is(err, errSessionNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, driver.ErrPermissionDenied),
		errors.Is(err, driver.ErrReadOnlyAttribute):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, driver.ErrNoSpace):
		return http.StatusInsufficientStorage, ErrCodeNoSpace
	case errors.Is(err, driver.ErrSessionClosed),
		errors.Is(err, driver.ErrRegistrationFailed),
		errors.Is(err, driver.ErrPublishFailed):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, driver.ErrRegistryClosed):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, driver.ErrResolutionFailed),
		errors.Is(err, driver.ErrAllocationFailed),
		errors.Is(err, driver.ErrOutOfRange),
		errors.Is(err, driver.ErrInvalidWhence),
		errors.Is(err, driver.ErrInvalidCapacity),
		errors.Is(err, catalogue.ErrNoMatch),
		errors.Is(err, catalogue.ErrMissingProperty),
		errors.Is(err, catalogue.ErrNoDescriptor),
		errors.Is(err, pcd.ErrInvalidPermission),
		errors.Is(err, pcd.ErrInvalidAccessMode),
		errors.Is(err, pcd.ErrInvalidCapacity),
		errors.Is(err, pcd.ErrInvalidSerial),
		errors.Is(err, announce.ErrDecode),
		errors.Is(err, announce.ErrInvalidAnnouncement):
		return http.StatusUnprocessableEntity, ErrCodeValidation
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
