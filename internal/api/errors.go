package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ssrf-beamline/fpsioc/internal/command"
)

// APIError is a transport-level error with its HTTP status.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// NewAPIError creates a new API error.
func NewAPIError(code, message string, statusCode int, details interface{}) *APIError {
	return &APIError{Code: code, Message: message, Details: details, StatusCode: statusCode}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToAPIError maps an error to an HTTP status and an error envelope.
func ToAPIError(err error) (int, *Response) {
	if err == nil {
		return http.StatusOK, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, ErrorResponse(apiErr.Code, apiErr.Message, apiErr.Details)
	}

	code := command.Code(err)
	switch code {
	case "NOT_FOUND":
		return http.StatusNotFound, ErrorResponse(code, err.Error(), nil)
	case "BAD_REQUEST":
		return http.StatusBadRequest, ErrorResponse(code, err.Error(), nil)
	case "CONFLICT", "UNDEFINED":
		return http.StatusConflict, ErrorResponse(code, err.Error(), nil)
	case "UNAVAILABLE":
		return http.StatusServiceUnavailable, ErrorResponse(code, "Port busy or unavailable, retry with backoff", nil)
	case "DEVICE_ERROR":
		return http.StatusBadGateway, ErrorResponse(code, err.Error(), nil)
	default:
		return http.StatusInternalServerError, ErrorResponse("INTERNAL", "Internal server error",
			map[string]interface{}{"original": err.Error()})
	}
}

// writeAPIError writes err as an error envelope.
func writeAPIError(w http.ResponseWriter, err error) {
	status, resp := ToAPIError(err)
	writeResponse(w, status, resp)
}
