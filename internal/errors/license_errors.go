package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapLicenseError maps domain errors to HTTP problem details.
func MapLicenseError(err error, traceID string) render.Renderer {
	instance := fmt.Sprintf("/api/license#trace-%s", traceID)

	// Typed remote failures carry their own code and status.
	if f, ok := AsFailure(err); ok {
		return mapFailure(f, traceID, instance)
	}

	switch {
	case errors.Is(err, ErrLicenseExpired):
		return NewProblemDetails(
			http.StatusForbidden,
			"/errors/license-expired",
			"License Expired",
			"Your license has expired. Please renew to continue.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", CodeLicenseExpired)

	case errors.Is(err, ErrActivationLimitExceeded):
		return NewProblemDetails(
			http.StatusConflict,
			"/errors/activation-limit-exceeded",
			"Activation Limit Exceeded",
			"This license has reached its maximum number of activations. Deactivate another site or upgrade your plan.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", CodeActivationLimitExceeded)

	case errors.Is(err, ErrLicenseNotFound):
		return NewProblemDetails(
			http.StatusNotFound,
			"/errors/license-not-found",
			"License Not Found",
			"The provided license key was not found. Please verify the key and try again.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", CodeLicenseNotFound)

	case errors.Is(err, ErrLicenseNotActivated):
		return NewProblemDetails(
			http.StatusPreconditionRequired,
			"/errors/license-not-activated",
			"License Not Activated",
			"No license has been activated. Please activate a license to continue.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "LICENSE_NOT_ACTIVATED")

	case errors.Is(err, ErrValidationRejected):
		return NewProblemDetails(
			http.StatusBadRequest,
			"/errors/invalid-license-request",
			"Invalid License Request",
			"The license server rejected the request as malformed.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "VALIDATION_FAILED")

	case errors.Is(err, ErrRateLimited):
		return NewProblemDetails(
			http.StatusTooManyRequests,
			"/errors/rate-limited",
			"Too Many Requests",
			"Too many activation attempts. Please try again later.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "RATE_LIMITED").
			WithExtension("retry_after", 900)

	case errors.Is(err, ErrNetwork):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			"/errors/network-error",
			"Network Error",
			"Unable to connect to license server. Please check your connection.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "NETWORK_ERROR")

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/internal-error",
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INTERNAL_ERROR")
	}
}

// mapFailure translates a typed remote failure, preserving the server
// code and message for diagnostics.
func mapFailure(f *Failure, traceID, instance string) render.Renderer {
	if sentinel := f.Unwrap(); sentinel != nil {
		pd, ok := MapLicenseError(sentinel, traceID).(*ProblemDetails)
		if ok {
			if f.Code != "" {
				pd.WithExtension("server_code", f.Code)
			}
			if f.Message != "" {
				pd.Detail = f.Message
			}
			return pd
		}
	}
	return NewProblemDetails(
		http.StatusBadGateway,
		"/errors/license-server-error",
		"License Server Error",
		f.Message,
		instance,
	).WithExtension("trace_id", traceID).
		WithExtension("error_code", f.Code).
		WithExtension("upstream_status", f.HTTPStatus)
}
