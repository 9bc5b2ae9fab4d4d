package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of failure classifications a remote licensing
// call can produce. Every Failure carries exactly one Kind.
type Kind string

const (
	// KindLicenseExpired signals the server reported an expired license.
	KindLicenseExpired Kind = "license_expired"
	// KindActivationLimit signals the domain/activation cap is reached.
	KindActivationLimit Kind = "activation_limit_exceeded"
	// KindLicenseNotFound signals the key is unknown to the server.
	KindLicenseNotFound Kind = "license_not_found"
	// KindValidation signals a malformed or rejected request (HTTP 400
	// with no more specific server code).
	KindValidation Kind = "validation"
	// KindNetwork signals a transport-level failure or a non-JSON body.
	KindNetwork Kind = "network"
	// KindRateLimited signals the local activation guard refused the
	// attempt. It never originates from the remote service.
	KindRateLimited Kind = "rate_limited"
	// KindAPI is the catch-all for unclassified remote errors.
	KindAPI Kind = "api"
)

// Server error codes classified into specific kinds. Exact string
// match, first match wins; anything else falls back to HTTP status.
const (
	CodeLicenseExpired          = "LICENSE_EXPIRED"
	CodeActivationLimitExceeded = "ACTIVATION_LIMIT_EXCEEDED"
	CodeLicenseNotFound         = "LICENSE_NOT_FOUND"
)

// Sentinel errors for errors.Is matching across layers.
var (
	ErrLicenseExpired          = errors.New("license expired")
	ErrActivationLimitExceeded = errors.New("activation limit exceeded")
	ErrLicenseNotFound         = errors.New("license not found")
	ErrValidationRejected      = errors.New("request rejected by license server")
	ErrNetwork                 = errors.New("license server unreachable")
	ErrRateLimited             = errors.New("too many activation attempts")
	ErrLicenseNotActivated     = errors.New("license not activated")
)

// Failure is the typed result of a failed remote licensing call. It
// carries the raw error payload for diagnostics; Raw may be nil when
// the body was empty or unreadable.
type Failure struct {
	Kind       Kind
	Code       string
	Message    string
	HTTPStatus int
	Raw        []byte
	cause      error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("license api failure (%s/%s, http %d): %s", f.Kind, f.Code, f.HTTPStatus, f.Message)
	}
	return fmt.Sprintf("license api failure (%s, http %d): %s", f.Kind, f.HTTPStatus, f.Message)
}

// Unwrap maps the failure kind onto its sentinel so callers can use
// errors.Is without reaching into the struct.
func (f *Failure) Unwrap() error {
	if f.cause != nil {
		return f.cause
	}
	switch f.Kind {
	case KindLicenseExpired:
		return ErrLicenseExpired
	case KindActivationLimit:
		return ErrActivationLimitExceeded
	case KindLicenseNotFound:
		return ErrLicenseNotFound
	case KindValidation:
		return ErrValidationRejected
	case KindNetwork:
		return ErrNetwork
	case KindRateLimited:
		return ErrRateLimited
	default:
		return nil
	}
}

// NewFailure builds a Failure with an explicit kind.
func NewFailure(kind Kind, code, message string, httpStatus int, raw []byte) *Failure {
	return &Failure{Kind: kind, Code: code, Message: message, HTTPStatus: httpStatus, Raw: raw}
}

// NetworkFailure wraps a transport-level error (timeout, refused
// connection, non-JSON body) into the network kind.
func NetworkFailure(err error, raw []byte) *Failure {
	msg := "network error"
	if err != nil {
		msg = err.Error()
	}
	return &Failure{Kind: KindNetwork, Message: msg, Raw: raw, cause: ErrNetwork}
}

// Classify maps a server error code and HTTP status onto a failure
// kind. Codes are matched exactly and take precedence over status; an
// unmatched code with HTTP 400 is a validation failure; everything
// else is the generic API kind.
func Classify(code string, httpStatus int) Kind {
	switch code {
	case CodeLicenseExpired:
		return KindLicenseExpired
	case CodeActivationLimitExceeded:
		return KindActivationLimit
	case CodeLicenseNotFound:
		return KindLicenseNotFound
	}
	if httpStatus == http.StatusBadRequest {
		return KindValidation
	}
	return KindAPI
}

// ClassifiedFailure builds a Failure whose kind is derived from the
// server code and HTTP status.
func ClassifiedFailure(code, message string, httpStatus int, raw []byte) *Failure {
	return NewFailure(Classify(code, httpStatus), code, message, httpStatus, raw)
}

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
