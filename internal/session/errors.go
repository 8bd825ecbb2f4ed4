package session

import "fmt"

// ErrUnsupportedEnvironment is returned by StartTracking when no location
// source is available (no geolocation capability on this device).
var ErrUnsupportedEnvironment = fmt.Errorf("location services are not supported in this environment")

// ValidationError is a locally-detected precondition failure. Nothing is
// emitted to the transport and no state changes.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ProtocolError is a server-side rejection of a share action, delivered
// as shareRequestError. It is surfaced once and never retried.
type ProtocolError struct {
	TargetUserID string
	Message      string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

// GeoErrorCode classifies position stream failures
type GeoErrorCode int

const (
	GeoPermissionDenied GeoErrorCode = iota + 1
	GeoPositionUnavailable
	GeoTimeout
)

// GeolocationError is a classified failure of the position stream. Any of
// these forces the tracking controller back to idle.
type GeolocationError struct {
	Code    GeoErrorCode
	Message string
}

func (e *GeolocationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Code {
	case GeoPermissionDenied:
		return "location access was denied"
	case GeoPositionUnavailable:
		return "position is unavailable, check GPS"
	case GeoTimeout:
		return "location request timed out"
	}
	return "could not determine location"
}

// StatusKind classifies user-facing status messages
type StatusKind int

const (
	StatusInfo StatusKind = iota
	StatusValidationError
	StatusProtocolError
	StatusGeolocationError
	StatusSessionError
)

// Status is a user-facing message surfaced by the session core. The UI
// decides how long to display it; the core emits each occurrence once.
type Status struct {
	Kind    StatusKind
	Message string
}
