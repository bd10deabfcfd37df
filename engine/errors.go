package engine

import "errors"

// Error codes. Adapters map their native failures to one of these.
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeModelNotFound  = "model_not_found"
	ErrCodeServerError    = "server_error"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeTimeout        = "timeout"
)

// Error is a typed engine failure.
type Error struct {
	Code    string // One of the ErrCode* constants.
	Message string // Human-readable description.
	Err     error  // Underlying error (may be nil).
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a typed engine error.
func NewError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsInvalidRequest reports whether the engine rejected the request.
func IsInvalidRequest(err error) bool {
	return hasCode(err, ErrCodeInvalidRequest)
}

// IsModelNotFound reports whether the requested model is unknown to the engine.
func IsModelNotFound(err error) bool {
	return hasCode(err, ErrCodeModelNotFound)
}

// IsServerError reports whether the engine failed internally.
func IsServerError(err error) bool {
	return hasCode(err, ErrCodeServerError)
}

// IsUnavailable reports whether the engine could not be reached.
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}

// IsTimeout reports whether the call timed out or was cancelled.
func IsTimeout(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

// Code returns the engine error code carried by err, or "" if none.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func hasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
