package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes used across the backend. Handlers map Status to the HTTP
// response code; Code is the stable machine-readable discriminator.
const (
	CodeConfiguration    = "configuration_error"
	CodeUpstreamProtocol = "upstream_protocol_error"
	CodeUpstreamCall     = "upstream_call_error"
	CodeNotFound         = "not_found"
	CodeCancelled        = "cancelled"
	CodeParseInProgress  = "parse_in_progress"
	CodeInvalidRequest   = "invalid_request"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Configuration(format string, args ...interface{}) *Error {
	return New(http.StatusBadRequest, CodeConfiguration, fmt.Errorf(format, args...))
}

func UpstreamProtocol(format string, args ...interface{}) *Error {
	return New(http.StatusBadGateway, CodeUpstreamProtocol, fmt.Errorf(format, args...))
}

func UpstreamCall(format string, args ...interface{}) *Error {
	return New(http.StatusBadGateway, CodeUpstreamCall, fmt.Errorf(format, args...))
}

func NotFound(format string, args ...interface{}) *Error {
	return New(http.StatusNotFound, CodeNotFound, fmt.Errorf(format, args...))
}

func Cancelled(format string, args ...interface{}) *Error {
	return New(http.StatusConflict, CodeCancelled, fmt.Errorf(format, args...))
}

func ParseInProgress(format string, args ...interface{}) *Error {
	return New(http.StatusConflict, CodeParseInProgress, fmt.Errorf(format, args...))
}

func Invalid(format string, args ...interface{}) *Error {
	return New(http.StatusBadRequest, CodeInvalidRequest, fmt.Errorf(format, args...))
}

// Code extracts the error code from err, or "" when err is not an *Error.
func Code(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// StatusOf extracts the HTTP status from err, defaulting to 500.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) && ae.Status != 0 {
		return ae.Status
	}
	return http.StatusInternalServerError
}

func IsCode(err error, code string) bool {
	return Code(err) == code
}
