// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connector

import (
	"fmt"
	"net/http"
)

// Code classifies engine errors into a closed set so callers can branch on
// failure class without parsing free-text messages.
type Code string

const (
	// CodeAccessDenied indicates the user is not a member of the workspace
	CodeAccessDenied Code = "ACCESS_DENIED"

	// CodeConnectorNotFound indicates no connector is registered for the
	// requested provider key
	CodeConnectorNotFound Code = "CONNECTOR_NOT_FOUND"

	// CodeWorkspaceConnectorNotFound indicates the provider is not
	// activated for the workspace
	CodeWorkspaceConnectorNotFound Code = "WORKSPACE_CONNECTOR_NOT_FOUND"

	// CodeAuthError indicates missing, expired, or unrefreshable credentials
	CodeAuthError Code = "AUTH_ERROR"

	// CodeValidationError indicates bad action parameters or an
	// unsupported action type
	CodeValidationError Code = "VALIDATION_ERROR"

	// CodeRateLimited indicates a rate limit denial (engine or provider)
	CodeRateLimited Code = "RATE_LIMITED"

	// CodeHTTPError indicates a non-2xx response from the provider
	CodeHTTPError Code = "HTTP_ERROR"

	// CodeParseError indicates a malformed provider response
	CodeParseError Code = "PARSE_ERROR"

	// CodeUnknown indicates an unclassified failure
	CodeUnknown Code = "UNKNOWN_ERROR"
)

// Error represents an action execution error with classification.
type Error struct {
	// Code classifies the error for branching
	Code Code

	// Message is the human-readable error description
	Message string

	// StatusCode is the provider HTTP status code (if applicable)
	StatusCode int

	// RetryAfter indicates seconds until retry makes sense (rate limits)
	RetryAfter int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)

	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}

	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether resubmitting the same action could succeed
// without operator intervention. The engine itself never retries; this is
// guidance for callers.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case CodeRateLimited, CodeHTTPError, CodeUnknown:
		return true
	default:
		return false
	}
}

// CodeOf extracts the classification from an error, defaulting to
// CodeUnknown for errors the engine did not produce.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeUnknown
}

// ClassifyStatus maps a provider HTTP status code to an error code.
func ClassifyStatus(statusCode int) Code {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return CodeAuthError
	case statusCode == http.StatusTooManyRequests:
		return CodeRateLimited
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return CodeValidationError
	default:
		return CodeHTTPError
	}
}

// FromHTTPStatus creates an Error from a provider HTTP response.
// The response body is NOT included in the error message to avoid leaking
// sensitive data; it should be logged separately for debugging.
func FromHTTPStatus(statusCode int, statusText string, retryAfter int) *Error {
	return &Error{
		Code:       ClassifyStatus(statusCode),
		StatusCode: statusCode,
		Message:    fmt.Sprintf("provider returned %d %s", statusCode, statusText),
		RetryAfter: retryAfter,
	}
}

// NewAuthError creates an AUTH_ERROR.
func NewAuthError(message string, cause error) *Error {
	return &Error{Code: CodeAuthError, Message: message, Cause: cause}
}

// NewValidationError creates a VALIDATION_ERROR.
func NewValidationError(message string) *Error {
	return &Error{Code: CodeValidationError, Message: message}
}

// NewParseError creates a PARSE_ERROR for malformed provider responses.
func NewParseError(message string, cause error) *Error {
	return &Error{Code: CodeParseError, Message: message, Cause: cause}
}

// NewUnknownError wraps an unclassified failure.
func NewUnknownError(cause error) *Error {
	return &Error{Code: CodeUnknown, Message: "execution failed", Cause: cause}
}
