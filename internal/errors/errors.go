// Package errors provides sentinel and typed errors shared by the
// infrastructure layers.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrNoData              = errors.New("no data")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrRateLimited         = errors.New("rate limited")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrNotFound            = errors.New("not found")
	ErrAuthFailed          = errors.New("authentication failed")
	ErrStoreClosed         = errors.New("store closed")
)

// APIError is a business-level failure reported by the broker API
// (rt_cd != "0").
type APIError struct {
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("api error [%s]: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new APIError
func NewAPIError(code, message string, err error) *APIError {
	return &APIError{Code: code, Message: message, Err: err}
}

// Is, As and New re-export the standard helpers so callers need one import.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)
