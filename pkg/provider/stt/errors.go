package stt

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by a Provider wraps exactly one of
// these sentinels; match with errors.Is.
var (
	// ErrTimeout indicates the provider did not answer within its deadline.
	ErrTimeout = errors.New("stt: request timed out")

	// ErrInvalidAudio indicates the audio payload was rejected by the provider
	// (unsupported format, empty clip, corrupt data).
	ErrInvalidAudio = errors.New("stt: invalid audio")

	// ErrRateLimited indicates the provider refused the request due to quota.
	ErrRateLimited = errors.New("stt: rate limited")

	// ErrProvider is the catch-all kind for any other provider-side failure.
	ErrProvider = errors.New("stt: provider error")
)

// Error is the failure type returned by STT providers. It attributes the
// failure to a provider and classifies it under one of the kind sentinels.
type Error struct {
	// Provider is the name of the provider that failed.
	Provider string

	// Kind is one of [ErrTimeout], [ErrInvalidAudio], [ErrRateLimited],
	// [ErrProvider].
	Kind error

	// Message is a human-readable description of the failure.
	Message string

	// Cause is the underlying error from the vendor SDK or transport, if any.
	Cause error
}

// NewError constructs a [*Error] with the given attribution and kind.
func NewError(provider string, kind error, message string, cause error) *Error {
	return &Error{Provider: provider, Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Provider, e.Message)
}

// Unwrap exposes the kind sentinel and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}
