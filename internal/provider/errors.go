package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredential is returned when neither an explicit API key nor a
	// process-level default is available for the selected provider. This
	// is a configuration error and aborts the pipeline immediately.
	ErrNoCredential = errors.New("no usable credential")

	// ErrUnknownProvider is returned for an unrecognized backend selector.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrEmptyResponse is returned when the backend answered without any
	// usable content.
	ErrEmptyResponse = errors.New("empty response from provider")
)

// CallError wraps a failed remote call with the operation and backend that
// produced it.
type CallError struct {
	// Op is the operation that failed (e.g., "CompleteVision", "Embed").
	Op string

	// Provider is the backend identifier.
	Provider string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	return fmt.Sprintf("provider: %s %s failed: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *CallError) Unwrap() error {
	return e.Err
}

// wrapCall wraps an error as a CallError unless it already is one.
func wrapCall(op, providerName string, err error) error {
	if err == nil {
		return nil
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return err
	}
	return &CallError{Op: op, Provider: providerName, Err: err}
}
