package extract

import (
	"errors"
	"fmt"
)

var (
	// ErrNoImages indicates an extraction call with an empty chunk list.
	ErrNoImages = errors.New("no image chunks provided")

	// ErrInvalidConfiguration indicates missing or inconsistent processor
	// settings.
	ErrInvalidConfiguration = errors.New("invalid extractor configuration")

	// ErrProcessingFailed indicates the remote service accepted the request
	// but returned no usable document.
	ErrProcessingFailed = errors.New("document processing failed")
)

// ExtractionError wraps a failure with the operation that produced it.
type ExtractionError struct {
	Op      string
	Err     error
	Details string
}

func (e *ExtractionError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func wrapExtractionError(op string, err error, details string) error {
	return &ExtractionError{Op: op, Err: err, Details: details}
}
