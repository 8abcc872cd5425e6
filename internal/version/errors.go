package version

import (
	"errors"
	"fmt"
)

// ReadError indicates the version manifest could not be read or parsed,
// or that it is missing the version field entirely.
type ReadError struct {
	// Path is the manifest location.
	Path string

	// Message is a human-readable description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

func (e *ReadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("read version manifest %s: %s: %v", e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("read version manifest %s: %s", e.Path, e.Message)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// InvariantError indicates a bump to the version already recorded in the
// manifest. Rejecting it up front keeps the feed's duplicate-title guard
// and the archive filename meaningful downstream.
type InvariantError struct {
	Version string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("version is already at %s", e.Version)
}

// IsInvariantError reports whether err is an InvariantError.
// Uses errors.As to handle wrapped errors.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
