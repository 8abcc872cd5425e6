package keychain

import (
	"errors"
	"fmt"
)

// NotFoundError indicates the secret store has no entry under the
// requested name.
type NotFoundError struct {
	Item string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("keychain item %q not found: %v", e.Item, e.Err)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// ParseError indicates a secret store response that could not be parsed
// unambiguously. The parsers are strict: an expected marker found zero
// times or more than once both fail, because a guess either way could
// sign or upload with the wrong material.
type ParseError struct {
	// Marker is the delimiter or field prefix that failed to match.
	Marker string

	// Count is how many times the marker matched.
	Count int
}

func (e *ParseError) Error() string {
	if e.Count == 0 {
		return fmt.Sprintf("marker %q not found in keychain output", e.Marker)
	}
	return fmt.Sprintf("marker %q found %d times in keychain output, want exactly one", e.Marker, e.Count)
}

// IsNotFound reports whether err is a NotFoundError.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
