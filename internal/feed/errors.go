package feed

import (
	"errors"
	"fmt"
)

// LoadError indicates the appcast could not be read or is not
// well-formed XML.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load appcast %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// StructureError indicates the merge target or fragment is ambiguous:
// the document must contain exactly one channel and the fragment exactly
// one item with one title, or there is no well-defined place to insert.
type StructureError struct {
	// Node is the element path that failed the count check.
	Node string

	// Count is how many matches were found.
	Count int
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("appcast structure: found %d %s elements, want exactly one", e.Count, e.Node)
}

// IsStructureError reports whether err is a StructureError.
// Uses errors.As to handle wrapped errors.
func IsStructureError(err error) bool {
	var se *StructureError
	return errors.As(err, &se)
}
