// internal/browser/dom/errors.go
package dom

import "fmt"

// Typed errors let callers classify document failures with errors.As instead
// of string matching.

// ElementNotFoundError is returned when an element handle no longer resolves
// to a node in the document (the node was removed or the document replaced).
type ElementNotFoundError struct {
	Key string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element %q is no longer attached to the document", e.Key)
}

// NewElementNotFoundError creates a new ElementNotFoundError.
func NewElementNotFoundError(key string) *ElementNotFoundError {
	return &ElementNotFoundError{Key: key}
}

// NavigationError represents a failed navigation attempt.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %q failed: %v", e.URL, e.Err)
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *NavigationError) Unwrap() error {
	return e.Err
}
