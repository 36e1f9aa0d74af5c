package gate

import "fmt"

// PersistedStateError reports a reading-window snapshot that is not a
// well-formed ordered sequence of numbers.
type PersistedStateError struct {
	// Path is the snapshot location, when known.
	Path string
	// Err is the underlying decoding problem.
	Err error
}

// Error implements error.
func (e *PersistedStateError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("persisted state: %v", e.Err)
	}

	return fmt.Sprintf("persisted state %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistedStateError) Unwrap() error {
	return e.Err
}
