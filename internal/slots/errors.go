package slots

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSession is returned when a session does not exist and the
	// caller did not allow it to be created.
	ErrUnknownSession = errors.New("unknown session")

	// ErrSchemaMismatch is returned when an extraction names a slot the schema
	// does not declare and the engine is configured to reject unknown slots.
	ErrSchemaMismatch = errors.New("extraction does not match slot schema")

	// ErrExtractionTimeout is returned when the extractor does not answer within
	// the configured timeout. The session is left unchanged; callers may retry.
	ErrExtractionTimeout = errors.New("extraction timed out")

	// ErrExtractionFailed is returned when the extractor answers with an error.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrStoreUnavailable wraps any persistence failure other than not-found.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrSessionNotFound is returned by stores for a missing session id.
	ErrSessionNotFound = errors.New("session not found")
)

// CoercionError describes an extracted value that could not be converted to
// its slot type. It is not fatal: the slot is left absent.
type CoercionError struct {
	Slot string
	Type Type
	Raw  any
	Err  error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("slot %q: cannot coerce %v to %s: %v", e.Slot, e.Raw, e.Type, e.Err)
}

func (e *CoercionError) Unwrap() error { return e.Err }

// Retryable reports whether err is transient from the user's point of view.
func Retryable(err error) bool {
	return errors.Is(err, ErrExtractionTimeout) ||
		errors.Is(err, ErrExtractionFailed) ||
		errors.Is(err, ErrStoreUnavailable)
}
