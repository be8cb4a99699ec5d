package visit

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a referenced entity does not exist. Surfaced to
// callers as a client error.
type NotFoundError struct {
	Kind string // "visit", "patient", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// PreconditionError indicates a clinically invalid action (missing doctor,
// illegal transition). Fatal, never retried.
type PreconditionError struct {
	Op  string
	Msg string
}

func (e *PreconditionError) Error() string { return e.Msg }

// ErrTokenConflict indicates a concurrent token-allocation collision. The
// registration path retries it internally; it surfaces only when retries
// are exhausted.
var ErrTokenConflict = errors.New("token allocation conflict")

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsPrecondition reports whether err is (or wraps) a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
