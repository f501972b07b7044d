package repositories

import "errors"

var (
	// ErrNotFound reports an unknown user or friend edge, or a conditional
	// write whose precondition no longer holds.
	ErrNotFound = errors.New("record not found")
	// ErrConflict reports a duplicate email or a second edge for a user pair.
	ErrConflict = errors.New("record conflict")
	// errStaleWrite means a versioned write kept losing races until it gave up.
	errStaleWrite = errors.New("stale write")
)
