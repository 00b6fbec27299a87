package guestengine

import "errors"

var (
	// ErrNotFound reports a missing guest export.
	ErrNotFound = errors.New("guestengine: export not found")

	// ErrInvalid reports a bad argument, such as an out-of-range memory
	// offset or a Function handle from a different ExecEnv.
	ErrInvalid = errors.New("guestengine: invalid argument")

	// ErrClosed reports an operation against an already-closed Module or
	// ExecEnv.
	ErrClosed = errors.New("guestengine: use after close")
)
