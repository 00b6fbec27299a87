package eventcore

import "errors"

// Sentinel errors surfaced by the public API. Callers should compare with
// errors.Is, since internal call sites wrap these with additional context
// via fmt.Errorf("...: %w", ...).
var (
	// ErrInvalid reports a bad argument or a precondition violation.
	ErrInvalid = errors.New("eventcore: invalid argument")

	// ErrNotInitialized reports that the runtime has not been started, or
	// has already been shut down.
	ErrNotInitialized = errors.New("eventcore: runtime not initialized")

	// ErrNotFound reports an unknown module, an unbound dispatcher, or a
	// missing guest export.
	ErrNotFound = errors.New("eventcore: not found")

	// ErrAlreadyExists reports a duplicate module registration.
	ErrAlreadyExists = errors.New("eventcore: module already registered")

	// ErrFull reports that the event queue has no room for another record.
	ErrFull = errors.New("eventcore: event queue full")

	// ErrOutOfMemory reports an allocation failure unrelated to queue space.
	ErrOutOfMemory = errors.New("eventcore: allocation failed")

	// ErrRuntime reports that the guest runtime failed to create an
	// execution environment, or that a guest invocation exhausted its
	// retries.
	ErrRuntime = errors.New("eventcore: guest runtime error")

	// ErrIO reports an internal write inconsistency (e.g. a short write
	// into guest linear memory).
	ErrIO = errors.New("eventcore: internal io error")
)
