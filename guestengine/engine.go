// Package guestengine defines the seam between eventcore and the WebAssembly
// guest runtime. eventcore treats the guest runtime as an external
// collaborator (per the core spec's scope note) with exactly five
// capabilities: instantiate an execution environment, resolve an exported
// function by name, invoke an exported function with integer arguments,
// read and clear a last-exception string, and write values into guest
// linear memory. Each concrete backend under guestengine/ implements Engine
// against one real WASM runtime.
package guestengine

import "context"

// Function is an opaque handle to a resolved guest export, returned by
// ExecEnv.Lookup and consumed by ExecEnv.Call. Its zero value means
// "unbound".
type Function any

// EventHandler supplies the next queued event to a backend's get_event host
// import (§6): typ/id/port/state are the event's fields, ok reports whether
// an event was available at all, and err reports a host-side failure
// distinct from "queue empty". Each backend's NewEngine constructor takes an
// EventHandler and wires it as a guest-callable import, mirroring how
// ocre_get_event pops the shared queue on the guest's behalf rather than the
// guest reading it directly.
type EventHandler func(ctx context.Context) (typ, id, port, state uint32, ok bool, err error)

// Engine compiles guest WebAssembly bytes into a Module.
type Engine interface {
	// Name identifies the backend for logging (e.g. "wazero", "wasmtime").
	Name() string

	// Compile compiles wasmBytes once; the result can be instantiated
	// multiple times via Module.Instantiate.
	Compile(ctx context.Context, wasmBytes []byte) (Module, error)
}

// Module is a compiled guest program, ready to be instantiated once per
// registered core module.
type Module interface {
	// Instantiate creates a fresh execution environment with the given
	// guest stack size, in bytes.
	Instantiate(ctx context.Context, stackSizeBytes uint32) (ExecEnv, error)

	// Close releases the compiled module and everything derived from it.
	Close(ctx context.Context) error
}

// ExecEnv is one guest module's execution environment: its own linear
// memory and call stack. Its identity (the ExecEnv value itself, typically
// a pointer) is what eventcore.Runtime.RegisterDispatcher compares to
// confirm an ExecEnv belongs to the module handle it is paired with.
type ExecEnv interface {
	// Lookup resolves a named export. It returns guestengine's ErrNotFound
	// if the guest does not export a function by that name.
	Lookup(name string) (Function, error)

	// Call invokes fn with the given integer arguments and returns whether
	// the call completed without raising a guest exception. On false, the
	// caller should read LastException and ClearException before retrying.
	Call(ctx context.Context, fn Function, args ...uint64) (bool, error)

	// LastException returns the most recently raised guest exception
	// message, or "" if none is pending.
	LastException() string

	// ClearException clears any pending guest exception.
	ClearException()

	// WriteUint32 writes v as a little-endian uint32 at the given guest
	// linear-memory offset. It is the guest-address-translation primitive
	// §6's get_event host function needs to hand event fields back to the
	// guest. It reports guestengine's ErrInvalid if offset is out of range.
	WriteUint32(offset uint32, v uint32) error

	// Close destroys the execution environment.
	Close(ctx context.Context) error
}
