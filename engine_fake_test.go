package eventcore

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgewasm/eventcore/guestengine"
)

// fakeEngine, fakeModule and fakeExecEnv are an in-process guestengine.Engine
// used by this package's tests, standing in for a compiled .wasm guest the
// way a table-driven HTTP test stands in an httptest.Server for a real
// upstream. They let dispatch-protocol behavior (retries, exceptions,
// argument marshalling) be asserted precisely without shipping a WASM
// toolchain into the test suite.
type fakeEngine struct{}

func (fakeEngine) Name() string { return "fake" }

func (fakeEngine) Compile(ctx context.Context, wasmBytes []byte) (guestengine.Module, error) {
	return &fakeModule{}, nil
}

type fakeModule struct{}

func (m *fakeModule) Instantiate(ctx context.Context, stackSizeBytes uint32) (guestengine.ExecEnv, error) {
	return newFakeExecEnv(), nil
}

func (m *fakeModule) Close(ctx context.Context) error { return nil }

type fakeFunc struct{ name string }

type fakeBehavior struct {
	failuresRemaining int
}

type fakeExecEnv struct {
	mu      sync.Mutex
	exports map[string]*fakeBehavior
	calls   map[string][][]uint64
	lastExc string
	lastCtx context.Context
}

func newFakeExecEnv() *fakeExecEnv {
	return &fakeExecEnv{
		exports: make(map[string]*fakeBehavior),
		calls:   make(map[string][][]uint64),
	}
}

// export registers name as callable, failing the first failuresBeforeSuccess
// invocations with a synthetic guest exception before succeeding.
func (e *fakeExecEnv) export(name string, failuresBeforeSuccess int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exports[name] = &fakeBehavior{failuresRemaining: failuresBeforeSuccess}
}

func (e *fakeExecEnv) Lookup(name string) (guestengine.Function, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.exports[name]; !ok {
		return nil, guestengine.ErrNotFound
	}
	return fakeFunc{name: name}, nil
}

func (e *fakeExecEnv) Call(ctx context.Context, fn guestengine.Function, args ...uint64) (bool, error) {
	f := fn.(fakeFunc)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastCtx = ctx
	e.calls[f.name] = append(e.calls[f.name], append([]uint64{}, args...))

	b := e.exports[f.name]
	if b != nil && b.failuresRemaining > 0 {
		b.failuresRemaining--
		e.lastExc = fmt.Sprintf("%s: synthetic failure", f.name)
		return false, nil
	}
	return true, nil
}

func (e *fakeExecEnv) LastException() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastExc
}

func (e *fakeExecEnv) ClearException() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastExc = ""
}

func (e *fakeExecEnv) WriteUint32(offset uint32, v uint32) error { return nil }

func (e *fakeExecEnv) Close(ctx context.Context) error { return nil }

func (e *fakeExecEnv) callCount(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls[name])
}

func (e *fakeExecEnv) callArgs(name string) [][]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]uint64, len(e.calls[name]))
	copy(out, e.calls[name])
	return out
}

func (e *fakeExecEnv) capturedContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCtx
}
