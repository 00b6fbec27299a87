// Package wazero adapts github.com/tetratelabs/wazero to the
// guestengine.Engine contract. It is the default backend: a pure-Go WASM
// runtime with no cgo dependency.
package wazero

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/edgewasm/eventcore/guestengine"
)

const i32 = api.ValueTypeI32

type engine struct {
	runtime wazero.Runtime
}

// NewEngine returns a guestengine.Engine backed by a single shared wazero
// runtime with WASI preview1 instantiated, plus an "env" host module
// exporting get_event (§6) so a guest can poll the queue directly instead
// of only receiving dispatcher callbacks. handler is consulted on every
// guest call to get_event; a nil handler leaves the import in place but
// always reports "no event available".
func NewEngine(ctx context.Context, handler guestengine.EventHandler) (guestengine.Engine, error) {
	r := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("wazero: instantiate wasi: %w", err)
	}
	if _, err := instantiateEventHost(ctx, r, handler); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("wazero: instantiate event host: %w", err)
	}
	return &engine{runtime: r}, nil
}

// eventHost implements the get_event host import (§6): env, type_off,
// id_off, port_off, state_off, reading exec_env implicitly from the calling
// api.Module the way ocre_get_event derives it from wasm_runtime_get_module_inst.
type eventHost struct {
	handler guestengine.EventHandler
}

// statusOK and statusNotFound mirror ocre_get_event's 0/-ENOENT return
// convention, collapsed to a single "nothing to report" code since this
// translation does not distinguish "empty queue" from "host handler error"
// at the guest ABI boundary.
const (
	statusOK       = int32(0)
	statusNotFound = int32(-1)
)

func instantiateEventHost(ctx context.Context, r wazero.Runtime, handler guestengine.EventHandler) (api.Module, error) {
	h := &eventHost{handler: handler}
	return r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.getEvent), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}).
		WithParameterNames("type_off", "id_off", "port_off", "state_off").
		Export("get_event").
		Instantiate(ctx)
}

// getEvent is the WebAssembly function export "get_event". It writes the
// popped event's fields into the calling module's own linear memory via
// execEnv.WriteUint32, the same guest-address-translation path an embedder
// calling ExecEnv.WriteUint32 directly would use.
func (h *eventHost) getEvent(ctx context.Context, m api.Module, stack []uint64) {
	typeOff := uint32(stack[0])
	idOff := uint32(stack[1])
	portOff := uint32(stack[2])
	stateOff := uint32(stack[3])

	if h.handler == nil {
		stack[0] = uint64(uint32(statusNotFound))
		return
	}

	typ, id, port, state, ok, err := h.handler(ctx)
	if err != nil || !ok {
		stack[0] = uint64(uint32(statusNotFound))
		return
	}

	ee := &execEnv{mod: m}
	if err := ee.WriteUint32(typeOff, typ); err != nil {
		stack[0] = uint64(uint32(statusNotFound))
		return
	}
	if err := ee.WriteUint32(idOff, id); err != nil {
		stack[0] = uint64(uint32(statusNotFound))
		return
	}
	if err := ee.WriteUint32(portOff, port); err != nil {
		stack[0] = uint64(uint32(statusNotFound))
		return
	}
	if err := ee.WriteUint32(stateOff, state); err != nil {
		stack[0] = uint64(uint32(statusNotFound))
		return
	}
	stack[0] = uint64(uint32(statusOK))
}

func (e *engine) Name() string { return "wazero" }

func (e *engine) Compile(ctx context.Context, wasmBytes []byte) (guestengine.Module, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("wazero: compile module: %w", err)
	}
	return &module{runtime: e.runtime, compiled: compiled}, nil
}

// module is a compiled guest program. instanceCounter gives every
// instantiation a unique wazero module name, since wazero requires
// distinct names for concurrently-live instances of the same compiled
// module.
type module struct {
	runtime         wazero.Runtime
	compiled        wazero.CompiledModule
	instanceCounter uint64
}

func (m *module) Instantiate(ctx context.Context, stackSizeBytes uint32) (guestengine.ExecEnv, error) {
	name := fmt.Sprintf("%d", atomic.AddUint64(&m.instanceCounter, 1))
	config := wazero.NewModuleConfig().WithName(name)

	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, config)
	if err != nil {
		return nil, fmt.Errorf("wazero: instantiate module: %w", err)
	}
	return &execEnv{mod: mod}, nil
}

func (m *module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// execEnv wraps one guest instance's api.Module. wazero has no notion of a
// separate "exec env" from the module instance, so the two collapse here;
// its identity is still unique per registered core module, which is all
// eventcore relies on.
type execEnv struct {
	mod     api.Module
	lastExc string
}

func (e *execEnv) Lookup(name string) (guestengine.Function, error) {
	fn := e.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("wazero: %q: %w", name, guestengine.ErrNotFound)
	}
	return fn, nil
}

func (e *execEnv) Call(ctx context.Context, fn guestengine.Function, args ...uint64) (bool, error) {
	f, ok := fn.(api.Function)
	if !ok {
		return false, fmt.Errorf("wazero: call: %w", guestengine.ErrInvalid)
	}
	_, err := f.Call(ctx, args...)
	if err != nil {
		e.lastExc = err.Error()
		return false, nil
	}
	return true, nil
}

func (e *execEnv) LastException() string {
	return e.lastExc
}

func (e *execEnv) ClearException() {
	e.lastExc = ""
}

func (e *execEnv) WriteUint32(offset uint32, v uint32) error {
	if ok := e.mod.Memory().WriteUint32Le(offset, v); !ok {
		return fmt.Errorf("wazero: write offset %d: %w", offset, guestengine.ErrInvalid)
	}
	return nil
}

func (e *execEnv) Close(ctx context.Context) error {
	return e.mod.Close(ctx)
}
