// Package wasmtime adapts github.com/bytecodealliance/wasmtime-go to the
// guestengine.Engine contract, as a second WASM backend alongside wazero.
package wasmtime

import (
	"context"
	"fmt"

	"github.com/bytecodealliance/wasmtime-go"

	"github.com/edgewasm/eventcore/guestengine"
)

// statusOK and statusNotFound mirror ocre_get_event's 0/-ENOENT return
// convention, collapsed to a single "nothing to report" code since this
// translation does not distinguish "empty queue" from "host handler error"
// at the guest ABI boundary.
const (
	statusOK       = int32(0)
	statusNotFound = int32(-1)
)

type engineHandle struct {
	engine  *wasmtime.Engine
	handler guestengine.EventHandler
}

// NewEngine returns a guestengine.Engine backed by a single shared wasmtime
// engine configuration. handler backs the get_event host import (§6) every
// instantiated module links against; a nil handler always reports "no event
// available".
func NewEngine(handler guestengine.EventHandler) guestengine.Engine {
	return &engineHandle{engine: wasmtime.NewEngine(), handler: handler}
}

func (e *engineHandle) Name() string { return "wasmtime" }

func (e *engineHandle) Compile(ctx context.Context, wasmBytes []byte) (guestengine.Module, error) {
	mod, err := wasmtime.NewModule(e.engine, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("wasmtime: compile module: %w", err)
	}
	return &module{engine: e.engine, compiled: mod, handler: e.handler}, nil
}

type module struct {
	engine   *wasmtime.Engine
	compiled *wasmtime.Module
	handler  guestengine.EventHandler
}

func (m *module) Instantiate(ctx context.Context, stackSizeBytes uint32) (guestengine.ExecEnv, error) {
	store := wasmtime.NewStore(m.engine)
	linker := wasmtime.NewLinker(m.engine)
	if err := linker.DefineWasi(); err != nil {
		return nil, fmt.Errorf("wasmtime: define wasi: %w", err)
	}
	store.SetWasi(wasmtime.NewWasiConfig())

	// inst is filled in once Instantiate below returns; getEvent is only
	// ever invoked by guest code after that point, so the closure always
	// sees a live instance by the time it runs.
	var inst *wasmtime.Instance
	getEvent := wasmtime.WrapFunc(store, func(typeOff, idOff, portOff, stateOff int32) int32 {
		if m.handler == nil || inst == nil {
			return statusNotFound
		}
		typ, id, port, state, ok, err := m.handler(context.Background())
		if err != nil || !ok {
			return statusNotFound
		}
		ee := &execEnv{store: store, instance: inst}
		if ee.WriteUint32(uint32(typeOff), typ) != nil ||
			ee.WriteUint32(uint32(idOff), id) != nil ||
			ee.WriteUint32(uint32(portOff), port) != nil ||
			ee.WriteUint32(uint32(stateOff), state) != nil {
			return statusNotFound
		}
		return statusOK
	})
	if err := linker.Define("env", "get_event", getEvent); err != nil {
		return nil, fmt.Errorf("wasmtime: define get_event: %w", err)
	}

	instance, err := linker.Instantiate(store, m.compiled)
	if err != nil {
		return nil, fmt.Errorf("wasmtime: instantiate module: %w", err)
	}
	inst = instance
	return &execEnv{store: store, instance: instance}, nil
}

func (m *module) Close(ctx context.Context) error {
	return nil
}

type execEnv struct {
	store    *wasmtime.Store
	instance *wasmtime.Instance
	lastExc  string
}

func (e *execEnv) Lookup(name string) (guestengine.Function, error) {
	fn := e.instance.GetFunc(e.store, name)
	if fn == nil {
		return nil, fmt.Errorf("wasmtime: %q: %w", name, guestengine.ErrNotFound)
	}
	return fn, nil
}

func (e *execEnv) Call(ctx context.Context, fn guestengine.Function, args ...uint64) (bool, error) {
	f, ok := fn.(*wasmtime.Func)
	if !ok {
		return false, fmt.Errorf("wasmtime: call: %w", guestengine.ErrInvalid)
	}
	callArgs := make([]interface{}, len(args))
	for i, a := range args {
		callArgs[i] = int32(a)
	}
	if _, err := f.Call(e.store, callArgs...); err != nil {
		e.lastExc = err.Error()
		return false, nil
	}
	return true, nil
}

func (e *execEnv) LastException() string { return e.lastExc }

func (e *execEnv) ClearException() { e.lastExc = "" }

func (e *execEnv) WriteUint32(offset uint32, v uint32) error {
	mem := e.instance.GetExport(e.store, "memory")
	if mem == nil || mem.Memory() == nil {
		return fmt.Errorf("wasmtime: no exported memory: %w", guestengine.ErrInvalid)
	}
	data := mem.Memory().UnsafeData(e.store)
	if int(offset)+4 > len(data) {
		return fmt.Errorf("wasmtime: write offset %d: %w", offset, guestengine.ErrInvalid)
	}
	data[offset] = byte(v)
	data[offset+1] = byte(v >> 8)
	data[offset+2] = byte(v >> 16)
	data[offset+3] = byte(v >> 24)
	return nil
}

func (e *execEnv) Close(ctx context.Context) error {
	return nil
}
