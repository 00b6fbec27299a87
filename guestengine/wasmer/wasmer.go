// Package wasmer adapts github.com/wasmerio/wasmer-go to the
// guestengine.Engine contract. The wasmer.Engine is built by a
// caller-supplied EngineConfig; DefaultEngineConfig builds the library's
// default engine.
package wasmer

import (
	"context"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/edgewasm/eventcore/guestengine"
)

// EngineConfig customizes the underlying wasmer.Engine before it backs a
// compiled Module.
type EngineConfig func() (*wasmer.Engine, error)

// DefaultEngineConfig returns an unconfigured wasmer.Engine.
func DefaultEngineConfig() (*wasmer.Engine, error) {
	return wasmer.NewEngine(), nil
}

// statusOK and statusNotFound mirror ocre_get_event's 0/-ENOENT return
// convention, collapsed to a single "nothing to report" code since this
// translation does not distinguish "empty queue" from "host handler error"
// at the guest ABI boundary.
const (
	statusOK       = int32(0)
	statusNotFound = int32(-1)
)

type engineHandle struct {
	store   *wasmer.Store
	handler guestengine.EventHandler
}

// NewEngine returns a guestengine.Engine backed by wasmer, using cfg to
// build the underlying wasmer.Engine. handler backs the get_event host
// import (§6) every instantiated module links against; a nil handler always
// reports "no event available".
func NewEngine(cfg EngineConfig, handler guestengine.EventHandler) (guestengine.Engine, error) {
	e, err := cfg()
	if err != nil {
		return nil, fmt.Errorf("wasmer: build engine: %w", err)
	}
	return &engineHandle{store: wasmer.NewStore(e), handler: handler}, nil
}

func (h *engineHandle) Name() string { return "wasmer" }

func (h *engineHandle) Compile(ctx context.Context, wasmBytes []byte) (guestengine.Module, error) {
	mod, err := wasmer.NewModule(h.store, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("wasmer: compile module: %w", err)
	}
	return &module{store: h.store, compiled: mod, handler: h.handler}, nil
}

type module struct {
	store    *wasmer.Store
	compiled *wasmer.Module
	handler  guestengine.EventHandler
}

func (m *module) Instantiate(ctx context.Context, stackSizeBytes uint32) (guestengine.ExecEnv, error) {
	// inst is filled in once NewInstance below returns; getEvent is only
	// ever invoked by guest code after that point, so the closure always
	// sees a live instance by the time it runs.
	var inst *wasmer.Instance
	funcType := wasmer.NewFunctionType(
		wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32),
		wasmer.NewValueTypes(wasmer.I32),
	)
	getEvent := wasmer.NewFunction(m.store, funcType, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if m.handler == nil || inst == nil {
			return []wasmer.Value{wasmer.NewI32(statusNotFound)}, nil
		}
		typ, id, port, state, ok, err := m.handler(context.Background())
		if err != nil || !ok {
			return []wasmer.Value{wasmer.NewI32(statusNotFound)}, nil
		}
		ee := &execEnv{instance: inst}
		typeOff, idOff, portOff, stateOff := uint32(args[0].I32()), uint32(args[1].I32()), uint32(args[2].I32()), uint32(args[3].I32())
		if ee.WriteUint32(typeOff, typ) != nil ||
			ee.WriteUint32(idOff, id) != nil ||
			ee.WriteUint32(portOff, port) != nil ||
			ee.WriteUint32(stateOff, state) != nil {
			return []wasmer.Value{wasmer.NewI32(statusNotFound)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(statusOK)}, nil
	})

	importObject := wasmer.NewImportObject()
	importObject.Register("env", map[string]wasmer.IntoExtern{"get_event": getEvent})

	instance, err := wasmer.NewInstance(m.compiled, importObject)
	if err != nil {
		return nil, fmt.Errorf("wasmer: instantiate module: %w", err)
	}
	inst = instance
	return &execEnv{instance: instance}, nil
}

func (m *module) Close(ctx context.Context) error {
	return nil
}

type execEnv struct {
	instance *wasmer.Instance
	lastExc  string
}

func (e *execEnv) Lookup(name string) (guestengine.Function, error) {
	fn, err := e.instance.Exports.GetFunction(name)
	if err != nil || fn == nil {
		return nil, fmt.Errorf("wasmer: %q: %w", name, guestengine.ErrNotFound)
	}
	return fn.Native(), nil
}

func (e *execEnv) Call(ctx context.Context, fn guestengine.Function, args ...uint64) (bool, error) {
	f, ok := fn.(wasmer.NativeFunction)
	if !ok {
		return false, fmt.Errorf("wasmer: call: %w", guestengine.ErrInvalid)
	}
	callArgs := make([]interface{}, len(args))
	for i, a := range args {
		callArgs[i] = int32(a)
	}
	if _, err := f(callArgs...); err != nil {
		e.lastExc = err.Error()
		return false, nil
	}
	return true, nil
}

func (e *execEnv) LastException() string { return e.lastExc }

func (e *execEnv) ClearException() { e.lastExc = "" }

func (e *execEnv) WriteUint32(offset uint32, v uint32) error {
	mem, err := e.instance.Exports.GetMemory("memory")
	if err != nil || mem == nil {
		return fmt.Errorf("wasmer: no exported memory: %w", guestengine.ErrInvalid)
	}
	data := mem.Data()
	if int(offset)+4 > len(data) {
		return fmt.Errorf("wasmer: write offset %d: %w", offset, guestengine.ErrInvalid)
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
