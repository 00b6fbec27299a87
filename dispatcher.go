package eventcore

import (
	"fmt"

	"github.com/edgewasm/eventcore/guestengine"
)

// RegisterDispatcher binds the named guest export as the dispatcher for
// resource type typ on the module owning execEnv. Rebinding a type replaces
// the previous binding; there is no unbind operation short of unregistering
// the module (§4.3).
//
// handle and execEnv must name the same registered module: the Go backends
// have no analogue of wasm_runtime_get_module_inst to recover a module
// handle purely from an exec_env pointer, so the pairing is verified
// instead of derived — execEnv must be the exact value RegisterModule
// returned for handle, or the call is rejected with ErrInvalid rather than
// silently binding the dispatcher onto whichever module handle happens to
// name.
func (r *Runtime) RegisterDispatcher(handle ModuleHandle, execEnv guestengine.ExecEnv, typ ResourceType, name string) error {
	if execEnv == nil || name == "" || !typ.valid() {
		return fmt.Errorf("register dispatcher: %w", ErrInvalid)
	}

	ctx := r.registry.find(handle)
	if ctx == nil {
		return fmt.Errorf("register dispatcher: module not registered: %w", ErrNotFound)
	}
	if ctx.execEnv != execEnv {
		return fmt.Errorf("register dispatcher: execEnv does not belong to handle: %w", ErrInvalid)
	}

	fn, err := execEnv.Lookup(name)
	if err != nil {
		return fmt.Errorf("register dispatcher: lookup %q: %w", name, ErrNotFound)
	}

	ctx.mu.Lock()
	ctx.dispatchers[typ] = fn
	ctx.mu.Unlock()

	r.logger.Sugar().Infof("registered dispatcher for %s: %s", typ, name)
	return nil
}
