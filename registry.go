package eventcore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgewasm/eventcore/guestengine"
)

// moduleContext is one registered guest module's bookkeeping. It corresponds
// to ocre_module_context_t plus the per-context mutex the original source
// keeps alongside it in module_node_t.
type moduleContext struct {
	handle  ModuleHandle
	execEnv guestengine.ExecEnv
	inUse   bool

	// mu guards everything below. Never held across a guest invocation.
	mu            sync.Mutex
	lastActivity  time.Time
	resourceCount [resourceTypeCount]uint32
	dispatchers   [resourceTypeCount]guestengine.Function
}

func newModuleContext(handle ModuleHandle, execEnv guestengine.ExecEnv) *moduleContext {
	return &moduleContext{
		handle:       handle,
		execEnv:      execEnv,
		inUse:        true,
		lastActivity: time.Now(),
	}
}

func (c *moduleContext) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// registry is the Module Registry (C2): a set of module contexts keyed by
// opaque handle, guarded by one mutex that serializes container mutation
// and lookup. Per-context mutation takes the context's own mutex instead,
// matching §4.2/§5's lock-ordering rule.
type registry struct {
	mu       sync.RWMutex
	contexts map[ModuleHandle]*moduleContext
}

func newRegistry() *registry {
	return &registry{contexts: make(map[ModuleHandle]*moduleContext)}
}

// register adds a new context for handle, or ErrAlreadyExists if handle is
// already registered: duplicate registration is rejected outright, never
// made idempotent.
func (r *registry) register(handle ModuleHandle, execEnv guestengine.ExecEnv) (*moduleContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.contexts[handle]; exists {
		return nil, fmt.Errorf("register module: %w", ErrAlreadyExists)
	}
	ctx := newModuleContext(handle, execEnv)
	r.contexts[handle] = ctx
	return ctx, nil
}

// find returns the context for handle, or nil if not registered.
func (r *registry) find(handle ModuleHandle) *moduleContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contexts[handle]
}

// getContext is find plus a last-activity refresh, matching
// ocre_get_module_context.
func (r *registry) getContext(handle ModuleHandle) *moduleContext {
	c := r.find(handle)
	if c != nil {
		c.touch()
	}
	return c
}

// remove deletes handle's context from the registry under the registry
// mutex and returns it. Holding the registry mutex across the map delete
// (but not across guest teardown, which UnregisterModule performs before
// calling remove) prevents a concurrent lookup from observing a
// half-removed entry.
func (r *registry) remove(handle ModuleHandle) *moduleContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[handle]
	if !ok {
		return nil
	}
	delete(r.contexts, handle)
	return c
}

// size returns the number of registered modules.
func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contexts)
}

// handles returns a snapshot of every currently-registered handle, used by
// Shutdown to drain the registry.
func (r *registry) handles() []ModuleHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModuleHandle, 0, len(r.contexts))
	for h := range r.contexts {
		out = append(out, h)
	}
	return out
}

// closeExecEnv is a small helper so registry callers don't need a context
// import just to tear one ExecEnv down.
func closeExecEnv(ctx context.Context, e guestengine.ExecEnv) error {
	if e == nil {
		return nil
	}
	return e.Close(ctx)
}
