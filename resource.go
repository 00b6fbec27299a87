package eventcore

import "sync"

// CleanupHandler releases resources of one type for a module being
// unregistered. Implementations are expected to call DecrementResourceCount
// themselves as they free individual resources; the core never zeroes
// counters on a handler's behalf (§4.5).
type CleanupHandler func(handle ModuleHandle)

// cleanupTable is the process-wide, fixed-size mapping from resource type to
// an optional cleanup callback (C5). By convention it is populated once
// during bring-up, before any module is registered, so it is read far more
// often than written; a mutex still guards writes since
// RegisterCleanupHandler can be called at any time and Go's race detector
// does not grant exceptions for "probably fine" concurrent map-like writes.
type cleanupTable struct {
	mu       sync.RWMutex
	handlers [resourceTypeCount]CleanupHandler
}

func newCleanupTable() *cleanupTable {
	return &cleanupTable{}
}

// set stores or replaces the handler for typ. Set-once is sufficient for
// normal use; replacement is allowed, matching §4.5.
func (t *cleanupTable) set(typ ResourceType, handler CleanupHandler) {
	t.mu.Lock()
	t.handlers[typ] = handler
	t.mu.Unlock()
}

// runAll invokes every registered handler with handle, skipping unset
// entries. Handler panics are not recovered: a misbehaving cleanup handler
// is a programming error in the embedder, not a runtime condition to mask.
func (t *cleanupTable) runAll(handle ModuleHandle) {
	t.mu.RLock()
	handlers := t.handlers
	t.mu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(handle)
		}
	}
}

// RegisterCleanupHandler stores handler as the cleanup callback for typ,
// replacing any previous handler. It returns ErrInvalid for an out-of-range
// type or a nil handler.
func (r *Runtime) RegisterCleanupHandler(typ ResourceType, handler CleanupHandler) error {
	if !typ.valid() || handler == nil {
		return ErrInvalid
	}
	r.cleanup.set(typ, handler)
	r.logger.Sugar().Infof("registered cleanup handler for %s", typ)
	return nil
}

// CleanupModuleResources invokes every registered cleanup handler for
// handle. It is called automatically by UnregisterModule; exposing it
// separately lets an embedder re-run cleanup defensively without tearing
// the module down (e.g. after a driver crash leaves hardware state behind).
func (r *Runtime) CleanupModuleResources(handle ModuleHandle) {
	r.cleanup.runAll(handle)
}

// GetResourceCount returns the number of resources of type typ currently
// attributed to handle, or 0 for an unknown module or invalid type.
func (r *Runtime) GetResourceCount(handle ModuleHandle, typ ResourceType) uint32 {
	if !typ.valid() {
		return 0
	}
	ctx := r.registry.find(handle)
	if ctx == nil {
		return 0
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.resourceCount[typ]
}

// IncrementResourceCount adds one to handle's counter for typ. It is a
// no-op for an unknown module or invalid type.
func (r *Runtime) IncrementResourceCount(handle ModuleHandle, typ ResourceType) {
	if !typ.valid() {
		return
	}
	ctx := r.registry.find(handle)
	if ctx == nil {
		return
	}
	ctx.mu.Lock()
	ctx.resourceCount[typ]++
	ctx.mu.Unlock()
}

// DecrementResourceCount subtracts one from handle's counter for typ,
// saturating at zero. It is a no-op for an unknown module or invalid type.
func (r *Runtime) DecrementResourceCount(handle ModuleHandle, typ ResourceType) {
	if !typ.valid() {
		return
	}
	ctx := r.registry.find(handle)
	if ctx == nil {
		return
	}
	ctx.mu.Lock()
	if ctx.resourceCount[typ] > 0 {
		ctx.resourceCount[typ]--
	}
	ctx.mu.Unlock()
}
