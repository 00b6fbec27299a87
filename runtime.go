// Package eventcore is the runtime event-dispatch and module-lifecycle core
// of an embedded WebAssembly container runtime. It mediates between
// hardware-adjacent event producers (timers, GPIO lines, sensor channels)
// and guest WebAssembly modules that react to them: a registry of active
// guest modules, a bounded event pipeline, a fixed pool of dispatch
// workers, and per-module resource accounting with type-specific cleanup.
package eventcore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/edgewasm/eventcore/guestengine"
	"github.com/edgewasm/eventcore/internal/eventqueue"
)

// Runtime is the process-wide core object: the event queue, module
// registry, cleanup table, and worker pool, constructed by Init and torn
// down by Shutdown. §9's "group global mutable state into a single
// process-wide core object" note is implemented literally as this type,
// rather than as package-level globals the way ocre_common_optimized.c
// does it.
type Runtime struct {
	config Config
	logger *zap.Logger
	engine guestengine.Engine

	registry *registry
	cleanup  *cleanupTable
	queue    *eventqueue.Queue[Event]

	group    *errgroup.Group
	groupCtx context.Context

	running      atomic.Bool
	shutdownOnce sync.Once
}

// Init constructs and starts a Runtime: the queue and registry, then
// config.WorkerCount dispatch workers. Calling Init is not itself part of
// the original API surface (ocre_common_init operates on a package-global
// singleton); constructing a *Runtime value is the idiomatic Go
// equivalent, and passing one around in place of a hidden global also
// makes multiple independent runtimes safe to run in the same process,
// which the original single-instance design does not support.
//
// Engine is the guest WASM backend new modules are compiled against; see
// the guestengine package and its wazero/wasmtime/wasmer subpackages.
func Init(ctx context.Context, engine guestengine.Engine, cfg Config) (rt *Runtime, err error) {
	if engine == nil {
		return nil, fmt.Errorf("init: %w", ErrInvalid)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rt = &Runtime{
		config:   cfg,
		logger:   logger,
		engine:   engine,
		registry: newRegistry(),
		cleanup:  newCleanupTable(),
		queue:    eventqueue.New[Event](cfg.QueueCapacity),
	}
	rt.running.Store(true)

	// Anything that fails after this point tears down what was already
	// started, mirroring ocre_common_init's own error path, which calls
	// ocre_common_shutdown() before returning.
	defer func() {
		if err != nil {
			rt.running.Store(false)
			rt.queue.Dispose()
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	rt.group = group
	rt.groupCtx = groupCtx

	for i := 0; i < cfg.WorkerCount; i++ {
		workerID := i
		group.Go(func() error {
			return rt.runWorker(rt.groupCtx, workerID)
		})
	}

	logger.Info("eventcore runtime initialized",
		zap.String("engine", engine.Name()),
		zap.Uint64("queue_capacity", cfg.QueueCapacity),
		zap.Int("workers", cfg.WorkerCount))
	return rt, nil
}

// Shutdown stops the worker pool, unregisters every still-registered
// module (running each one's cleanup handlers and destroying its
// execution environment, per ocre_common_shutdown's final loop), and marks
// the runtime not-initialized. It is idempotent and safe to call more than
// once.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var shutdownErr error
	r.shutdownOnce.Do(func() {
		r.running.Store(false)
		r.logger.Info("shutting down eventcore runtime")

		// Dispose unblocks every worker currently parked in queue.Drain;
		// Wait then performs the real join the design notes ask for,
		// replacing the original's sleep(100ms) * W.
		r.queue.Dispose()
		if err := r.group.Wait(); err != nil {
			shutdownErr = fmt.Errorf("shutdown: worker pool: %w", err)
		}

		for _, h := range r.registry.handles() {
			r.UnregisterModule(ctx, h)
		}

		r.logger.Info("eventcore runtime shutdown complete")
	})
	return shutdownErr
}

// RegisterModule registers a guest module compiled from wasmBytes,
// creating its execution environment and an empty context (§4.2). It
// returns ErrAlreadyExists if handle is already registered, ErrNotInitialized
// if the runtime has been shut down, and ErrRuntime if the guest engine
// fails to compile or instantiate.
func (r *Runtime) RegisterModule(ctx context.Context, handle ModuleHandle, wasmBytes []byte) (guestengine.ExecEnv, error) {
	if handle == nil {
		return nil, fmt.Errorf("register module: %w", ErrInvalid)
	}
	if !r.running.Load() {
		return nil, fmt.Errorf("register module: %w", ErrNotInitialized)
	}

	mod, err := r.engine.Compile(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("register module: compile: %w: %v", ErrRuntime, err)
	}

	execEnv, err := mod.Instantiate(ctx, r.config.GuestStackBytes)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("register module: instantiate: %w: %v", ErrRuntime, err)
	}

	if _, err := r.registry.register(handle, execEnv); err != nil {
		_ = execEnv.Close(ctx)
		_ = mod.Close(ctx)
		return nil, err
	}

	r.logger.Info("module registered")
	return execEnv, nil
}

// UnregisterModule runs cleanup handlers for handle, destroys its
// execution environment, and only then removes it from the registry.
// Cleanup handlers (and anything else reached through the resource-count
// accessors) still find handle registered while they run, matching
// ocre_unregister_module's hold-lock-across-the-whole-sequence behavior;
// removing the context first would make GetResourceCount and its siblings
// silently no-op for a handler inspecting its own module mid-teardown.
// Unlike ocre_unregister_module's bare warn-and-return, a missing handle is
// logged at debug level: Shutdown calls this for every handle it already
// knows is registered, so "not found" here is an expected race against a
// concurrent unregister, not a caller mistake.
func (r *Runtime) UnregisterModule(ctx context.Context, handle ModuleHandle) {
	if handle == nil {
		return
	}

	c := r.registry.find(handle)
	if c == nil {
		r.logger.Debug("unregister: module not found")
		return
	}

	r.cleanup.runAll(handle)
	if err := closeExecEnv(ctx, c.execEnv); err != nil {
		r.logger.Warn("error closing execution environment", zap.Error(err))
	}

	r.registry.remove(handle)
	r.logger.Info("module unregistered")
}

// GetModuleContext returns handle's resource counters and dispatcher
// bindings as a read-only snapshot, or ok=false if handle is not
// registered. The returned value is a point-in-time copy; it is not
// invalidated by a later Unregister the way the C pointer-return API is.
func (r *Runtime) GetModuleContext(handle ModuleHandle) (ModuleContextView, bool) {
	c := r.registry.getContext(handle)
	if c == nil {
		return ModuleContextView{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	view := ModuleContextView{
		Handle:       c.handle,
		LastActivity: c.lastActivity,
	}
	view.ResourceCounts = c.resourceCount
	for i, fn := range c.dispatchers {
		view.DispatcherBound[i] = fn != nil
	}
	return view, true
}

// ModuleContextView is a read-only snapshot of a module's context, safe to
// hold after the module is unregistered (unlike a raw pointer into the
// live context).
type ModuleContextView struct {
	Handle          ModuleHandle
	LastActivity    time.Time
	ResourceCounts  [resourceTypeCount]uint32
	DispatcherBound [resourceTypeCount]bool
}

// PostEvent enqueues ev for asynchronous dispatch. It returns ErrInvalid
// for an unset owner or an out-of-range type, ErrNotInitialized if the
// runtime has been shut down, and ErrFull if the queue has no spare
// capacity — the caller's event is not enqueued in that case (§4.1's
// backpressure contract: loss is visible to the poster, there is no
// blocking enqueue).
func (r *Runtime) PostEvent(ev Event) error {
	if ev.Owner == nil || !ev.Type.valid() {
		return fmt.Errorf("post event: %w", ErrInvalid)
	}
	if !r.running.Load() {
		return fmt.Errorf("post event: %w", ErrNotInitialized)
	}

	if err := r.queue.Post(ev); err != nil {
		if err == eventqueue.ErrFull {
			return fmt.Errorf("post event: %w", ErrFull)
		}
		return fmt.Errorf("post event: %w", ErrNotInitialized)
	}

	r.logger.Debug("posted event", zap.Stringer("type", ev.Type), zap.Uint32("id", ev.ID))
	return nil
}

// GetEvent implements the guest-callable pop (§6): it returns the next
// queued event without blocking, for a guest that polls instead of
// receiving dispatcher callbacks. It is only meaningful in guest-poll-only
// mode (Config.WorkerCount == 0); with workers running they already drain
// the queue as fast as it fills, so GetEvent returns ErrNotFound
// immediately rather than racing them for events a dispatcher is about to
// receive anyway.
func (r *Runtime) GetEvent() (Event, error) {
	if !r.running.Load() {
		return Event{}, fmt.Errorf("get event: %w", ErrNotInitialized)
	}
	if r.config.WorkerCount > 0 {
		return Event{}, fmt.Errorf("get event: workers own the queue: %w", ErrNotFound)
	}

	ev, ok, err := r.queue.TryGet()
	if err != nil {
		return Event{}, fmt.Errorf("get event: %w", ErrNotInitialized)
	}
	if !ok {
		return Event{}, fmt.Errorf("get event: %w", ErrNotFound)
	}
	return ev, nil
}
