package eventcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(workers int, capacity uint64) Config {
	return Config{
		QueueCapacity:      capacity,
		WorkerCount:        workers,
		BatchSize:          16,
		MaxDispatchRetries: 3,
		RetryDelay:         time.Millisecond,
		GuestStackBytes:    16384,
	}
}

func registerFake(t *testing.T, rt *Runtime, handle ModuleHandle) *fakeExecEnv {
	t.Helper()
	execEnv, err := rt.RegisterModule(context.Background(), handle, nil)
	require.NoError(t, err)
	return execEnv.(*fakeExecEnv)
}

// Scenario 1: timer delivery (§8 end-to-end scenario 1).
func TestTimerDelivery(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(2, 64))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	handle := new(int)
	fe := registerFake(t, rt, handle)
	fe.export("on_timer", 0)

	view, ok := rt.GetModuleContext(handle)
	require.True(t, ok)
	before := view.LastActivity

	require.NoError(t, rt.RegisterDispatcher(handle, fe, ResourceTimer, "on_timer"))
	require.NoError(t, rt.PostEvent(Event{Owner: handle, Type: ResourceTimer, ID: 7}))

	require.Eventually(t, func() bool { return fe.callCount("on_timer") == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, [][]uint64{{7}}, fe.callArgs("on_timer"))

	view, ok = rt.GetModuleContext(handle)
	require.True(t, ok)
	assert.True(t, view.LastActivity.After(before) || view.LastActivity.Equal(before))
}

// Scenario 2: GPIO retry (§8 end-to-end scenario 2).
func TestGPIORetrySucceedsOnSecondAttempt(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(2, 64))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	handle := new(int)
	fe := registerFake(t, rt, handle)
	fe.export("on_gpio", 1) // fails once, then succeeds

	require.NoError(t, rt.RegisterDispatcher(handle, fe, ResourceGPIO, "on_gpio"))
	require.NoError(t, rt.PostEvent(Event{Owner: handle, Type: ResourceGPIO, ID: 3, State: 1}))

	require.Eventually(t, func() bool { return fe.callCount("on_gpio") == 2 }, time.Second, time.Millisecond)
	args := fe.callArgs("on_gpio")
	assert.Equal(t, []uint64{3, 1}, args[0])
	assert.Equal(t, []uint64{3, 1}, args[1])
	assert.Equal(t, "", fe.LastException(), "exception must be cleared between retries")
}

// Scenario 3: queue full (§8 end-to-end scenario 3). Workers are disabled so
// nothing drains the queue while the test posts.
func TestPostEventQueueFull(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(0, 64))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	handle := new(int)
	for i := 0; i < 64; i++ {
		require.NoError(t, rt.PostEvent(Event{Owner: handle, Type: ResourceTimer, ID: uint32(i)}))
	}

	err = rt.PostEvent(Event{Owner: handle, Type: ResourceTimer, ID: 64})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFull))
}

// Scenario 4: cleanup ordering (§8 end-to-end scenario 4).
func TestCleanupOrderingOnUnregister(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(2, 64))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	var mu sync.Mutex
	var calledTimer, calledGPIO []ModuleHandle

	require.NoError(t, rt.RegisterCleanupHandler(ResourceTimer, func(h ModuleHandle) {
		mu.Lock()
		calledTimer = append(calledTimer, h)
		mu.Unlock()
	}))
	require.NoError(t, rt.RegisterCleanupHandler(ResourceGPIO, func(h ModuleHandle) {
		mu.Lock()
		calledGPIO = append(calledGPIO, h)
		mu.Unlock()
	}))

	handle := new(int)
	registerFake(t, rt, handle)
	rt.IncrementResourceCount(handle, ResourceTimer)
	rt.IncrementResourceCount(handle, ResourceTimer)
	rt.IncrementResourceCount(handle, ResourceGPIO)

	rt.UnregisterModule(context.Background(), handle)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calledTimer, 1)
	require.Len(t, calledGPIO, 1)
	assert.Same(t, handle, calledTimer[0])
	assert.Same(t, handle, calledGPIO[0])

	_, ok := rt.GetModuleContext(handle)
	assert.False(t, ok)
}

// A cleanup handler that inspects or mutates its own module's resource
// counts mid-teardown must still see the module registered (§4.2/§4.5):
// removing the context before cleanup runs would make these calls silent
// no-ops instead of reflecting the counters the handler is there to drain.
func TestCleanupHandlerSeesResourceCountsDuringUnregister(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(2, 64))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	var observedCount uint32
	var decrementedAfter uint32
	require.NoError(t, rt.RegisterCleanupHandler(ResourceTimer, func(h ModuleHandle) {
		observedCount = rt.GetResourceCount(h, ResourceTimer)
		rt.DecrementResourceCount(h, ResourceTimer)
		decrementedAfter = rt.GetResourceCount(h, ResourceTimer)
	}))

	handle := new(int)
	registerFake(t, rt, handle)
	rt.IncrementResourceCount(handle, ResourceTimer)
	rt.IncrementResourceCount(handle, ResourceTimer)

	rt.UnregisterModule(context.Background(), handle)

	assert.Equal(t, uint32(2), observedCount, "handler must observe counts while the module is still registered")
	assert.Equal(t, uint32(1), decrementedAfter, "decrement during cleanup must take effect, not no-op")
}

// Scenario 5: unbound dispatcher is dropped silently (§8 end-to-end scenario 5).
func TestUnboundDispatcherDropsEvent(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(2, 64))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	handle := new(int)
	fe := registerFake(t, rt, handle)
	fe.export("on_timer", 0) // Sensor is intentionally left unbound.

	require.NoError(t, rt.PostEvent(Event{Owner: handle, Type: ResourceSensor, ID: 1, Port: 2, State: 42}))

	// No dispatcher is bound for Sensor, so nothing should ever be called;
	// give the workers a chance to (not) act before asserting.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, fe.callCount("on_timer"))
}

// Scenario 6: shutdown quiesces workers within a bounded time and no further
// dispatch happens after Shutdown returns (§8 end-to-end scenario 6).
func TestShutdownQuiescesWorkers(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(2, 64))
	require.NoError(t, err)

	handle := new(int)
	fe := registerFake(t, rt, handle)
	fe.export("on_timer", 0)
	require.NoError(t, rt.RegisterDispatcher(handle, fe, ResourceTimer, "on_timer"))

	for i := 0; i < 10; i++ {
		require.NoError(t, rt.PostEvent(Event{Owner: handle, Type: ResourceTimer, ID: uint32(i)}))
	}

	done := make(chan struct{})
	go func() {
		_ = rt.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete in time")
	}

	assert.Equal(t, 0, rt.registry.size())

	countAfterShutdown := fe.callCount("on_timer")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, countAfterShutdown, fe.callCount("on_timer"), "no dispatch should occur after Shutdown returns")
}

func TestShutdownIsIdempotent(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(1, 8))
	require.NoError(t, err)

	require.NoError(t, rt.Shutdown(context.Background()))
	require.NoError(t, rt.Shutdown(context.Background()))
}

func TestRegisterModuleRejectsDuplicateHandle(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(0, 8))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	handle := new(int)
	_, err = rt.RegisterModule(context.Background(), handle, nil)
	require.NoError(t, err)

	_, err = rt.RegisterModule(context.Background(), handle, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyExists))
}

func TestRegisterThenUnregisterRestoresPriorState(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(0, 8))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	before := rt.registry.size()

	handle := new(int)
	registerFake(t, rt, handle)
	assert.Equal(t, before+1, rt.registry.size())

	rt.UnregisterModule(context.Background(), handle)
	assert.Equal(t, before, rt.registry.size())
	assert.Equal(t, uint32(0), rt.GetResourceCount(handle, ResourceTimer))
}

func TestRegisterCleanupHandlerReplacesPreviousHandler(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(0, 8))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	var calledF, calledG bool
	require.NoError(t, rt.RegisterCleanupHandler(ResourceTimer, func(ModuleHandle) { calledF = true }))
	require.NoError(t, rt.RegisterCleanupHandler(ResourceTimer, func(ModuleHandle) { calledG = true }))

	rt.CleanupModuleResources(new(int))
	assert.False(t, calledF)
	assert.True(t, calledG)
}

func TestGetEventInWorkerlessModePopsDirectly(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(0, 8))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	handle := new(int)
	_, err = rt.GetEvent()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, rt.PostEvent(Event{Owner: handle, Type: ResourceTimer, ID: 42}))
	ev, err := rt.GetEvent()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), ev.ID)

	_, err = rt.GetEvent()
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetEventWithWorkersReturnsNotFound(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(2, 8))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	_, err = rt.GetEvent()
	assert.True(t, errors.Is(err, ErrNotFound))
}
