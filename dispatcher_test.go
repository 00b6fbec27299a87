package eventcore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDispatcherRejectsInvalidArgs(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(0, 8))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	handle := new(int)
	fe := registerFake(t, rt, handle)
	fe.export("on_timer", 0)

	err = rt.RegisterDispatcher(handle, nil, ResourceTimer, "on_timer")
	assert.ErrorIs(t, err, ErrInvalid)

	err = rt.RegisterDispatcher(handle, fe, ResourceType(99), "on_timer")
	assert.ErrorIs(t, err, ErrInvalid)

	err = rt.RegisterDispatcher(handle, fe, ResourceTimer, "")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRegisterDispatcherMissingExportIsNotFound(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(0, 8))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	handle := new(int)
	fe := registerFake(t, rt, handle)

	err = rt.RegisterDispatcher(handle, fe, ResourceTimer, "does_not_exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

// handle and execEnv must name the same registered module: pairing handle
// A with module B's execEnv must be rejected rather than silently binding
// the dispatcher onto module A using module B's exports.
func TestRegisterDispatcherRejectsMismatchedExecEnv(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(0, 8))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	handleA := new(int)
	registerFake(t, rt, handleA)

	handleB := new(int)
	feB := registerFake(t, rt, handleB)
	feB.export("on_timer", 0)

	err = rt.RegisterDispatcher(handleA, feB, ResourceTimer, "on_timer")
	assert.ErrorIs(t, err, ErrInvalid)

	view, ok := rt.GetModuleContext(handleA)
	require.True(t, ok)
	assert.False(t, view.DispatcherBound[ResourceTimer])
}

func TestRegisterDispatcherUnknownModuleIsNotFound(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(0, 8))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	fe := newFakeExecEnv()
	fe.export("on_timer", 0)

	err = rt.RegisterDispatcher(new(int), fe, ResourceTimer, "on_timer")
	assert.ErrorIs(t, err, ErrNotFound)
}

// Rebinding a type replaces the previous binding (§4.3): no unbind, just a
// new Lookup result overwriting the old Function handle.
func TestRegisterDispatcherRebindsType(t *testing.T) {
	rt, err := Init(context.Background(), fakeEngine{}, testConfig(1, 8))
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	handle := new(int)
	fe := registerFake(t, rt, handle)
	fe.export("on_timer_v1", 0)
	fe.export("on_timer_v2", 0)

	require.NoError(t, rt.RegisterDispatcher(handle, fe, ResourceTimer, "on_timer_v1"))
	require.NoError(t, rt.RegisterDispatcher(handle, fe, ResourceTimer, "on_timer_v2"))

	require.NoError(t, rt.PostEvent(Event{Owner: handle, Type: ResourceTimer, ID: 1}))
	require.Eventually(t, func() bool { return fe.callCount("on_timer_v2") == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, fe.callCount("on_timer_v1"))
}
