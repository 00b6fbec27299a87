package eventcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Invariant 1 (§8): for any interleaving of register/unregister on distinct
// handles, the registry size equals registrations minus unregistrations.
func TestRegistrySizeTracksRegisterUnregister(t *testing.T) {
	r := newRegistry()

	handles := make([]*int, 20)
	for i := range handles {
		handles[i] = new(int)
	}

	registered := 0
	for i, h := range handles {
		_, err := r.register(h, newFakeExecEnv())
		require.NoError(t, err)
		registered++
		assert.Equal(t, registered, r.size())

		if i%3 == 0 {
			require.NotNil(t, r.remove(h))
			registered--
			assert.Equal(t, registered, r.size())
		}
	}

	for _, h := range handles {
		r.remove(h) // no-op for already-removed handles
	}
	assert.Equal(t, 0, r.size())
}

func TestRegistryRejectsDuplicateHandle(t *testing.T) {
	r := newRegistry()
	h := new(int)

	_, err := r.register(h, newFakeExecEnv())
	require.NoError(t, err)

	_, err = r.register(h, newFakeExecEnv())
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRegistryFindReturnsNilForUnknownHandle(t *testing.T) {
	r := newRegistry()
	assert.Nil(t, r.find(new(int)))
}

func TestGetContextRefreshesLastActivity(t *testing.T) {
	r := newRegistry()
	h := new(int)
	ctx, err := r.register(h, newFakeExecEnv())
	require.NoError(t, err)

	first := ctx.lastActivity
	got := r.getContext(h)
	require.NotNil(t, got)
	assert.True(t, !got.lastActivity.Before(first))
}
