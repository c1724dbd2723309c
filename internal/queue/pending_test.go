package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionRegistry_ResolveOnce(t *testing.T) {
	reg := newCompletionRegistry()

	ch, cancel, err := reg.Register("job-1")
	require.NoError(t, err)
	defer cancel()
	assert.Equal(t, 1, reg.Len())

	assert.True(t, reg.Resolve("job-1", ResolutionComplete))
	assert.Equal(t, ResolutionComplete, <-ch)
	assert.Equal(t, 0, reg.Len())

	// The handle is consumed; a second resolve finds nothing.
	assert.False(t, reg.Resolve("job-1", ResolutionFail))
}

func TestCompletionRegistry_DuplicateRegistration(t *testing.T) {
	reg := newCompletionRegistry()

	_, cancel, err := reg.Register("job-1")
	require.NoError(t, err)
	defer cancel()

	_, _, err = reg.Register("job-1")
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestCompletionRegistry_CancelClearsHandle(t *testing.T) {
	reg := newCompletionRegistry()

	_, cancel, err := reg.Register("job-1")
	require.NoError(t, err)

	cancel()
	assert.Equal(t, 0, reg.Len())
	assert.False(t, reg.Resolve("job-1", ResolutionComplete))

	// Cancelled ids can be registered again, as happens on job retry.
	_, cancel2, err := reg.Register("job-1")
	require.NoError(t, err)
	cancel2()
}

func TestCompletionRegistry_ResolveUnknownJob(t *testing.T) {
	reg := newCompletionRegistry()
	assert.False(t, reg.Resolve("missing", ResolutionComplete))
}
