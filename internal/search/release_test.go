package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyCloser fails its first n Close calls.
type flakyCloser struct {
	failures int
	calls    int
}

func (f *flakyCloser) Close() error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("file in use")
	}
	return nil
}

func TestCloseWithRetry(t *testing.T) {
	opts := ReleaseOptions{Attempts: 3, Delay: time.Millisecond, GCDelay: time.Millisecond}

	t.Run("first attempt", func(t *testing.T) {
		c := &flakyCloser{}
		require.NoError(t, CloseWithRetry(context.Background(), c, opts))
		assert.Equal(t, 1, c.calls)
	})

	t.Run("succeeds on last attempt", func(t *testing.T) {
		c := &flakyCloser{failures: 2}
		require.NoError(t, CloseWithRetry(context.Background(), c, opts))
		assert.Equal(t, 3, c.calls)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		c := &flakyCloser{failures: 10}
		err := CloseWithRetry(context.Background(), c, opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 3 attempts")
		assert.Equal(t, 3, c.calls)
	})

	t.Run("zero attempts still tries once", func(t *testing.T) {
		c := &flakyCloser{}
		require.NoError(t, CloseWithRetry(context.Background(), c, ReleaseOptions{}))
		assert.Equal(t, 1, c.calls)
	})

	t.Run("context ends the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c := &flakyCloser{failures: 1}
		err := CloseWithRetry(ctx, c, ReleaseOptions{Attempts: 3, Delay: time.Hour})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, c.calls)
	})
}

func TestDefaultReleaseOptions(t *testing.T) {
	o := DefaultReleaseOptions()
	assert.Equal(t, 3, o.Attempts)
	assert.Equal(t, 2*time.Second, o.Delay)
	assert.Equal(t, 500*time.Millisecond, o.GCDelay)
}
