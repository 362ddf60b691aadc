package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("should stay closed on success", func(t *testing.T) {
		b := NewBreaker(Config{MaxFailures: 3, Timeout: time.Minute})

		for i := 0; i < 10; i++ {
			require.NoError(t, b.Execute(ctx, func() error { return nil }))
		}
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("should open after max consecutive failures", func(t *testing.T) {
		b := NewBreaker(Config{MaxFailures: 3, Timeout: time.Minute})

		for i := 0; i < 3; i++ {
			assert.ErrorIs(t, b.Execute(ctx, func() error { return errBoom }), errBoom)
		}
		assert.Equal(t, StateOpen, b.State())

		err := b.Execute(ctx, func() error { return nil })
		assert.ErrorIs(t, err, ErrCircuitOpen)
	})

	t.Run("should reset the failure count on success", func(t *testing.T) {
		b := NewBreaker(Config{MaxFailures: 3, Timeout: time.Minute})

		b.Execute(ctx, func() error { return errBoom })
		b.Execute(ctx, func() error { return errBoom })
		require.NoError(t, b.Execute(ctx, func() error { return nil }))
		b.Execute(ctx, func() error { return errBoom })
		b.Execute(ctx, func() error { return errBoom })

		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("should probe through half-open and close on success", func(t *testing.T) {
		b := NewBreaker(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 1})

		b.Execute(ctx, func() error { return errBoom })
		require.Equal(t, StateOpen, b.State())

		time.Sleep(20 * time.Millisecond)

		require.NoError(t, b.Execute(ctx, func() error { return nil }))
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("should reopen when the half-open probe fails", func(t *testing.T) {
		b := NewBreaker(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 1})

		b.Execute(ctx, func() error { return errBoom })
		time.Sleep(20 * time.Millisecond)

		assert.ErrorIs(t, b.Execute(ctx, func() error { return errBoom }), errBoom)
		assert.Equal(t, StateOpen, b.State())
	})

	t.Run("should notify on state changes", func(t *testing.T) {
		var transitions []string
		b := NewBreaker(Config{
			MaxFailures: 1,
			Timeout:     time.Minute,
			OnStateChange: func(from, to State) {
				transitions = append(transitions, from.String()+"->"+to.String())
			},
		})

		b.Execute(ctx, func() error { return errBoom })
		assert.Equal(t, []string{"closed->open"}, transitions)
	})

	t.Run("should support manual force-open and reset", func(t *testing.T) {
		b := NewBreaker(Config{MaxFailures: 5, Timeout: time.Minute})

		b.ForceOpen()
		assert.Equal(t, StateOpen, b.State())

		b.Reset()
		assert.Equal(t, StateClosed, b.State())
		require.NoError(t, b.Execute(ctx, func() error { return nil }))
	})
}
