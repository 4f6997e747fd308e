package relay

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanOut(t *testing.T) {
	t.Run("zero calls", func(t *testing.T) {
		err := fanOut(context.Background(), 0, "X", func(ctx context.Context, i int) error {
			t.Fatal("should not be called")
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("runs every index", func(t *testing.T) {
		var seen [5]atomic.Bool
		err := fanOut(context.Background(), 5, "X", func(ctx context.Context, i int) error {
			seen[i].Store(true)
			return nil
		})
		require.NoError(t, err)
		for i := range seen {
			assert.True(t, seen[i].Load(), "index %d", i)
		}
	})

	t.Run("single call runs inline and recovers", func(t *testing.T) {
		err := fanOut(context.Background(), 1, "X", func(ctx context.Context, i int) error {
			panic("inline")
		})
		var perr *PanicError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "X", perr.MessageType)
	})

	t.Run("returns failure", func(t *testing.T) {
		err := fanOut(context.Background(), 3, "X", func(ctx context.Context, i int) error {
			if i == 1 {
				return errBoom
			}
			return nil
		})
		assert.ErrorIs(t, err, errBoom)
	})
}
