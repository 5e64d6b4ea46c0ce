package integration

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	ctx := context.Background()

	t.Run("Recent", func(t *testing.T) {
		b := NewEventBus(3)
		assert.Empty(t, b.Recent(0))

		for n := range 5 {
			b.Fire(ctx, fmt.Sprintf("e%d", n), nil)
		}
		var types []string
		for _, e := range b.Recent(0) {
			types = append(types, e.Type)
		}
		assert.Equal(t, []string{"e2", "e3", "e4"}, types)

		recent := b.Recent(1)
		require.Len(t, recent, 1)
		assert.Equal(t, "e4", recent[0].Type)
	})

	t.Run("Subscribe", func(t *testing.T) {
		b := NewEventBus(0)
		var got []Event
		unsubscribe := b.Subscribe(func(e Event) { got = append(got, e) })

		fired := b.Fire(ctx, "mygas_refresh_completed", map[string]any{"deviceID": "d"})
		require.Len(t, got, 1)
		assert.Equal(t, fired, got[0])
		assert.NotEmpty(t, fired.ID)
		assert.False(t, fired.Time.IsZero())

		unsubscribe()
		b.Fire(ctx, "mygas_refresh_completed", nil)
		assert.Len(t, got, 1)
	})
}
