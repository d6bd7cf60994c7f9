package hub_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-collab-client/hub"
	"github.com/stretchr/testify/require"
)

func TestPolicy_NextDelay(t *testing.T) {
	p := hub.DefaultPolicy()

	t.Run("doubles from one second", func(t *testing.T) {
		expected := []time.Duration{
			1000 * time.Millisecond,
			2000 * time.Millisecond,
			4000 * time.Millisecond,
			8000 * time.Millisecond,
			16000 * time.Millisecond,
		}
		for attempt, want := range expected {
			got, ok := p.NextDelay(attempt, 0)
			require.True(t, ok)
			require.Equal(t, want, got, "attempt %d", attempt)
		}
	})

	t.Run("capped at thirty seconds", func(t *testing.T) {
		for _, attempt := range []int{5, 6, 10, 64, 1000} {
			got, ok := p.NextDelay(attempt, 0)
			require.True(t, ok)
			require.Equal(t, 30*time.Second, got)
		}
	})

	t.Run("stops once sixty seconds elapsed", func(t *testing.T) {
		_, ok := p.NextDelay(2, 59999*time.Millisecond)
		require.True(t, ok)

		_, ok = p.NextDelay(2, 60*time.Second)
		require.False(t, ok)

		_, ok = p.NextDelay(0, 61*time.Second)
		require.False(t, ok)
	})
}
