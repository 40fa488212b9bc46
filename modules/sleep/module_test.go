package sleep

import (
	"context"
	"testing"
	"time"

	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSleep(t *testing.T) {
	r := registry.New()
	(&Module{}).Register(r)

	t.Run("waits and echoes the value", func(t *testing.T) {
		start := time.Now()
		res, err := r.Invoke(context.Background(), "sleep", map[string]any{"duration": "20ms", "value": "x"})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
		assert.Equal(t, &Output{Slept: "20ms", Value: "x"}, res)
	})

	t.Run("stops when the context is done", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := r.Invoke(ctx, "sleep", map[string]any{"duration": "1m"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("bad duration is permanent", func(t *testing.T) {
		_, err := r.Invoke(context.Background(), "sleep", map[string]any{"duration": "soon"})
		require.Error(t, err)
		assert.False(t, node.AsError(err).Retryable)
	})
}
