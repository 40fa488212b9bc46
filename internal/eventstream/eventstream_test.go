package eventstream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/specialistvlad/actiongrid/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	// --- Arrange ---
	rec := ledger.Record{
		Seq:       7,
		RunID:     "run-1",
		Type:      ledger.EventNodeCompleted,
		NodeID:    "fetch",
		Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload:   map[string]any{"attempt": 2},
	}

	// --- Act ---
	msg, err := Encode(rec)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, float64(7), msg["seq"])
	assert.Equal(t, "run-1", msg["run_id"])
	assert.Equal(t, "node.completed", msg["event_type"])
	assert.Equal(t, "fetch", msg["node_id"])
	assert.Equal(t, "2025-01-02T03:04:05Z", msg["timestamp"])
	assert.Equal(t, map[string]any{"attempt": float64(2)}, msg["payload"])
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{URL: "http://localhost:3000"}.withDefaults()
	assert.Equal(t, "/", cfg.Namespace)
	assert.Equal(t, DefaultEvent, cfg.Event)
	assert.Equal(t, 15*time.Second, cfg.ConnectTimeout)
}

func TestDial_Errors(t *testing.T) {
	t.Run("invalid url", func(t *testing.T) {
		_, err := Dial(context.Background(), Config{URL: "not a url"})
		assert.ErrorContains(t, err, "invalid socket.io URL")
	})

	t.Run("nothing listening", func(t *testing.T) {
		// --- Arrange ---
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := lis.Addr().String()
		require.NoError(t, lis.Close())

		// --- Act ---
		start := time.Now()
		_, err = Dial(context.Background(), Config{URL: "http://" + addr, ConnectTimeout: 500 * time.Millisecond})

		// --- Assert ---
		require.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Dial(ctx, Config{URL: "http://127.0.0.1:1", ConnectTimeout: time.Second})
		assert.Error(t, err)
	})
}
