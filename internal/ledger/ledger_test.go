package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend(t *testing.T) {
	l := New("run-1")
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	l.clock = func() time.Time { return fixed }

	first := l.Append(EventRunStarted, "", map[string]any{"nodes": 2})
	second := l.Append(TransitionEvent(node.StatusReady), "a", nil)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, "run-1", second.RunID)
	assert.Equal(t, EventNodeReady, second.Type)
	assert.Equal(t, fixed, second.Timestamp)
	assert.Equal(t, 2, l.Len())

	recs := l.Records()
	recs[0].Type = "tampered"
	assert.Equal(t, EventRunStarted, l.Records()[0].Type, "Records returns a copy")

	l.Close()
	l.Close()
	assert.True(t, l.Closed())
	assert.Panics(t, func() { l.Append(EventRunFinished, "", nil) })
}

func TestStream(t *testing.T) {
	t.Run("late subscribers see the full history in order", func(t *testing.T) {
		l := New("run")
		l.Append(EventRunStarted, "", nil)
		l.Append(EventNodePending, "a", nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stream := l.Stream(ctx)

		go func() {
			l.Append(EventNodeReady, "a", nil)
			l.Append(EventRunFinished, "", nil)
			l.Close()
		}()

		var seqs []uint64
		for rec := range stream {
			seqs = append(seqs, rec.Seq)
		}
		assert.Equal(t, []uint64{1, 2, 3, 4}, seqs)
	})

	t.Run("concurrent streams all receive every record", func(t *testing.T) {
		l := New("run")
		ctx := context.Background()

		const readers = 4
		counts := make([]int, readers)
		var wg sync.WaitGroup
		for i := range readers {
			stream := l.Stream(ctx)
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range stream {
					counts[i]++
				}
			}()
		}
		for range 100 {
			l.Append(EventNodeReady, "x", nil)
		}
		l.Close()
		wg.Wait()

		for _, c := range counts {
			assert.Equal(t, 100, c)
		}
	})

	t.Run("context cancellation ends the stream", func(t *testing.T) {
		l := New("run")
		ctx, cancel := context.WithCancel(context.Background())
		stream := l.Stream(ctx)
		cancel()

		select {
		case _, ok := <-stream:
			assert.False(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("stream did not close after cancellation")
		}
	})
}

func TestPath(t *testing.T) {
	l := New("run")
	l.Append(EventNodePending, "a", nil)
	l.Append(EventNodePending, "b", nil)
	l.Append(EventNodeReady, "a", nil)
	l.Append(EventCorrectionRequested, "a", nil)
	l.Append(EventNodeRunning, "a", nil)
	l.Append(EventNodeCompleted, "a", nil)

	assert.Equal(t,
		[]node.Status{node.StatusPending, node.StatusReady, node.StatusRunning, node.StatusCompleted},
		Path(l.Records(), "a"))
	assert.Equal(t, []node.Status{node.StatusPending}, Path(l.Records(), "b"))
}

func TestForward(t *testing.T) {
	l := New("run")
	l.Append(EventRunStarted, "", nil)
	l.Append(EventRunFinished, "", nil)
	l.Close()

	var got []EventType
	sink := SinkFunc(func(_ context.Context, rec Record) error {
		got = append(got, rec.Type)
		return nil
	})
	Forward(context.Background(), l, sink)
	require.Len(t, got, 2)
	assert.Equal(t, []EventType{EventRunStarted, EventRunFinished}, got)

	assert.NoError(t, LogSink{}.Publish(context.Background(), l.Records()[0]))
}
