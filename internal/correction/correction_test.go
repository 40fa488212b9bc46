package correction

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		Timeout:        50 * time.Millisecond,
		MaxTries:       3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func request(retryable bool) Request {
	return Request{
		RunID:      "run",
		FailedNode: FailedNode{ID: "a", Capability: "search", Attempts: 1, MaxAttempts: 3},
		Error:      node.Error{Kind: node.KindExecution, Message: "boom", Retryable: retryable},
	}
}

func TestDecide(t *testing.T) {
	ctx := context.Background()

	t.Run("passes the corrector's answer through", func(t *testing.T) {
		s := New(Func(func(_ context.Context, req Request) (Response, error) {
			assert.Equal(t, "a", req.FailedNode.ID)
			return Response{Action: ActionPatch, Patch: map[string]any{"q": "better"}}, nil
		}), fastConfig())

		d := s.Decide(ctx, request(true))
		assert.Equal(t, ActionPatch, d.Action)
		assert.Equal(t, map[string]any{"q": "better"}, d.Patch)
		assert.False(t, d.Fallback)
		assert.Equal(t, 1, d.Calls)
	})

	t.Run("transient corrector errors are retried", func(t *testing.T) {
		var calls atomic.Int32
		s := New(Func(func(context.Context, Request) (Response, error) {
			if calls.Add(1) < 3 {
				return Response{}, errors.New("connection refused")
			}
			return Response{Action: ActionRetry}, nil
		}), fastConfig())

		d := s.Decide(ctx, request(true))
		assert.Equal(t, ActionRetry, d.Action)
		assert.False(t, d.Fallback)
		assert.Equal(t, 3, d.Calls)
	})

	t.Run("persistent errors fall back to abort", func(t *testing.T) {
		s := New(Func(func(context.Context, Request) (Response, error) {
			return Response{}, errors.New("connection refused")
		}), fastConfig())

		d := s.Decide(ctx, request(true))
		assert.Equal(t, ActionAbort, d.Action)
		assert.True(t, d.Fallback)
		assert.Equal(t, 3, d.Calls)
		assert.Contains(t, d.Reason, "connection refused")
	})

	t.Run("a corrector that never answers times out into abort", func(t *testing.T) {
		cfg := fastConfig()
		cfg.MaxTries = 2
		s := New(Func(func(context.Context, Request) (Response, error) {
			select {} // ignores its context
		}), cfg)

		start := time.Now()
		d := s.Decide(ctx, request(true))
		assert.Equal(t, ActionAbort, d.Action)
		assert.True(t, d.Fallback)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("unknown actions abort without retrying", func(t *testing.T) {
		var calls atomic.Int32
		s := New(Func(func(context.Context, Request) (Response, error) {
			calls.Add(1)
			return Response{Action: "shrug"}, nil
		}), fastConfig())

		d := s.Decide(ctx, request(true))
		assert.Equal(t, ActionAbort, d.Action)
		assert.True(t, d.Fallback)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("no corrector means abort", func(t *testing.T) {
		d := New(nil, fastConfig()).Decide(ctx, request(true))
		assert.Equal(t, ActionAbort, d.Action)
		assert.True(t, d.Fallback)
	})

	t.Run("retry decisions are paced", func(t *testing.T) {
		cfg := fastConfig()
		cfg.RetryDelay = 30 * time.Millisecond
		s := New(Policy{}, cfg)

		start := time.Now()
		d := s.Decide(ctx, request(true))
		require.Equal(t, ActionRetry, d.Action)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})
}

func TestPolicy(t *testing.T) {
	resp, err := Policy{}.Correct(context.Background(), request(true))
	require.NoError(t, err)
	assert.Equal(t, ActionRetry, resp.Action)

	resp, err = Policy{}.Correct(context.Background(), request(false))
	require.NoError(t, err)
	assert.Equal(t, ActionAbort, resp.Action)

	resp, err = AbortAll.Correct(context.Background(), request(true))
	require.NoError(t, err)
	assert.Equal(t, ActionAbort, resp.Action)
}
