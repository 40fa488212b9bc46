package http_request

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("X-Method", r.Method)
			w.Header().Set("X-Token", r.Header.Get("X-Token"))
			_, _ = w.Write(body)
		case "/missing":
			http.Error(w, "nope", http.StatusNotFound)
		default:
			http.Error(w, "boom", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	r := registry.New()
	(&Module{Client: srv.Client()}).Register(r)
	ctx := context.Background()

	t.Run("returns status headers and body", func(t *testing.T) {
		// --- Act ---
		res, err := r.Invoke(ctx, "http_request", map[string]any{
			"url":     srv.URL + "/echo",
			"method":  "post",
			"headers": map[string]any{"X-Token": "secret"},
			"body":    "hello",
		})

		// --- Assert ---
		require.NoError(t, err)
		out := res.(*Output)
		assert.Equal(t, http.StatusOK, out.StatusCode)
		assert.Equal(t, "hello", out.Body)
		assert.Equal(t, "POST", out.Headers["X-Method"])
		assert.Equal(t, "secret", out.Headers["X-Token"])
		assert.NoError(t, r.CheckOutput("http_request", map[string]any{"status_code": 200.0, "body": "hello"}))
	})

	t.Run("client errors are permanent", func(t *testing.T) {
		_, err := r.Invoke(ctx, "http_request", map[string]any{"url": srv.URL + "/missing"})
		require.Error(t, err)
		nodeErr := node.AsError(err)
		assert.False(t, nodeErr.Retryable)
		assert.Contains(t, nodeErr.Message, "404")
	})

	t.Run("server errors are retryable", func(t *testing.T) {
		_, err := r.Invoke(ctx, "http_request", map[string]any{"url": srv.URL + "/flaky"})
		require.Error(t, err)
		assert.True(t, node.AsError(err).Retryable)
	})

	t.Run("malformed url is permanent", func(t *testing.T) {
		_, err := r.Invoke(ctx, "http_request", map[string]any{"url": "http://[::1"})
		require.Error(t, err)
		assert.False(t, node.AsError(err).Retryable)
	})
}
