// Package http_request provides a capability that performs a single HTTP
// request and returns the status code, headers and body.
package http_request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/specialistvlad/actiongrid/internal/ctxlog"
	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// maxBody caps how much of a response body is kept.
const maxBody = 4 << 20

// Module implements the registry.Module interface for this package.
// Client defaults to a shared client with pooled connections.
type Module struct {
	Client *http.Client
}

// Input defines the arguments for the http_request capability.
type Input struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// Output defines the data structure returned by the capability.
type Output struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// NewClient returns the client used when Module.Client is nil.
func NewClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Do performs the request described by input. Server errors and transport
// failures are retryable; client errors (4xx) are not.
func Do(ctx context.Context, client *http.Client, input *Input) (*Output, error) {
	method := strings.ToUpper(input.Method)
	if method == "" {
		method = http.MethodGet
	}
	logger := ctxlog.FromContext(ctx).With("method", method, "url", input.URL)
	logger.Info("Making HTTP request.")

	var body io.Reader
	if input.Body != "" {
		body = strings.NewReader(input.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, input.URL, body)
	if err != nil {
		return nil, node.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	for k, v := range input.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	logger.Info("Received HTTP response.", "status", resp.Status)

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("request failed with status %s", resp.Status)
	case resp.StatusCode >= 400:
		return nil, node.Permanent(fmt.Errorf("request failed with status %s: %s", resp.Status, truncate(string(bodyBytes), 256)))
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return &Output{StatusCode: resp.StatusCode, Headers: headers, Body: string(bodyBytes)}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Register registers the capability with the registry.
func (m *Module) Register(r *registry.Registry) {
	client := m.Client
	if client == nil {
		client = NewClient()
	}
	r.RegisterFunc(registry.Descriptor{
		Name:        "http_request",
		Description: "Performs an HTTP request and returns the status code, headers and body.",
		Category:    "network",
		Version:     "1.0.0",
		Inputs: []registry.Input{
			{Name: "url", Type: cty.String, Required: true},
			{Name: "method", Type: cty.String, Description: "Defaults to GET."},
			{Name: "headers", Type: cty.Map(cty.String)},
			{Name: "body", Type: cty.String},
		},
		Outputs: []string{"status_code", "body"},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		var input Input
		if err := registry.Bind(args, &input); err != nil {
			return nil, err
		}
		return Do(ctx, client, &input)
	})
}
