// Package socketio provides a capability that connects to a socket.io
// server, optionally emits one event and waits for a reply event.
package socketio

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/specialistvlad/actiongrid/internal/ctxlog"
	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the socketio capability.
type Input struct {
	URL                string `json:"url"`
	Namespace          string `json:"namespace"`
	OnEvent            string `json:"on_event"`
	EmitEvent          string `json:"emit_event"`
	EmitData           any    `json:"emit_data"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
}

// Output defines the data structure returned by the capability.
type Output struct {
	ResponseData any `json:"response_data"`
}

type opResult struct {
	value *Output
	err   error
}

// Request connects, emits input.EmitEvent once connected and returns the
// first payload received on input.OnEvent. The wait is bounded by ctx,
// which carries the node timeout.
func Request(ctx context.Context, input *Input) (*Output, error) {
	logger := ctxlog.FromContext(ctx).With("url", input.URL, "onEvent", input.OnEvent, "emitEvent", input.EmitEvent)
	logger.Debug("Handler started.")
	defer logger.Debug("Handler finished.")

	parsedURL, err := url.Parse(input.URL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, node.Permanent(fmt.Errorf("invalid socket.io URL %q", input.URL))
	}
	namespace := input.Namespace
	if namespace == "" {
		namespace = "/"
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if input.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification.")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	done := make(chan opResult, 1)
	send := func(res opResult) {
		select {
		case done <- res:
		default:
		}
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(namespace, opts)
	defer func() {
		logger.Debug("Disconnecting socket client.")
		io.Disconnect()
	}()

	io.On(types.EventName("connect"), func(...any) {
		logger.Info("Successfully connected.", "namespace", namespace, "sid", io.Id())
		if input.EmitEvent != "" {
			jsonData, _ := json.Marshal(input.EmitData)
			logger.Info("Emitting event.", "event", input.EmitEvent, "data", string(jsonData))
			io.Emit(input.EmitEvent, input.EmitData)
		}
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		send(opResult{err: fmt.Errorf("socket.io connection failed: %w", err)})
	})
	io.On(types.EventName(input.OnEvent), func(data ...any) {
		var responseData any
		if len(data) > 0 {
			responseData = data[0]
		}
		send(opResult{value: &Output{ResponseData: responseData}})
	})

	io.Connect()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		logger.Info("Received response event.", "event", input.OnEvent)
		return res.value, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("stopped waiting for event %q: %w", input.OnEvent, ctx.Err())
	}
}

// Register registers the capability with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterFunc(registry.Descriptor{
		Name:        "socketio",
		Description: "Connects to a socket.io server, emits an event and waits for a reply event.",
		Category:    "network",
		Version:     "1.0.0",
		Inputs: []registry.Input{
			{Name: "url", Type: cty.String, Required: true},
			{Name: "namespace", Type: cty.String},
			{Name: "on_event", Type: cty.String, Required: true, Description: "Event whose first payload becomes the result."},
			{Name: "emit_event", Type: cty.String},
			{Name: "emit_data", Type: cty.DynamicPseudoType},
			{Name: "insecure_skip_verify", Type: cty.Bool},
		},
		Outputs: []string{"response_data"},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		var input Input
		if err := registry.Bind(args, &input); err != nil {
			return nil, err
		}
		return Request(ctx, &input)
	})
}
