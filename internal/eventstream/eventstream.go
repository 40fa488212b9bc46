// Package eventstream publishes ledger records to a socket.io server so
// that dashboards can follow runs live.
package eventstream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/specialistvlad/actiongrid/internal/ctxlog"
	"github.com/specialistvlad/actiongrid/internal/ledger"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultEvent is the event name records are emitted under.
const DefaultEvent = "ledger.record"

// Config describes the socket.io endpoint.
type Config struct {
	URL                string        `yaml:"url" validate:"required,url"`
	Namespace          string        `yaml:"namespace"`
	Event              string        `yaml:"event"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = "/"
	}
	if c.Event == "" {
		c.Event = DefaultEvent
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	return c
}

// Publisher is a ledger.Sink that emits every record over one socket.io
// connection.
type Publisher struct {
	io     *socket.Socket
	event  string
	logger *slog.Logger
}

var _ ledger.Sink = (*Publisher)(nil)

// Dial connects to cfg.URL and waits for the connection to be accepted.
func Dial(ctx context.Context, cfg Config) (*Publisher, error) {
	cfg = cfg.withDefaults()
	logger := ctxlog.FromContext(ctx).With("sink", "socketio", "url", cfg.URL)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid socket.io URL %q", cfg.URL)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connected := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		select {
		case connected <- nil:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connected <- err:
		default:
		}
	})
	io.Connect()

	timer := time.NewTimer(cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-timer.C:
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", cfg.ConnectTimeout)
	}

	logger.Info("Connected ledger event stream.", "sid", io.Id(), "event", cfg.Event)
	return &Publisher{io: io, event: cfg.Event, logger: logger}, nil
}

// Publish emits rec. It fails when the connection has been lost.
func (p *Publisher) Publish(_ context.Context, rec ledger.Record) error {
	if !p.io.Connected() {
		return fmt.Errorf("socket.io client %s is not connected", p.io.Id())
	}
	msg, err := Encode(rec)
	if err != nil {
		return err
	}
	p.io.Emit(p.event, msg)
	return nil
}

// Close disconnects.
func (p *Publisher) Close() error {
	p.logger.Debug("Disconnecting ledger event stream.", "sid", p.io.Id())
	p.io.Disconnect()
	return nil
}

// Encode converts rec into the plain map emitted on the wire.
func Encode(rec ledger.Record) (map[string]any, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode ledger record %d: %w", rec.Seq, err)
	}
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("encode ledger record %d: %w", rec.Seq, err)
	}
	return msg, nil
}
