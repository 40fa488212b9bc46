package ledger

import (
	"context"
	"log/slog"

	"github.com/specialistvlad/actiongrid/internal/ctxlog"
)

// Sink receives ledger records for observability or history.
type Sink interface {
	Publish(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, rec Record) error

// Publish calls f(ctx, rec).
func (f SinkFunc) Publish(ctx context.Context, rec Record) error { return f(ctx, rec) }

// Forward streams every record of l into sink until the ledger is closed
// and drained or ctx is done. Sink errors are logged and do not stop the
// stream.
func Forward(ctx context.Context, l *Ledger, sink Sink) {
	logger := ctxlog.FromContext(ctx).With("run_id", l.RunID())
	for rec := range l.Stream(ctx) {
		if err := sink.Publish(ctx, rec); err != nil {
			logger.Warn("Ledger sink rejected record.", "seq", rec.Seq, "event_type", rec.Type, "error", err)
		}
	}
}

// LogSink writes every record to a logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

// Publish logs rec.
func (s LogSink) Publish(ctx context.Context, rec Record) error {
	logger := s.Logger
	if logger == nil {
		logger = ctxlog.FromContext(ctx)
	}
	logger.Debug("Ledger record.",
		"run_id", rec.RunID,
		"seq", rec.Seq,
		"event_type", rec.Type,
		"node_id", rec.NodeID,
		"payload", rec.Payload,
	)
	return nil
}
