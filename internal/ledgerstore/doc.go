// Package ledgerstore persists ledger records for later inspection.
//
// Both stores implement ledger.Sink, so they are fed by ledger.Forward like
// any other sink, and can load the full history of a run back in sequence
// order. Publishing the same record twice is not an error.
package ledgerstore

import (
	"context"

	"github.com/specialistvlad/actiongrid/internal/ledger"
)

// Store is a persistent ledger sink.
type Store interface {
	ledger.Sink
	// Load returns every stored record of runID ordered by sequence number.
	Load(ctx context.Context, runID string) ([]ledger.Record, error)
	Close() error
}
