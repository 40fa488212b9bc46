package app

import (
	"context"
	"fmt"

	"github.com/specialistvlad/actiongrid/internal/engine"
	"github.com/specialistvlad/actiongrid/internal/eventstream"
	"github.com/specialistvlad/actiongrid/internal/ledger"
	"github.com/specialistvlad/actiongrid/internal/ledgerstore"
	"github.com/specialistvlad/actiongrid/internal/telemetry"
)

// openSinks connects every configured ledger sink and returns the engine
// options feeding them. Each opened resource is registered for Close.
func (a *App) openSinks(ctx context.Context) ([]engine.Option, error) {
	opts := []engine.Option{engine.WithSink(ledger.LogSink{Logger: a.logger})}

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}
	if a.badger != nil {
		opts = append(opts, engine.WithSink(a.badger))
	}
	if a.postgres != nil {
		opts = append(opts, engine.WithSink(a.postgres))
	}

	if a.config.EventStreamURL != "" {
		pub, err := eventstream.Dial(ctx, eventstream.Config{
			URL:            a.config.EventStreamURL,
			Namespace:      a.config.EventStreamNamespace,
			Event:          a.config.EventStreamEvent,
			ConnectTimeout: a.config.EventStreamTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return pub.Close() })
		opts = append(opts, engine.WithSink(pub))
	}

	if a.config.TraceStdout {
		shutdown, err := telemetry.SetupStdoutTracing(a.errW)
		if err != nil {
			return nil, fmt.Errorf("stdout tracing: %w", err)
		}
		a.onClose(shutdown)
	}
	return opts, nil
}

// openStores opens the configured ledger stores that are not open yet.
func (a *App) openStores(ctx context.Context) error {
	if a.config.LedgerPath != "" && a.badger == nil {
		cfg := ledgerstore.DefaultBadgerConfig(a.config.LedgerPath)
		cfg.Logger = a.logger.With("component", "badger")
		store, err := ledgerstore.OpenBadger(cfg)
		if err != nil {
			return err
		}
		a.badger = store
		a.onClose(func(context.Context) error { return store.Close() })
		a.logger.Debug("Ledger store opened.", "path", a.config.LedgerPath)
	}

	if a.config.LedgerDSN != "" && a.postgres == nil {
		store, err := ledgerstore.OpenPostgres(ctx, ledgerstore.DefaultPostgresConfig(a.config.LedgerDSN))
		if err != nil {
			return fmt.Errorf("postgres ledger store: %w", err)
		}
		a.postgres = store
		a.onClose(func(context.Context) error { return store.Close() })
		a.logger.Debug("Postgres ledger store opened.")
	}
	return nil
}

// historyStore returns the store History reads from, postgres first.
func (a *App) historyStore() (ledgerstore.Store, error) {
	switch {
	case a.postgres != nil:
		return a.postgres, nil
	case a.badger != nil:
		return a.badger, nil
	default:
		return nil, fmt.Errorf("no ledger store configured: set ledger_path or ledger_dsn")
	}
}
