package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/specialistvlad/actiongrid/internal/correction"
	"github.com/specialistvlad/actiongrid/internal/ctxlog"
	"github.com/specialistvlad/actiongrid/internal/engine"
	"github.com/specialistvlad/actiongrid/internal/ledgerstore"
	"github.com/specialistvlad/actiongrid/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	errW   io.Writer
	logger *slog.Logger
	config Config

	registry  *registry.Registry
	corrector correction.Corrector
	engine    *engine.Engine

	badger   *ledgerstore.BadgerStore
	postgres *ledgerstore.PostgresStore

	httpServer *http.Server
	healthAddr string

	closers []func(context.Context) error
}

// Option customises an App.
type Option func(*App)

// WithModules replaces the built-in capabilities.
func WithModules(modules ...registry.Module) Option {
	return func(a *App) {
		a.registry = registry.New()
		for _, mod := range modules {
			mod.Register(a.registry)
		}
	}
}

// WithCorrector sets the correction collaborator used by every run.
func WithCorrector(c correction.Corrector) Option {
	return func(a *App) { a.corrector = c }
}

// NewApp validates cfg and builds an App writing results to outW and logs
// to errW. Nothing is opened until Start.
func NewApp(outW, errW io.Writer, cfg Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	a := &App{
		outW:   outW,
		errW:   errW,
		logger: newLogger(cfg.LogLevel, cfg.LogFormat, errW),
		config: cfg,
	}
	a.logger.Debug("Logger configured successfully.")

	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		modules := coreModules(outW)
		a.registry = registry.New()
		for _, mod := range modules {
			mod.Register(a.registry)
		}
		a.logger.Debug("All built-in modules registered.", "count", len(modules))
	}
	return a, nil
}

// Registry returns the application's capability registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// Engine returns the engine, or nil before Start.
func (a *App) Engine() *engine.Engine { return a.engine }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// HealthAddr returns the bound health check address, or "" when disabled.
func (a *App) HealthAddr() string { return a.healthAddr }

func (a *App) context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Start opens the ledger sinks, tracing and the health check server and
// creates the engine. Calling it again is a no-op.
func (a *App) Start(ctx context.Context) error {
	if a.engine != nil {
		return nil
	}
	ctx = a.context(ctx)

	opts, err := a.openSinks(ctx)
	if err != nil {
		return errors.Join(err, a.Close(ctx))
	}
	if a.corrector != nil {
		opts = append(opts, engine.WithCorrector(a.corrector))
	}
	a.engine = engine.New(a.registry, a.config.Engine, opts...)

	if a.config.HealthcheckPort > 0 {
		if err := a.startHealthcheckServer(":" + strconv.Itoa(a.config.HealthcheckPort)); err != nil {
			return errors.Join(err, a.Close(ctx))
		}
	} else {
		a.logger.Debug("Health check server not started: disabled.")
	}
	a.logger.Debug("App started.", "workers", a.config.Engine.Workers, "capabilities", len(a.registry.Names()))
	return nil
}

// Close stops the engine, waiting for active runs and their sinks, then
// releases everything Start opened in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.engine != nil {
		if err := a.engine.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
		}
	}
	if err := a.closeHealthCheckServer(ctx); err != nil {
		errs = append(errs, err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
