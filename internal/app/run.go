package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/specialistvlad/actiongrid/internal/engine"
	"github.com/specialistvlad/actiongrid/internal/graph"
	"github.com/specialistvlad/actiongrid/internal/ledger"
	"github.com/specialistvlad/actiongrid/internal/plan"
	"github.com/specialistvlad/actiongrid/internal/registry"
)

// PlanSummary describes a plan that passed validation.
type PlanSummary struct {
	Goal   graph.Goal `json:"goal"`
	Output string     `json:"output,omitempty"`
	Nodes  []string   `json:"nodes"`
	Levels [][]string `json:"levels"`
}

// Run loads the plan at planPath, executes it and writes the result as JSON
// to the output writer. A plan that fails validation returns the error and
// writes nothing.
func (a *App) Run(ctx context.Context, planPath string) (engine.Result, error) {
	if err := a.Start(ctx); err != nil {
		return engine.Result{}, err
	}
	ctx = a.context(ctx)
	a.logger.Debug("App.Run method started.", "plan", planPath)

	d, err := plan.Load(ctx, planPath)
	if err != nil {
		return engine.Result{}, err
	}
	a.logger.Info("🚀 Starting run...", "goal", d.Goal.Description, "nodes", len(d.Nodes))
	res, err := a.engine.Execute(ctx, d)
	if err != nil {
		return engine.Result{}, err
	}
	a.logger.Info("🏁 Run finished.", "run_id", res.RunID, "status", res.Status, "duration", res.Duration)

	if err := a.writeJSON(res); err != nil {
		return res, err
	}
	return res, nil
}

// Validate loads and validates the plan at planPath without running it and
// writes its summary as JSON.
func (a *App) Validate(ctx context.Context, planPath string) (PlanSummary, error) {
	ctx = a.context(ctx)
	d, err := plan.Load(ctx, planPath)
	if err != nil {
		return PlanSummary{}, err
	}
	if err := graph.Validate(d, a.registry); err != nil {
		return PlanSummary{}, err
	}
	g, err := graph.Build(d)
	if err != nil {
		return PlanSummary{}, err
	}
	levels, err := g.Levels()
	if err != nil {
		return PlanSummary{}, err
	}

	summary := PlanSummary{Goal: d.Goal, Output: d.Output, Levels: levels}
	for _, n := range d.Nodes {
		summary.Nodes = append(summary.Nodes, n.ID)
	}
	a.logger.Info("Plan is valid.", "nodes", len(summary.Nodes), "levels", len(levels))
	return summary, a.writeJSON(summary)
}

// Capabilities returns the descriptors of every registered capability,
// sorted by name.
func (a *App) Capabilities() []registry.Descriptor {
	return a.registry.Descriptors()
}

// History returns the stored ledger of runID.
func (a *App) History(ctx context.Context, runID string) ([]ledger.Record, error) {
	ctx = a.context(ctx)
	if err := a.openStores(ctx); err != nil {
		return nil, err
	}
	store, err := a.historyStore()
	if err != nil {
		return nil, err
	}
	recs, err := store.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load history of %s: %w", runID, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", engine.ErrRunNotFound, runID)
	}
	return recs, nil
}

// StoredRuns lists the run ids kept in the badger ledger store.
func (a *App) StoredRuns(ctx context.Context) ([]string, error) {
	ctx = a.context(ctx)
	if err := a.openStores(ctx); err != nil {
		return nil, err
	}
	if a.badger == nil {
		return nil, fmt.Errorf("listing runs needs ledger_path")
	}
	return a.badger.Runs(ctx)
}

func (a *App) writeJSON(v any) error {
	enc := json.NewEncoder(a.outW)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
