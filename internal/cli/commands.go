package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/specialistvlad/actiongrid/internal/app"
	"github.com/specialistvlad/actiongrid/internal/engine"
	"github.com/specialistvlad/actiongrid/internal/graph"
	"github.com/spf13/cobra"
)

type appFactory func(cmd *cobra.Command) (*app.App, error)

// withApp creates the App for cmd, runs fn and closes the App whatever fn
// returned.
func withApp(cmd *cobra.Command, newApp appFactory, fn func(ctx context.Context, a *app.App) error) (err error) {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(cmd.Context(), a)
}

// planError maps a plan loading or validation failure to a usage exit.
func planError(err error) error {
	var verr *graph.ValidationError
	if errors.As(err, &verr) {
		return &ExitError{Code: ExitUsage, Message: "invalid plan: " + err.Error()}
	}
	return err
}

// statusError maps a finished run's status to its exit code.
func statusError(res engine.Result) error {
	msg := fmt.Sprintf("run %s finished with status %s", res.RunID, res.Status)
	if res.Cause != "" {
		msg += ": " + res.Cause
	}
	switch res.Status {
	case engine.StatusCompleted:
		return nil
	case engine.StatusPartial:
		return &ExitError{Code: ExitPartial, Message: msg}
	case engine.StatusAborted:
		return &ExitError{Code: ExitAborted, Message: msg}
	default:
		return &ExitError{Code: ExitFailed, Message: msg}
	}
}

func newRunCommand(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "run PLAN",
		Short: "Execute a plan file or directory and print the run result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, func(ctx context.Context, a *app.App) error {
				res, err := a.Run(ctx, args[0])
				if err != nil {
					return planError(err)
				}
				return statusError(res)
			})
		},
	}
}

func newValidateCommand(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "validate PLAN",
		Short: "Check a plan against the registered capabilities without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, func(ctx context.Context, a *app.App) error {
				_, err := a.Validate(ctx, args[0])
				return planError(err)
			})
		},
	}
}

func newCapabilitiesCommand(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List the registered capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, newApp, func(_ context.Context, a *app.App) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tCATEGORY\tVERSION\tINPUTS\tOUTPUTS\tDESCRIPTION")
				for _, d := range a.Capabilities() {
					inputs := make([]string, 0, len(d.Inputs))
					for _, in := range d.Inputs {
						name := in.Name
						if in.Required {
							name += "*"
						}
						inputs = append(inputs, name)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						d.Name, d.Category, d.Version,
						strings.Join(inputs, ","), strings.Join(d.Outputs, ","), d.Description)
				}
				return tw.Flush()
			})
		},
	}
}

func newHistoryCommand(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Print the stored ledger of a run, or list stored runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, func(ctx context.Context, a *app.App) error {
				if len(args) == 0 {
					ids, err := a.StoredRuns(ctx)
					if err != nil {
						return usageError("%v", err)
					}
					for _, id := range ids {
						fmt.Fprintln(cmd.OutOrStdout(), id)
					}
					return nil
				}
				recs, err := a.History(ctx, args[0])
				if err != nil {
					if errors.Is(err, engine.ErrRunNotFound) {
						return &ExitError{Code: 1, Message: err.Error()}
					}
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, rec := range recs {
					if err := enc.Encode(rec); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
