package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/specialistvlad/actiongrid/internal/app"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Exit codes beyond the usual 0 and 1.
const (
	ExitUsage   = 2
	ExitPartial = 3
	ExitFailed  = 4
	ExitAborted = 5
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) error {
	return &ExitError{Code: ExitUsage, Message: fmt.Sprintf(format, args...)}
}

// flags holds the values of the persistent flags. Only flags the user set
// override the config file.
type flags struct {
	configPath      string
	logLevel        string
	logFormat       string
	workers         int
	healthcheckPort int
	runTimeout      time.Duration
	ledgerPath      string
	ledgerDSN       string
	eventStreamURL  string
	traceStdout     bool
}

func (f *flags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "Path to a YAML config file.")
	fs.StringVar(&f.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	fs.StringVar(&f.logFormat, "log-format", "", "Log output format. Options: 'text' or 'json'. Defaults to text on a terminal.")
	fs.IntVarP(&f.workers, "workers", "w", 10, "Number of concurrent workers per run.")
	fs.IntVar(&f.healthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check and metrics server. 0 is disabled.")
	fs.DurationVar(&f.runTimeout, "run-timeout", 0, "Abort a run that takes longer than this. 0 is no limit.")
	fs.StringVar(&f.ledgerPath, "ledger-path", "", "Directory of the embedded ledger store.")
	fs.StringVar(&f.ledgerDSN, "ledger-dsn", "", "Postgres URL of the ledger store.")
	fs.StringVar(&f.eventStreamURL, "event-stream-url", "", "socket.io server receiving ledger records live.")
	fs.BoolVar(&f.traceStdout, "trace", false, "Export trace spans to stderr.")
}

// config loads the config file and applies every flag the user changed.
func (f *flags) config(fs *pflag.FlagSet) (app.Config, error) {
	cfg, err := app.LoadConfig(f.configPath)
	if err != nil {
		return cfg, usageError("%v", err)
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = strings.ToLower(f.logLevel)
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = strings.ToLower(f.logFormat)
	}
	if fs.Changed("workers") {
		cfg.Engine.Workers = f.workers
	}
	if fs.Changed("healthcheck-port") {
		cfg.HealthcheckPort = f.healthcheckPort
	}
	if fs.Changed("run-timeout") {
		cfg.Engine.RunTimeout = f.runTimeout
	}
	if fs.Changed("ledger-path") {
		cfg.LedgerPath = f.ledgerPath
	}
	if fs.Changed("ledger-dsn") {
		cfg.LedgerDSN = f.ledgerDSN
	}
	if fs.Changed("event-stream-url") {
		cfg.EventStreamURL = f.eventStreamURL
	}
	if fs.Changed("trace") {
		cfg.TraceStdout = f.traceStdout
	}
	if err := cfg.Validate(); err != nil {
		return cfg, usageError("%v", err)
	}
	return cfg, nil
}

// NewRootCommand builds the actiongrid command tree. Results go to outW
// and logs to errW. opts are passed to every App the commands create.
func NewRootCommand(outW, errW io.Writer, opts ...app.Option) *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "actiongrid",
		Short: "Run action DAGs with bounded concurrency and self correction",
		Long: `actiongrid executes a plan, a DAG of capability calls, running
independent branches in parallel and recovering from failures through
retries, patches and replacement subgraphs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(errW)
	f.register(root.PersistentFlags())
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError("%v", err)
	})

	newApp := func(cmd *cobra.Command) (*app.App, error) {
		cfg, err := f.config(cmd.Flags())
		if err != nil {
			return nil, err
		}
		a, err := app.NewApp(outW, errW, cfg, opts...)
		if err != nil {
			return nil, usageError("%v", err)
		}
		return a, nil
	}

	root.AddCommand(
		newRunCommand(newApp),
		newValidateCommand(newApp),
		newCapabilitiesCommand(newApp),
		newHistoryCommand(newApp),
	)
	return root
}

// Execute runs the command line args and returns an *ExitError for any
// failure that should end the process with a specific code.
func Execute(ctx context.Context, args []string, outW, errW io.Writer, opts ...app.Option) error {
	root := NewRootCommand(outW, errW, opts...)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	if strings.HasPrefix(err.Error(), "unknown command") || strings.Contains(err.Error(), "arg(s)") {
		return usageError("%v", err)
	}
	return err
}
