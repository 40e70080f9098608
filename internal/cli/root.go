package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/loadcheck/internal/logging"
	"github.com/wesleyorama2/loadcheck/internal/output"
)

var version = "0.1.0"

// Process exit codes.
const (
	ExitPass         = 0
	ExitError        = 1
	ExitInconclusive = 98
	ExitFail         = 99
)

// ExitCodeError carries a process exit code out of a command. A nil Err means
// nothing more needs printing.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	logLevel  string
	logFormat string
	noColor   bool
}

// NewRootCmd builds the loadcheck command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:     "loadcheck",
		Short:   "Open-model load generator with pass/fail thresholds",
		Version: version,
		Long: `loadcheck drives an HTTP workload at a fixed arrival rate (or a fixed
iteration budget), aggregates latency and failure metrics, and classifies
the run against declared thresholds for CI/CD gating.

Exit codes:
  0   all thresholds passed
  99  at least one threshold was violated
  98  at least one threshold could not be evaluated
  1   invalid scenario or I/O error`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newValidateCmd())
	root.AddCommand(newHistoryCmd(opts))

	return root
}

// setup installs the logger in the command context. Logs go to stderr so
// stdout carries only reports.
func (o *globalOptions) setup(cmd *cobra.Command) error {
	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	stderr := cmd.ErrOrStderr()
	logger, err := logging.New(stderr, logging.Options{
		Level:    level,
		Format:   logging.Format(o.logFormat),
		UseColor: !o.noColor && output.SupportsColor(stderr),
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.WithLogger(ctx, logger))
	return nil
}

func (o *globalOptions) colors(w io.Writer) *output.ColorScheme {
	if o.noColor || !output.SupportsColor(w) {
		return output.NoColorScheme()
	}
	return output.ForcedColorScheme()
}

// Execute runs the root command with os.Args and returns the process exit
// code.
func Execute() int {
	return run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitPass
	}

	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, "Error:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return ExitError
}
