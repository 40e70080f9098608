package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/loadcheck/internal/history"
	lchttp "github.com/wesleyorama2/loadcheck/internal/http"
	"github.com/wesleyorama2/loadcheck/internal/logging"
	"github.com/wesleyorama2/loadcheck/internal/output"
	"github.com/wesleyorama2/loadcheck/internal/performance/config"
	"github.com/wesleyorama2/loadcheck/internal/performance/engine"
	"github.com/wesleyorama2/loadcheck/internal/performance/threshold"
)

type runOptions struct {
	*globalOptions

	format       string
	outFile      string
	quiet        bool
	vars         map[string]string
	evalInterval time.Duration
	insecure     bool
	historyFile  string
	noHistory    bool
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{globalOptions: global}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario and gate on its thresholds",
		Long: `Run the scenario declared in a YAML or JSON file.

The run stops when the schedule completes, when an abort-on-fail threshold
is violated, or on SIGINT/SIGTERM. The exit code reflects the verdict:
0 pass, 99 fail, 98 inconclusive, 1 invalid scenario.

Examples:
  loadcheck run scenarios/product_read.yaml
  loadcheck run scenarios/order_race.yaml --var baseUrl=http://staging:8000
  loadcheck run scenarios/order_high_volume.yaml -o junit --out report.xml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.format, "output", "o", "text", "Report format on stdout (text, json, yaml, junit)")
	cmd.Flags().StringVar(&opts.outFile, "out", "", "Also write the report to this file (format from extension)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Disable progress output, show only the verdict")
	cmd.Flags().StringToStringVar(&opts.vars, "var", nil, "Override a scenario variable (name=value, repeatable)")
	cmd.Flags().DurationVar(&opts.evalInterval, "eval-interval", engine.DefaultEvaluationInterval, "Threshold evaluation and progress interval")
	cmd.Flags().BoolVar(&opts.insecure, "insecure", false, "Skip TLS certificate verification")
	cmd.Flags().StringVar(&opts.historyFile, "history-file", "", "Run history database (default ~/.loadcheck/history.db)")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "Do not record this run in the history")

	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, path string) error {
	format, err := output.ParseFormat(o.format)
	if err != nil {
		return &ExitCodeError{Code: ExitError, Err: err}
	}

	plan, workload, err := loadScenario(path, o.vars, o.insecure)
	if err != nil {
		return &ExitCodeError{Code: ExitError, Err: err}
	}

	stdout := cmd.OutOrStdout()
	// Progress goes to stderr when stdout carries a machine-readable report.
	progressOut := stdout
	if format != output.FormatText {
		progressOut = cmd.ErrOrStderr()
	}
	console := output.NewConsole(output.ConsoleConfig{
		Writer: progressOut,
		Colors: o.colors(progressOut),
		Quiet:  o.quiet,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := logging.FromContext(ctx)

	eng, err := engine.New(plan, workload,
		engine.WithLogger(logger),
		engine.WithObserver(console),
		engine.WithEvaluationInterval(o.evalInterval),
	)
	if err != nil {
		return &ExitCodeError{Code: ExitError, Err: err}
	}
	console.SetProgress(eng.Progress)

	console.PrintHeader(plan)
	report, err := eng.Run(ctx)
	if err != nil {
		return &ExitCodeError{Code: ExitError, Err: err}
	}

	if format == output.FormatText {
		console.PrintSummary(report)
	} else {
		if !o.quiet {
			console.PrintSummary(report)
		}
		if err := output.WriteReport(stdout, report, format, nil); err != nil {
			return &ExitCodeError{Code: ExitError, Err: fmt.Errorf("failed to write report: %w", err)}
		}
	}

	if o.outFile != "" {
		if err := writeReportFile(o.outFile, report); err != nil {
			return &ExitCodeError{Code: ExitError, Err: err}
		}
		logger.Info("report written", "path", o.outFile)
	}

	if !o.noHistory {
		if err := o.record(report); err != nil {
			logger.Warn("failed to record run history", "error", err)
		}
	}

	return verdictExit(report)
}

// loadScenario compiles the scenario at path with the CLI's client identity.
func loadScenario(path string, overrides map[string]string, insecure bool) (*config.Plan, *lchttp.Workload, error) {
	return lchttp.LoadScenario(path, overrides, insecure, lchttp.WithHeader("User-Agent", "loadcheck/"+version))
}

func (o *runOptions) record(report *engine.Report) error {
	path := o.historyFile
	if path == "" {
		var err error
		if path, err = history.DefaultPath(); err != nil {
			return err
		}
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(history.EntryFromReport(report))
}

func writeReportFile(path string, report *engine.Report) error {
	var format output.OutputFormat
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = output.FormatJSON
	case ".yaml", ".yml":
		format = output.FormatYAML
	case ".xml":
		format = output.FormatJUnit
	default:
		format = output.FormatText
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	var console *output.Console
	if format == output.FormatText {
		console = output.NewConsole(output.ConsoleConfig{Writer: f, Colors: output.NoColorScheme()})
	}
	if err := output.WriteReport(f, report, format, console); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return f.Close()
}

// verdictExit maps the verdict status to the process exit code.
func verdictExit(report *engine.Report) error {
	switch report.Status() {
	case threshold.StatusPass:
		return nil
	case threshold.StatusFail:
		return &ExitCodeError{Code: ExitFail}
	default:
		return &ExitCodeError{Code: ExitInconclusive}
	}
}
