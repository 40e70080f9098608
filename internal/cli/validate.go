package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/loadcheck/internal/performance/config"
	"github.com/wesleyorama2/loadcheck/internal/performance/executor"
)

func newValidateCmd() *cobra.Command {
	var vars map[string]string

	cmd := &cobra.Command{
		Use:   "validate <scenario>",
		Short: "Check a scenario file without running it",
		Long: `Validate schema, executor parameters, thresholds, request templates and
checks of a scenario file. Every problem found is reported at once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, workload, err := loadScenario(args[0], vars, false)
			if err != nil {
				return &ExitCodeError{Code: ExitError, Err: describeConfigError(err)}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ %s is valid\n", args[0])
			fmt.Fprintf(out, "  scenario:   %s\n", plan.Name)
			if desc := executor.Describe(executor.Type(plan.Executor)); desc != nil {
				fmt.Fprintf(out, "  executor:   %s (%s)\n", plan.Executor, desc.Name)
			} else {
				fmt.Fprintf(out, "  executor:   %s\n", plan.Executor)
			}
			switch plan.Executor {
			case config.ExecutorConstantArrivalRate:
				fmt.Fprintf(out, "  schedule:   %g/%s for %s\n", plan.ArrivalRate, plan.TimeUnit, plan.Duration)
				fmt.Fprintf(out, "  contexts:   %d-%d\n", plan.MinContexts, plan.MaxContexts)
			case config.ExecutorSharedIterations:
				fmt.Fprintf(out, "  schedule:   %d iterations, max %s\n", plan.Iterations, plan.MaxDuration)
				fmt.Fprintf(out, "  contexts:   %d\n", plan.VUs)
			}
			for _, t := range plan.Thresholds {
				abort := ""
				if t.AbortOnFail {
					abort = " (abort on fail)"
				}
				fmt.Fprintf(out, "  threshold:  %s%s\n", t, abort)
			}
			for _, name := range workload.CheckNames() {
				fmt.Fprintf(out, "  check:      %s\n", name)
			}
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&vars, "var", nil, "Override a scenario variable (name=value, repeatable)")
	return cmd
}

// describeConfigError unwraps a ConfigError so the source is printed once.
func describeConfigError(err error) error {
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return fmt.Errorf("%s: %w", cfgErr.Source, cfgErr.Err)
	}
	return err
}
