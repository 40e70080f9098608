package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/loadcheck/internal/history"
	"github.com/wesleyorama2/loadcheck/internal/output"
)

func newHistoryCmd(global *globalOptions) *cobra.Command {
	var (
		path    string
		limit   int
		asJSON  bool
		prune   int
		showRun string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List previous runs and their verdicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("prune") && prune < 0 {
				return &ExitCodeError{Code: ExitError, Err: fmt.Errorf("--prune must be >= 0, got %d", prune)}
			}
			if path == "" {
				var err error
				if path, err = history.DefaultPath(); err != nil {
					return &ExitCodeError{Code: ExitError, Err: err}
				}
			}
			store, err := history.Open(path)
			if err != nil {
				return &ExitCodeError{Code: ExitError, Err: err}
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if cmd.Flags().Changed("prune") {
				removed, err := store.Prune(prune)
				if err != nil {
					return &ExitCodeError{Code: ExitError, Err: err}
				}
				fmt.Fprintf(out, "Removed %d run(s).\n", removed)
				return nil
			}

			var entries []history.Entry
			if showRun != "" {
				e, err := store.Get(showRun)
				if err != nil {
					return &ExitCodeError{Code: ExitError, Err: err}
				}
				entries = []history.Entry{*e}
			} else if entries, err = store.List(limit); err != nil {
				return &ExitCodeError{Code: ExitError, Err: err}
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if entries == nil {
					entries = []history.Entry{}
				}
				return enc.Encode(entries)
			}

			console := output.NewConsole(output.ConsoleConfig{Writer: out, Colors: global.colors(out)})
			console.PrintHistory(entries)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "history-file", "", "Run history database (default ~/.loadcheck/history.db)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	cmd.Flags().IntVar(&prune, "prune", 0, "Delete all but the newest N runs")
	cmd.Flags().StringVar(&showRun, "run", "", "Show only the run with this ID")

	return cmd
}
