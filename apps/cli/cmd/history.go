package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/history"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	historyDBFlag     string
	historyLimitFlag  int
	historyOutputFlag string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded smoke runs",
	Long: `List smoke runs recorded with 'aidb-smoke run --history', most recent first.

Examples:
  aidb-smoke history --history smoke.db
  aidb-smoke history --history postgres://user:pass@db/smoke --limit 5 -o json`,
	Args: cobra.NoArgs,
	RunE: historyCommand,
}

func init() {
	historyCmd.Flags().StringVar(&historyDBFlag, "history", getEnvString("AIDB_HISTORY", ""), "History database (sqlite path or postgres:// URL) (env: AIDB_HISTORY)")
	historyCmd.Flags().IntVar(&historyLimitFlag, "limit", 20, "Maximum number of runs to show (0 for all)")
	historyCmd.Flags().StringVarP(&historyOutputFlag, "output", "o", "console", "Output format: console, json")
}

func historyCommand(cmd *cobra.Command, args []string) error {
	if historyDBFlag == "" {
		return usageError(fmt.Errorf("--history is required"))
	}

	store, err := history.Open(cmd.Context(), historyDBFlag)
	if err != nil {
		return configError(fmt.Errorf("opening history: %w", err))
	}
	defer store.Close()

	runs, err := store.List(cmd.Context(), historyLimitFlag)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch strings.ToLower(historyOutputFlag) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if runs == nil {
			runs = []*history.Record{}
		}
		return enc.Encode(runs)
	case "console", "":
	default:
		return usageError(fmt.Errorf("unknown output format %q (want console or json)", historyOutputFlag))
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}

	passed := color.New(color.FgGreen).SprintFunc()
	failed := color.New(color.FgRed).SprintFunc()
	for _, run := range runs {
		status := passed("PASS")
		if !run.Passed {
			status = failed("FAIL")
		}
		fmt.Fprintf(out, "%s  %s  %s  %s  %s\n",
			status,
			run.Started.Local().Format(time.DateTime),
			run.ID,
			run.BaseURL,
			run.Duration.Round(time.Millisecond),
		)
		if !run.Passed && run.Error != "" {
			fmt.Fprintf(out, "      %s\n", run.Error)
		}
	}
	return nil
}
