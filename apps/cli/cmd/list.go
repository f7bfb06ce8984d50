package cmd

import (
	"fmt"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/runner"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the steps of the smoke scenario",
	Long: `List the requests the smoke scenario sends, in order, without
contacting the server.

Examples:
  aidb-smoke list`,
	Args: cobra.NoArgs,
	RunE: listCommand,
}

func listCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for i, step := range runner.Plan() {
		fmt.Fprintf(out, "%d. %s (%s)\n", i+1, step.Title, step.Name)
		fmt.Fprintf(out, "   %s %s\n", step.Method, step.Path)
		if step.Body != "" {
			fmt.Fprintf(out, "   body: %s\n", step.Body)
		}
		if step.Tolerated {
			fmt.Fprintf(out, "   failure tolerated\n")
		}
	}
	return nil
}
