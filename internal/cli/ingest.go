package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ingestQuery string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Search and store sources without answering",
	Long: `Run the search and store stages for a query so later questions can use
the stored sources.

Examples:
  webrag ingest -q "vector database"`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVarP(&ingestQuery, "query", "q", "", "search query (required)")
	ingestCmd.MarkFlagRequired("query")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	d, err := buildDeps(ctx, GetConfig(), GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer d.Close()

	d.ask.SetProgress(newProgress(out, false))

	result, err := d.ask.Ingest(ctx, ingestQuery)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	fmt.Fprintf(out, "\nFetched %d sources, stored %d", result.Fetched, result.Stored)
	if result.Empty > 0 || result.Duplicates > 0 {
		fmt.Fprintf(out, " (%d empty, %d already stored)", result.Empty, result.Duplicates)
	}
	fmt.Fprintln(out)
	return nil
}
