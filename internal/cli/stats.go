package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"webrag/internal/adapter/store"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge collection statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}

// Stats describes the knowledge collection.
type Stats struct {
	Collection string `json:"collection"`
	Backend    string `json:"backend"`
	Model      string `json:"model"`
	Dimension  int    `json:"dimension"`
	Distance   string `json:"distance"`
	Records    int    `json:"records"`
	CreatedAt  string `json:"created_at,omitempty"`
}

type collectionInfoer interface {
	Info() *store.CollectionInfo
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	cfg := GetConfig()

	d, err := buildDeps(ctx, cfg, GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer d.Close()

	count, err := d.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count records: %w", err)
	}

	stats := Stats{
		Collection: cfg.Store.Collection,
		Backend:    cfg.Store.Backend,
		Model:      d.embedder.ModelName(),
		Dimension:  d.embedder.Dimension(),
		Distance:   cfg.Store.Distance,
		Records:    count,
	}
	if s, ok := d.store.(collectionInfoer); ok {
		if info := s.Info(); info != nil {
			stats.CreatedAt = info.CreatedAt.Format(time.RFC3339)
		}
	}

	if statsJSON {
		output, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Fprintln(out, string(output))
		return nil
	}

	fmt.Fprintf(out, "Collection: %s (%s)\n", stats.Collection, stats.Backend)
	fmt.Fprintf(out, "Model:      %s (%d dims, %s)\n", stats.Model, stats.Dimension, stats.Distance)
	fmt.Fprintf(out, "Records:    %d\n", stats.Records)
	if stats.CreatedAt != "" {
		fmt.Fprintf(out, "Created:    %s\n", stats.CreatedAt)
	}
	return nil
}
