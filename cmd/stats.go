package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show vector store statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	stats := a.store.Stats(ctx)
	if jsonOutput {
		return outputJSON(stats)
	}

	fmt.Printf("Mode:         %s\n", stats.Mode)
	fmt.Printf("Location:     %s\n", stats.Location)
	fmt.Printf("Collection:   %s (%d dimensions, %s)\n", stats.Collection.Name, stats.Collection.Dimension, stats.Collection.Metric)
	fmt.Printf("Faces:        %d\n", stats.Count)
	fmt.Printf("Unclassified: %d\n", stats.Unclassified)
	return nil
}
