package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pruneOlderThan string

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stored alerts older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOlderThan == "" {
			return fmt.Errorf("--older-than must be provided")
		}
		age, err := time.ParseDuration(pruneOlderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than value: %w", err)
		}
		if age <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}

		cutoff := time.Now().UTC().Add(-age)
		return getApp().PruneAlerts(cmd.Context(), cutoff)
	},
}

func init() {
	pruneCmd.Flags().StringVar(&pruneOlderThan, "older-than", "", "Age of alerts to delete, as a duration (e.g. 2160h for 90 days)")

	_ = pruneCmd.MarkFlagRequired("older-than")
}
