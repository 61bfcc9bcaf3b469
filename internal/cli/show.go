package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var showRecent int

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display watcher settings and per-url rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("recent") {
			if showRecent <= 0 {
				return fmt.Errorf("--recent must be greater than zero")
			}
			return getApp().ShowHistory(cmd.Context(), showRecent)
		}
		return getApp().Show()
	},
}

func init() {
	showCmd.Flags().IntVar(&showRecent, "recent", 0, "Show the N most recent stored samples and alerts instead of the state file")
}
