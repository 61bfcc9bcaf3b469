package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateInput    string
	simulatePrevious float64
	simulateCurrent  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Feed fabricated anomaly rates through the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrevious < 0 || simulateCurrent < 0 {
			return errors.New("--previous and --current must not be negative")
		}

		previous := decimal.NewFromFloat(simulatePrevious)
		current := decimal.NewFromFloat(simulateCurrent)
		return getApp().SimulateAlert(cmd.Context(), simulateInput, previous, current)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateInput, "input", "", "Url to simulate")
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous", 0, "Stored anomaly rate before the check")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "Anomaly rate observed by the check")

	_ = simulateCmd.MarkFlagRequired("input")
}
