package cli

import (
	"github.com/spf13/cobra"

	"ooni-anomaly-watch/internal/app"
)

var (
	setCriticalRate float64
	setLookbackDays int
	setActive       bool
	setListFile     string
	setEmailTo      string
	setEmailFrom    string
)

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Change persisted watcher settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts app.SetOptions
		flags := cmd.Flags()

		if flags.Changed("critical-rate") {
			opts.CriticalRate = &setCriticalRate
		}
		if flags.Changed("lookback-days") {
			opts.LookbackDays = &setLookbackDays
		}
		if flags.Changed("active") {
			opts.Active = &setActive
		}
		if flags.Changed("file") {
			opts.ListFile = &setListFile
		}
		if flags.Changed("email-to") {
			opts.NotifyAddress = &setEmailTo
		}
		if flags.Changed("email-from") {
			opts.SenderAddress = &setEmailFrom
		}

		return getApp().Set(opts)
	},
}

func init() {
	setCmd.Flags().Float64Var(&setCriticalRate, "critical-rate", 0, "Anomaly rate increase that triggers an alert")
	setCmd.Flags().IntVar(&setLookbackDays, "lookback-days", 0, "Days of measurements to aggregate per check")
	setCmd.Flags().BoolVar(&setActive, "active", true, "Whether checks actually run")
	setCmd.Flags().StringVar(&setListFile, "file", "", "Path to the url list, one url per line")
	setCmd.Flags().StringVar(&setEmailTo, "email-to", "", "Address to notify on alerts")
	setCmd.Flags().StringVar(&setEmailFrom, "email-from", "", "Sender address for alert mail")
}
