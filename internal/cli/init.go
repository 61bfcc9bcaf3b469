package cli

import (
	"github.com/spf13/cobra"

	"ooni-anomaly-watch/internal/app"
)

var (
	initListFile     string
	initLogFile      string
	initCriticalRate float64
	initLookbackDays int
	initActive       bool
	initEmailTo      string
	initEmailFrom    string
	initForce        bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the watcher state for a url list",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.InitOptions{
			ListFile:      initListFile,
			LogFile:       initLogFile,
			CriticalRate:  initCriticalRate,
			LookbackDays:  initLookbackDays,
			Active:        initActive,
			NotifyAddress: initEmailTo,
			SenderAddress: initEmailFrom,
			Force:         initForce,
		}

		return getApp().Init(opts)
	},
}

func init() {
	initCmd.Flags().StringVar(&initListFile, "file", "", "Path to the url list, one url per line")
	initCmd.Flags().StringVar(&initLogFile, "log-file", "", "Path to the run log (defaults inside the state dir)")
	initCmd.Flags().Float64Var(&initCriticalRate, "critical-rate", 0.1, "Anomaly rate increase that triggers an alert")
	initCmd.Flags().IntVar(&initLookbackDays, "lookback-days", 1, "Days of measurements to aggregate per check")
	initCmd.Flags().BoolVar(&initActive, "active", true, "Whether checks actually run")
	initCmd.Flags().StringVar(&initEmailTo, "email-to", "", "Address to notify on alerts")
	initCmd.Flags().StringVar(&initEmailFrom, "email-from", "", "Sender address for alert mail")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Replace an existing state file")

	_ = initCmd.MarkFlagRequired("file")
}
