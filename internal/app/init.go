package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"ooni-anomaly-watch/internal/watcher"
)

// InitOptions hold parameters for creating the watcher state.
type InitOptions struct {
	ListFile      string
	LogFile       string
	CriticalRate  float64
	LookbackDays  int
	Active        bool
	NotifyAddress string
	SenderAddress string
	Force         bool
}

// Init creates the local state dir, log file, and initial state file.
// An existing state file is only replaced with Force.
func (a *App) Init(opts InitOptions) error {
	if opts.ListFile == "" {
		return fmt.Errorf("an input list file is required")
	}
	listFile, err := filepath.Abs(opts.ListFile)
	if err != nil {
		return fmt.Errorf("resolve list file: %w", err)
	}
	if _, err := os.Stat(listFile); err != nil {
		return fmt.Errorf("input list not readable: %w", err)
	}

	dir, err := a.StateDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}

	store, err := a.stateStore()
	if err != nil {
		return err
	}
	if store.Exists() && !opts.Force {
		return fmt.Errorf("state file %s already exists; use --force to replace it", store.Path())
	}

	logFile := opts.LogFile
	if logFile == "" {
		logFile = filepath.Join(dir, "watch.log")
	}
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create log file %s: %w", logFile, err)
	}
	f.Close()

	state := watcher.NewState()
	state.Active = opts.Active
	state.ListFile = listFile
	state.LogFile = logFile
	state.NotifyAddress = opts.NotifyAddress
	state.SenderAddress = opts.SenderAddress
	if opts.LookbackDays > 0 {
		state.LookbackDays = opts.LookbackDays
	}
	if opts.CriticalRate > 0 {
		state.CriticalAnomalyRate = decimal.NewFromFloat(opts.CriticalRate)
	}
	if err := state.Validate(); err != nil {
		return err
	}

	if err := store.Save(state); err != nil {
		return err
	}

	a.Logger.Info().Str("state_file", store.Path()).Str("list_file", listFile).Msg("watcher initialised")
	return nil
}
