package app

import (
	"fmt"
	"path/filepath"

	"github.com/shopspring/decimal"
)

// SetOptions carries settings to change. Nil fields are left untouched.
type SetOptions struct {
	CriticalRate  *float64
	LookbackDays  *int
	Active        *bool
	ListFile      *string
	NotifyAddress *string
	SenderAddress *string
}

func (o SetOptions) empty() bool {
	return o.CriticalRate == nil && o.LookbackDays == nil && o.Active == nil &&
		o.ListFile == nil && o.NotifyAddress == nil && o.SenderAddress == nil
}

// Set mutates persisted watcher settings and saves the state.
func (a *App) Set(opts SetOptions) error {
	if opts.empty() {
		return fmt.Errorf("nothing to change")
	}

	store, err := a.stateStore()
	if err != nil {
		return err
	}
	state, err := store.Load()
	if err != nil {
		return err
	}

	if opts.CriticalRate != nil {
		state.CriticalAnomalyRate = decimal.NewFromFloat(*opts.CriticalRate)
	}
	if opts.LookbackDays != nil {
		state.LookbackDays = *opts.LookbackDays
	}
	if opts.Active != nil {
		state.Active = *opts.Active
	}
	if opts.ListFile != nil {
		abs, absErr := filepath.Abs(*opts.ListFile)
		if absErr != nil {
			return fmt.Errorf("resolve list file: %w", absErr)
		}
		state.ListFile = abs
	}
	if opts.NotifyAddress != nil {
		state.NotifyAddress = *opts.NotifyAddress
	}
	if opts.SenderAddress != nil {
		state.SenderAddress = *opts.SenderAddress
	}

	if err := state.Validate(); err != nil {
		return err
	}
	if err := store.Save(state); err != nil {
		return err
	}

	a.Logger.Info().Str("state_file", store.Path()).Msg("settings updated")
	return nil
}
