package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"ooni-anomaly-watch/internal/watcher"
)

// Show prints the persisted settings and the per-input entry table.
func (a *App) Show() error {
	store, err := a.stateStore()
	if err != nil {
		return err
	}
	state, err := store.Load()
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "List file: %s\n", state.ListFile)
	fmt.Fprintf(os.Stdout, "Critical anomaly rate: %s\n", state.CriticalAnomalyRate)
	fmt.Fprintf(os.Stdout, "Lookback: %d day(s)\n", state.LookbackDays)
	fmt.Fprintf(os.Stdout, "Notifying: %s (from %s)\n", state.NotifyAddress, state.SenderAddress)
	fmt.Fprintf(os.Stdout, "Active: %t\n\n", state.Active)

	if len(state.URLs) == 0 {
		fmt.Fprintln(os.Stdout, "no inputs tracked yet")
		return nil
	}

	inputs := make([]string, 0, len(state.URLs))
	for input := range state.URLs {
		inputs = append(inputs, input)
	}
	sort.Strings(inputs)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Input\tLast check\tLast update\tPrevious rate\tCurrent rate\tChange")

	for _, input := range inputs {
		entry := state.URLs[input]
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			input,
			formatStamp(entry.LastCheck),
			formatStamp(entry.LastUpdate),
			formatRate(entry.PreviousRate),
			formatRate(entry.CurrentRate),
			formatChange(entry.Change),
		)
	}

	return writer.Flush()
}

// ShowHistory prints the most recent run samples and alerts from the
// database. Requires database.dsn to be configured.
func (a *App) ShowHistory(ctx context.Context, limit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("database.dsn is not configured; no history to show")
	}
	if closeStore != nil {
		defer closeStore()
	}

	total, err := store.CountSamples(ctx)
	if err != nil {
		return err
	}
	samples, err := store.ListRecentSamples(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Stored samples: %d\n\n", total)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created\tInput\tMeasurements\tAnomaly rate\tChange\tStatus")
	for _, s := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%s\t%s\n",
			s.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			s.Input,
			s.Measurements,
			formatRate(s.AnomalyRate),
			formatChange(s.Change),
			s.Status,
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		return nil
	}

	fmt.Fprintln(os.Stdout, "\nRecent alerts:")
	writer = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created\tInput\tChange\tThreshold")
	for _, al := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			al.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			al.Input,
			al.Change.StringFixed(3),
			al.Threshold.StringFixed(3),
		)
	}
	return writer.Flush()
}

// PruneAlerts removes stored alert records older than the cutoff.
func (a *App) PruneAlerts(ctx context.Context, olderThan time.Time) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("database.dsn is not configured; nothing to prune")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if err := store.DeleteAlertsBefore(ctx, olderThan); err != nil {
		return err
	}
	a.Logger.Info().Time("older_than", olderThan).Msg("pruned alert history")
	return nil
}

func formatStamp(t *watcher.Timestamp) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func formatRate(rate decimal.Decimal) string {
	if rate.Equal(watcher.RateNever) {
		return "n/a"
	}
	return rate.StringFixed(3)
}

func formatChange(change *decimal.Decimal) string {
	if change == nil {
		return "no change to show"
	}
	return change.StringFixed(3)
}
