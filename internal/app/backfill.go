package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"ooni-anomaly-watch/internal/fetcher"
	"ooni-anomaly-watch/internal/stats"
	"ooni-anomaly-watch/internal/storage"
	"ooni-anomaly-watch/internal/watcher"
)

// BackfillOptions control a historical import.
type BackfillOptions struct {
	From    time.Time
	To      time.Time
	DryRun  bool
	Workers int
}

// Backfill fetches per-day statistics over a historical window for every
// monitored input and stores them as run samples. No state is mutated and
// no alerts fire; the samples only feed show and export.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	since := stats.Midnight(opts.From)
	until := stats.Midnight(opts.To)
	if since.After(until) {
		return errors.New("backfill window is empty, check --from/--to")
	}

	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	var store *storage.Store
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing will be written to the database")
	} else {
		var closeStore func()
		var err error
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn is not configured; cannot backfill")
		}
		if closeStore != nil {
			defer closeStore()
		}
	}

	stateStore, err := a.stateStore()
	if err != nil {
		return err
	}
	state, err := stateStore.Load()
	if err != nil {
		return err
	}
	inputs, err := watcher.LoadInputs(state.ListFile)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return errors.New("no inputs to backfill")
	}

	source := a.newFetcher()
	runID := uuid.NewString()

	jobs := make(chan string)
	var wg sync.WaitGroup
	var mu sync.Mutex
	processed, failed := 0, 0

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for input := range jobs {
				days, fetchErr := a.backfillInput(ctx, source, store, runID, input, since, until)
				mu.Lock()
				if fetchErr != nil {
					failed++
					a.Logger.Error().Err(fetchErr).Str("input", input).Msg("backfill failed for input")
				} else {
					processed += days
				}
				mu.Unlock()
			}
		}()
	}

	for _, input := range inputs {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		case jobs <- input:
		}
	}
	close(jobs)
	wg.Wait()

	a.Logger.Info().Int("days", processed).Int("failed_inputs", failed).Msg("backfill finished")
	if failed > 0 {
		return errors.New("some inputs failed to backfill, check the logs")
	}
	return nil
}

func (a *App) backfillInput(ctx context.Context, source fetcher.Fetcher, store *storage.Store, runID, input string, since, until time.Time) (int, error) {
	result, err := source.Fetch(ctx, fetcher.Query{
		Since:       since,
		Until:       until,
		Input:       input,
		CountryCode: a.Config.OONI.CountryCode,
		TestName:    a.Config.OONI.TestName,
	})
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, day := range result.Days() {
		sample := storage.RunSample{
			RunID:        runID,
			Input:        input,
			WindowSince:  day.Day,
			WindowUntil:  day.Day.AddDate(0, 0, 1),
			Measurements: day.Measurements,
			Anomalies:    day.Anomalies,
			Failures:     day.Failures,
			Confirmed:    day.Confirmed,
			AnomalyRate:  stats.NoRate,
			WeirdRate:    stats.NoRate,
			Status:       "backfill",
		}
		if day.AnomalyRatio != nil {
			sample.AnomalyRate = *day.AnomalyRatio
		}
		if day.WeirdRatio != nil {
			sample.WeirdRate = *day.WeirdRatio
		}

		if store == nil {
			a.Logger.Debug().Str("input", input).Time("day", day.Day).Msg("dry-run, skipping insert")
			stored++
			continue
		}
		if err := store.InsertRunSample(ctx, sample); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}
