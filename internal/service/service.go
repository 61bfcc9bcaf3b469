package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ooni-anomaly-watch/internal/alerting"
	"ooni-anomaly-watch/internal/fetcher"
	"ooni-anomaly-watch/internal/stats"
	"ooni-anomaly-watch/internal/storage"
	"ooni-anomaly-watch/internal/watcher"
)

// Options tune one detector instance.
type Options struct {
	CountryCode string
	TestName    string
	LockKey     int64
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Detector runs the polling cycle: fetch each monitored input, fold the
// result into per-day statistics, compare the new anomaly rate against the
// stored one, and alert when the rise exceeds the configured threshold.
type Detector struct {
	opts     Options
	fetcher  fetcher.Fetcher
	store    watcher.StateStore
	notifier alerting.Notifier
	samples  storage.RunSampleStore
	alerts   storage.AlertStore
	locker   storage.AdvisoryLocker
	logger   zerolog.Logger
}

// New constructs a detector. The notifier and both history stores may be
// nil; only state persistence is mandatory.
func New(opts Options, f fetcher.Fetcher, store watcher.StateStore, notifier alerting.Notifier, samples storage.RunSampleStore, alerts storage.AlertStore, logger zerolog.Logger) *Detector {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var locker storage.AdvisoryLocker
	if l, ok := samples.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Detector{
		opts:     opts,
		fetcher:  f,
		store:    store,
		notifier: notifier,
		samples:  samples,
		alerts:   alerts,
		locker:   locker,
		logger:   logger.With().Str("component", "detector").Logger(),
	}
}

// Run executes one full polling cycle over every configured input and
// persists the updated state exactly once at the end. A single input's
// fetch failure never aborts the run; state-store failures do.
func (d *Detector) Run(ctx context.Context) error {
	state, err := d.store.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if !state.Active {
		d.logger.Info().Msg("watcher is inactive; nothing to do")
		return nil
	}
	if err := state.Validate(); err != nil {
		return err
	}

	unlock, proceed, err := d.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		d.logger.Info().Msg("skip run because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	inputs, err := watcher.LoadInputs(state.ListFile)
	if err != nil {
		return err
	}

	rlog, err := openRunLog(state.LogFile)
	if err != nil {
		return err
	}
	defer rlog.Close()

	runID := uuid.NewString()
	rlog.Infof(d.opts.Now(), "Running check:")
	d.logger.Info().Str("run_id", runID).Int("inputs", len(inputs)).Msg("starting run")

	for _, input := range inputs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		d.processInput(ctx, state, rlog, runID, input)
	}

	if err := d.store.Save(state); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	d.logger.Info().Str("run_id", runID).Msg("run complete")
	return nil
}

// processInput advances the per-input state machine for one polling run.
func (d *Detector) processInput(ctx context.Context, state *watcher.State, rlog *runLog, runID, input string) {
	now := d.opts.Now().UTC()
	since := now.AddDate(0, 0, -state.LookbackDays)

	result, err := d.fetcher.Fetch(ctx, fetcher.Query{
		Since:       since,
		Until:       now,
		Input:       input,
		CountryCode: d.opts.CountryCode,
		TestName:    d.opts.TestName,
	})
	if err != nil {
		kind := fetcher.KindOf(err)
		d.logger.Error().Err(err).Str("input", input).Str("kind", string(kind)).Msg("fetch failed")
		rlog.Errorf(now, "Could not retrieve data for url: %s. Error: %s", input, kind)
		d.recordSample(ctx, storage.RunSample{
			RunID:       runID,
			Input:       input,
			WindowSince: stats.Midnight(since),
			WindowUntil: stats.Midnight(now),
			AnomalyRate: stats.NoRate,
			WeirdRate:   stats.NoRate,
			Status:      "errored",
			Error:       strPtr(err.Error()),
		})
		return
	}

	ratio := result.AvgAnomalyRate()
	entry := state.EnsureEntry(input)

	// Zero measurements across the whole window: remember that we looked,
	// but leave the rates untouched.
	if ratio.Equal(stats.NoRate) {
		entry.LastCheck = watcher.Stamp(now)
		d.logger.Debug().Str("input", input).Msg("no measurements in window")
		return
	}

	var change decimal.Decimal
	if entry.CurrentRate.Equal(watcher.RateNever) {
		// First observation for this input; a delta against the sentinel
		// would fire a spurious alert.
		change = decimal.Zero
	} else {
		change = ratio.Sub(entry.CurrentRate)
	}

	entry.PreviousRate = entry.CurrentRate
	entry.CurrentRate = ratio
	entry.Change = &change
	entry.LastCheck = watcher.Stamp(now)
	entry.LastUpdate = watcher.Stamp(now)

	d.recordSample(ctx, storage.RunSample{
		RunID:        runID,
		Input:        input,
		WindowSince:  stats.Midnight(since),
		WindowUntil:  stats.Midnight(now),
		Measurements: result.TotalMeasurements,
		Anomalies:    result.TotalAnomalies,
		Failures:     result.TotalFailures,
		Confirmed:    result.TotalConfirmed,
		AnomalyRate:  ratio,
		WeirdRate:    result.AvgWeirdRate(),
		Change:       &change,
		Status:       "complete",
	})

	d.logger.Info().Str("input", input).
		Str("rate", ratio.String()).
		Str("change", change.String()).
		Msg("input processed")

	// Strict comparison: only rises past the threshold alert, never drops.
	if change.GreaterThan(state.CriticalAnomalyRate) {
		d.alert(ctx, state, rlog, runID, input, entry, change, now)
	}
}

func (d *Detector) alert(ctx context.Context, state *watcher.State, rlog *runLog, runID, input string, entry *watcher.Entry, change decimal.Decimal, now time.Time) {
	rlog.Alertf(now, "Change of %s for url: %s", change.Round(3), input)

	if d.alerts != nil {
		record := storage.AlertRecord{
			RunID:     runID,
			Input:     input,
			Change:    change,
			Threshold: state.CriticalAnomalyRate,
		}
		if _, err := d.alerts.InsertAlert(ctx, record); err != nil {
			d.logger.Error().Err(err).Str("input", input).Msg("failed to persist alert record")
		}
	}

	if d.notifier == nil {
		d.logger.Warn().Str("input", input).Msg("alert raised but no notifier configured")
		return
	}

	note := alerting.Notification{
		Input:        input,
		Change:       change,
		Threshold:    state.CriticalAnomalyRate,
		PreviousRate: entry.PreviousRate,
		CurrentRate:  entry.CurrentRate,
		When:         now,
	}
	if err := d.notifier.Notify(ctx, note); err != nil {
		d.logger.Error().Err(err).Str("input", input).Msg("failed to dispatch alert")
		rlog.Errorf(now, "Could not send notification for url %s of anomaly with change %s", input, change.Round(4))
	}
}

func (d *Detector) recordSample(ctx context.Context, sample storage.RunSample) {
	if d.samples == nil {
		return
	}
	if err := d.samples.InsertRunSample(ctx, sample); err != nil {
		d.logger.Error().Err(err).Str("input", sample.Input).Msg("failed to persist run sample")
	}
}

func (d *Detector) acquireLock(ctx context.Context) (func(), bool, error) {
	if d.opts.LockKey == 0 || d.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := d.locker.TryAdvisoryLock(ctx, d.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func strPtr(s string) *string {
	return &s
}
