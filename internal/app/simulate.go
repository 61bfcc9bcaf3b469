package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"ooni-anomaly-watch/internal/fetcher"
	"ooni-anomaly-watch/internal/service"
	"ooni-anomaly-watch/internal/stats"
	"ooni-anomaly-watch/internal/watcher"
)

// SimulateAlert drives one check cycle for a single input with fabricated
// anomaly rates, exercising the real detection and notification path.
func (a *App) SimulateAlert(ctx context.Context, input string, previous, current decimal.Decimal) error {
	if input == "" {
		return errors.New("--input must be provided")
	}
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel is configured")
	}

	dir, err := os.MkdirTemp("", "ooniwatch-simulate-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	listFile := filepath.Join(dir, "inputs.txt")
	if err := os.WriteFile(listFile, []byte(input+"\n"), 0o644); err != nil {
		return err
	}

	state := watcher.NewState()
	state.ListFile = listFile
	state.CriticalAnomalyRate = decimal.NewFromFloat(a.Config.Watcher.CriticalAnomalyRate)
	if a.Config.Watcher.LookbackDays > 0 {
		state.LookbackDays = a.Config.Watcher.LookbackDays
	}
	entry := state.EnsureEntry(input)
	entry.CurrentRate = previous

	det := service.New(service.Options{
		CountryCode: a.Config.OONI.CountryCode,
		TestName:    a.Config.OONI.TestName,
	}, &staticFetcher{rate: current}, &memoryStateStore{state: state}, notifier, nil, nil, a.Logger)

	return det.Run(ctx)
}

// staticFetcher serves a single day whose anomaly rate equals the
// configured value, regardless of the requested window.
type staticFetcher struct {
	rate decimal.Decimal
}

func (s *staticFetcher) Fetch(ctx context.Context, q fetcher.Query) (*stats.RangeStats, error) {
	const scale = 100000
	anomalies := int(s.rate.Mul(decimal.NewFromInt(scale)).IntPart())
	day, err := stats.NewDayStats(stats.Midnight(time.Now().UTC()), q.Input, scale, anomalies, 0, 0)
	if err != nil {
		return nil, err
	}

	return stats.NewRangeStats([]stats.DayStats{day}), nil
}

// memoryStateStore holds state in memory so a simulated run never touches
// the persisted watcher file.
type memoryStateStore struct {
	state *watcher.State
}

func (m *memoryStateStore) Load() (*watcher.State, error) { return m.state, nil }

func (m *memoryStateStore) Save(state *watcher.State) error {
	m.state = state
	return nil
}

var _ fetcher.Fetcher = (*staticFetcher)(nil)
var _ watcher.StateStore = (*memoryStateStore)(nil)
