package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ooni-anomaly-watch/internal/alerting"
	"ooni-anomaly-watch/internal/fetcher"
	"ooni-anomaly-watch/internal/stats"
	"ooni-anomaly-watch/internal/watcher"
)

type fetchResult struct {
	r   *stats.RangeStats
	err error
}

type fakeFetcher struct {
	results map[string]fetchResult
	queries []fetcher.Query
}

func (f *fakeFetcher) Fetch(ctx context.Context, q fetcher.Query) (*stats.RangeStats, error) {
	f.queries = append(f.queries, q)
	res, ok := f.results[q.Input]
	if !ok {
		return stats.NewRangeStats(nil), nil
	}
	return res.r, res.err
}

type memStore struct {
	state   *watcher.State
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load() (*watcher.State, error) {
	if m.loadErr != nil {
		return watcher.NewState(), m.loadErr
	}
	return m.state, nil
}

func (m *memStore) Save(state *watcher.State) error {
	m.saves++
	return m.saveErr
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	r.notes = append(r.notes, note)
	return nil
}

func rangeWithRate(t *testing.T, measurements, anomalies int) *stats.RangeStats {
	t.Helper()
	day, err := stats.NewDayStats(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), "", measurements, anomalies, 0, 0)
	if err != nil {
		t.Fatalf("build day: %v", err)
	}
	return stats.NewRangeStats([]stats.DayStats{day})
}

func writeInputList(t *testing.T, inputs ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "urls.txt")
	if err := os.WriteFile(path, []byte(strings.Join(inputs, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write input list: %v", err)
	}
	return path
}

func testState(t *testing.T, inputs ...string) *watcher.State {
	state := watcher.NewState()
	state.ListFile = writeInputList(t, inputs...)
	state.CriticalAnomalyRate = decimal.NewFromFloat(0.1)
	return state
}

func newDetector(f fetcher.Fetcher, store watcher.StateStore, notifier alerting.Notifier, now time.Time) *Detector {
	opts := Options{Now: func() time.Time { return now }}
	return New(opts, f, store, notifier, nil, nil, zerolog.Nop())
}

func TestRunFirstObservation(t *testing.T) {
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	state := testState(t, "example.com")
	store := &memStore{state: state}
	ff := &fakeFetcher{results: map[string]fetchResult{
		"example.com": {r: rangeWithRate(t, 10, 2)},
	}}
	notifier := &recordingNotifier{}

	if err := newDetector(ff, store, notifier, now).Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	entry := state.URLs["example.com"]
	if entry == nil {
		t.Fatal("entry should exist after run")
	}
	if !entry.PreviousRate.Equal(watcher.RateNever) {
		t.Fatalf("previous rate = %s, want sentinel", entry.PreviousRate)
	}
	if !entry.CurrentRate.Equal(decimal.NewFromFloat(0.2)) {
		t.Fatalf("current rate = %s, want 0.2", entry.CurrentRate)
	}
	if entry.Change == nil || !entry.Change.IsZero() {
		t.Fatalf("first observation change should be 0, got %v", entry.Change)
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("first observation must not alert: %+v", notifier.notes)
	}
	if entry.LastCheck == nil || entry.LastUpdate == nil {
		t.Fatal("timestamps should be set")
	}
	if store.saves != 1 {
		t.Fatalf("state should be saved exactly once, got %d", store.saves)
	}
}

func TestRunNoDataBranch(t *testing.T) {
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	state := testState(t, "example.com")
	prior := state.EnsureEntry("example.com")
	prior.CurrentRate = decimal.NewFromFloat(0.05)

	store := &memStore{state: state}
	ff := &fakeFetcher{results: map[string]fetchResult{
		"example.com": {r: rangeWithRate(t, 0, 0)},
	}}
	notifier := &recordingNotifier{}

	if err := newDetector(ff, store, notifier, now).Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	entry := state.URLs["example.com"]
	if !entry.CurrentRate.Equal(decimal.NewFromFloat(0.05)) {
		t.Fatalf("no-data run must not touch current rate: %s", entry.CurrentRate)
	}
	if entry.Change != nil || entry.LastUpdate != nil {
		t.Fatalf("no-data run must not touch change or last update: %+v", entry)
	}
	if entry.LastCheck == nil {
		t.Fatal("no-data run should still record the check time")
	}
	if len(notifier.notes) != 0 {
		t.Fatal("no-data run must not alert")
	}
}

func TestRunThresholdEdge(t *testing.T) {
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

	// change == threshold exactly: 0.1 -> 0.2 with threshold 0.1
	state := testState(t, "example.com")
	state.EnsureEntry("example.com").CurrentRate = decimal.NewFromFloat(0.1)
	store := &memStore{state: state}
	ff := &fakeFetcher{results: map[string]fetchResult{
		"example.com": {r: rangeWithRate(t, 10, 2)},
	}}
	notifier := &recordingNotifier{}

	if err := newDetector(ff, store, notifier, now).Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("change equal to threshold must not alert: %+v", notifier.notes)
	}

	// change just above threshold: 0.09 -> 0.2
	state = testState(t, "example.com")
	state.EnsureEntry("example.com").CurrentRate = decimal.NewFromFloat(0.09)
	store = &memStore{state: state}
	notifier = &recordingNotifier{}

	if err := newDetector(ff, store, notifier, now).Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(notifier.notes) != 1 {
		t.Fatalf("change above threshold should alert once, got %d", len(notifier.notes))
	}
}

func TestRunDropNeverAlerts(t *testing.T) {
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	state := testState(t, "example.com")
	state.EnsureEntry("example.com").CurrentRate = decimal.NewFromFloat(0.9)

	store := &memStore{state: state}
	ff := &fakeFetcher{results: map[string]fetchResult{
		"example.com": {r: rangeWithRate(t, 10, 2)},
	}}
	notifier := &recordingNotifier{}

	if err := newDetector(ff, store, notifier, now).Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatal("a falling anomaly rate must not alert")
	}
	entry := state.URLs["example.com"]
	if entry.Change == nil || !entry.Change.Equal(decimal.NewFromFloat(-0.7)) {
		t.Fatalf("change = %v, want -0.7", entry.Change)
	}
}

func TestRunPartialFailureIsolation(t *testing.T) {
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	state := testState(t, "broken.example", "example.com")
	store := &memStore{state: state}

	ff := &fakeFetcher{results: map[string]fetchResult{
		"broken.example": {err: &fetcher.Error{Kind: fetcher.KindNetwork, Input: "broken.example", Err: errors.New("connection refused")}},
		"example.com":    {r: rangeWithRate(t, 10, 2)},
	}}
	notifier := &recordingNotifier{}

	logPath := filepath.Join(t.TempDir(), "watch.log")
	state.LogFile = logPath

	if err := newDetector(ff, store, notifier, now).Run(context.Background()); err != nil {
		t.Fatalf("one failing input must not abort the run: %v", err)
	}

	if _, ok := state.URLs["broken.example"]; ok {
		t.Fatal("failed input should not gain an entry")
	}
	if entry := state.URLs["example.com"]; entry == nil || !entry.CurrentRate.Equal(decimal.NewFromFloat(0.2)) {
		t.Fatalf("healthy input should still be processed: %+v", state.URLs["example.com"])
	}
	if store.saves != 1 {
		t.Fatalf("state should still be saved once, got %d", store.saves)
	}

	logText, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if !strings.Contains(string(logText), "Could not retrieve data for url: broken.example. Error: network_error") {
		t.Fatalf("run log should name the failed input and kind:\n%s", logText)
	}
	if !strings.Contains(string(logText), "Running check:") {
		t.Fatalf("run log should record the run start:\n%s", logText)
	}
}

func TestRunEndToEndScenario(t *testing.T) {
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	state := testState(t, "example.com")
	state.LookbackDays = 1
	state.CriticalAnomalyRate = decimal.NewFromFloat(0.1)

	entry := state.EnsureEntry("example.com")
	entry.PreviousRate = watcher.RateNever
	entry.CurrentRate = decimal.NewFromFloat(0.05)

	store := &memStore{state: state}
	ff := &fakeFetcher{results: map[string]fetchResult{
		"example.com": {r: rangeWithRate(t, 10, 3)}, // avg anomaly rate 0.30
	}}
	notifier := &recordingNotifier{}

	logPath := filepath.Join(t.TempDir(), "watch.log")
	state.LogFile = logPath

	if err := newDetector(ff, store, notifier, now).Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !entry.PreviousRate.Equal(decimal.NewFromFloat(0.05)) {
		t.Fatalf("previous rate = %s, want 0.05", entry.PreviousRate)
	}
	if !entry.CurrentRate.Equal(decimal.NewFromFloat(0.3)) {
		t.Fatalf("current rate = %s, want 0.3", entry.CurrentRate)
	}
	if entry.Change == nil || !entry.Change.Equal(decimal.NewFromFloat(0.25)) {
		t.Fatalf("change = %v, want 0.25", entry.Change)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected one alert, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.Input != "example.com" || !note.Change.Equal(decimal.NewFromFloat(0.25)) {
		t.Fatalf("unexpected notification: %+v", note)
	}

	logText, _ := os.ReadFile(logPath)
	if !strings.Contains(string(logText), "Change of 0.25 for url: example.com") {
		t.Fatalf("run log should record the alert:\n%s", logText)
	}

	// Lookback window sanity: the query should span exactly one day back.
	if len(ff.queries) != 1 {
		t.Fatalf("expected one fetch, got %d", len(ff.queries))
	}
	q := ff.queries[0]
	if q.Until.Sub(q.Since) != 24*time.Hour {
		t.Fatalf("query window = %s..%s", q.Since, q.Until)
	}
}

func TestRunInactiveState(t *testing.T) {
	state := testState(t, "example.com")
	state.Active = false
	store := &memStore{state: state}
	ff := &fakeFetcher{}

	if err := newDetector(ff, store, nil, time.Now()).Run(context.Background()); err != nil {
		t.Fatalf("inactive run should be a no-op: %v", err)
	}
	if len(ff.queries) != 0 {
		t.Fatal("inactive run must not fetch")
	}
	if store.saves != 0 {
		t.Fatal("inactive run must not save state")
	}
}

func TestRunStateLoadFailureAborts(t *testing.T) {
	store := &memStore{loadErr: watcher.ErrStateUnavailable}
	err := newDetector(&fakeFetcher{}, store, nil, time.Now()).Run(context.Background())
	if !errors.Is(err, watcher.ErrStateUnavailable) {
		t.Fatalf("expected state error to abort the run, got %v", err)
	}
	if store.saves != 0 {
		t.Fatal("aborted run must not save state")
	}
}
