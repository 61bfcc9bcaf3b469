package watcher

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestEnsureEntryIdempotent(t *testing.T) {
	state := NewState()

	e := state.EnsureEntry("example.com")
	if !e.PreviousRate.Equal(RateNever) || !e.CurrentRate.Equal(RateNever) {
		t.Fatalf("new entry should start at sentinel rates: %+v", e)
	}
	if e.Change != nil || e.LastCheck != nil || e.LastUpdate != nil {
		t.Fatalf("new entry should have no change or timestamps: %+v", e)
	}

	rate := decimal.NewFromFloat(0.3)
	e.CurrentRate = rate

	again := state.EnsureEntry("example.com")
	if again != e {
		t.Fatal("EnsureEntry should return the existing entry")
	}
	if !again.CurrentRate.Equal(rate) {
		t.Fatalf("existing entry mutated: %+v", again)
	}
}

func TestStateValidate(t *testing.T) {
	state := NewState()
	if err := state.Validate(); err != nil {
		t.Fatalf("default state should validate: %v", err)
	}

	state.CriticalAnomalyRate = decimal.Zero
	if err := state.Validate(); err == nil {
		t.Fatal("zero critical rate should fail validation")
	}

	state = NewState()
	state.LookbackDays = 0
	if err := state.Validate(); err == nil {
		t.Fatal("zero lookback should fail validation")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path, zerolog.Nop())

	state := NewState()
	state.Active = true
	state.ListFile = "/tmp/urls.txt"
	state.LogFile = "/tmp/watch.log"
	state.LookbackDays = 3
	state.CriticalAnomalyRate = decimal.NewFromFloat(0.15)
	state.NotifyAddress = "ops@example.org"
	state.SenderAddress = "watch@example.org"

	fresh := state.EnsureEntry("fresh.example")

	seen := state.EnsureEntry("seen.example")
	seen.PreviousRate = decimal.NewFromFloat(0.05)
	seen.CurrentRate = decimal.NewFromFloat(0.3)
	change := decimal.NewFromFloat(0.25)
	seen.Change = &change
	when := time.Date(2024, 2, 1, 12, 30, 45, 0, time.UTC)
	seen.LastCheck = Stamp(when)
	seen.LastUpdate = Stamp(when)

	if err := store.Save(state); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if loaded.Active != state.Active ||
		loaded.ListFile != state.ListFile ||
		loaded.LogFile != state.LogFile ||
		loaded.LookbackDays != state.LookbackDays ||
		loaded.NotifyAddress != state.NotifyAddress ||
		loaded.SenderAddress != state.SenderAddress {
		t.Fatalf("settings did not round-trip: %+v", loaded)
	}
	if !loaded.CriticalAnomalyRate.Equal(state.CriticalAnomalyRate) {
		t.Fatalf("critical rate did not round-trip: %s", loaded.CriticalAnomalyRate)
	}

	gotFresh, ok := loaded.URLs["fresh.example"]
	if !ok {
		t.Fatal("fresh entry missing after round-trip")
	}
	if !gotFresh.PreviousRate.Equal(fresh.PreviousRate) || !gotFresh.CurrentRate.Equal(RateNever) {
		t.Fatalf("fresh entry rates did not round-trip: %+v", gotFresh)
	}
	if gotFresh.Change != nil || gotFresh.LastCheck != nil || gotFresh.LastUpdate != nil {
		t.Fatalf("absent markers did not round-trip: %+v", gotFresh)
	}

	gotSeen := loaded.URLs["seen.example"]
	if gotSeen == nil || gotSeen.Change == nil {
		t.Fatalf("seen entry did not round-trip: %+v", gotSeen)
	}
	if !gotSeen.Change.Equal(change) {
		t.Fatalf("change did not round-trip: %s", gotSeen.Change)
	}
	if gotSeen.LastCheck == nil || !gotSeen.LastCheck.Time.Equal(when) {
		t.Fatalf("last check did not round-trip: %+v", gotSeen.LastCheck)
	}
}

func TestFileStoreTimestampFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path, zerolog.Nop())

	state := NewState()
	e := state.EnsureEntry("example.com")
	e.LastCheck = Stamp(time.Date(2024, 2, 1, 12, 30, 45, 0, time.UTC))

	if err := store.Save(state); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("state file is not valid json: %v", err)
	}
	urls := doc["urls"].(map[string]any)
	entry := urls["example.com"].(map[string]any)
	if entry["last_check"] != "2024-02-01 12:30:45" {
		t.Fatalf("timestamp format = %v", entry["last_check"])
	}
	if entry["last_update"] != nil {
		t.Fatalf("absent timestamp should serialise as null, got %v", entry["last_update"])
	}
}

func TestFileStoreLoadFailure(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"), zerolog.Nop())

	state, err := store.Load()
	if !errors.Is(err, ErrStateUnavailable) {
		t.Fatalf("expected ErrStateUnavailable, got %v", err)
	}
	if state == nil || !state.Active || state.LookbackDays != 1 {
		t.Fatalf("load failure should still return defaults: %+v", state)
	}
}

func TestFileStoreSaveFailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := NewFileStore(path, zerolog.Nop())

	state := NewState()
	state.ListFile = "first"
	if err := store.Save(state); err != nil {
		t.Fatalf("initial save failed: %v", err)
	}

	// Point a second store at a path whose parent is a file, forcing the
	// temp-file creation to fail; the original file must stay intact.
	bad := NewFileStore(filepath.Join(path, "nested.json"), zerolog.Nop())
	if err := bad.Save(state); !errors.Is(err, ErrStateUnavailable) {
		t.Fatalf("expected ErrStateUnavailable, got %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.ListFile != "first" {
		t.Fatalf("previous state corrupted: %+v", loaded)
	}
}

func TestLoadInputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "example.com\n\n  news.example.org  \nblog.example.net\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write list: %v", err)
	}

	inputs, err := LoadInputs(path)
	if err != nil {
		t.Fatalf("load inputs: %v", err)
	}
	want := []string{"example.com", "news.example.org", "blog.example.net"}
	if len(inputs) != len(want) {
		t.Fatalf("inputs = %v, want %v", inputs, want)
	}
	for i := range want {
		if inputs[i] != want[i] {
			t.Fatalf("inputs[%d] = %q, want %q", i, inputs[i], want[i])
		}
	}
}
