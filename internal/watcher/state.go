package watcher

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RateNever is the persisted sentinel for "never measured". It keeps rate
// fields comparable without a presence check; no observed rate is negative.
var RateNever = decimal.NewFromInt(-1)

const timestampLayout = "2006-01-02 15:04:05"

// Timestamp serialises as "YYYY-mm-dd HH:MM:SS" to stay readable in the
// state file. Absent timestamps are represented by a nil pointer.
type Timestamp struct {
	time.Time
}

// Stamp wraps a time for persistence, dropping sub-second precision.
func Stamp(t time.Time) *Timestamp {
	return &Timestamp{t.UTC().Truncate(time.Second)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(timestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("watcher: malformed timestamp %s", s)
	}
	parsed, err := time.ParseInLocation(timestampLayout, s[1:len(s)-1], time.UTC)
	if err != nil {
		return fmt.Errorf("watcher: parse timestamp: %w", err)
	}
	t.Time = parsed
	return nil
}

// Entry is the persisted per-input state. Change stays nil until the first
// successful comparison; rates start at the RateNever sentinel.
type Entry struct {
	PreviousRate decimal.Decimal  `json:"previous_rate"`
	CurrentRate  decimal.Decimal  `json:"current_rate"`
	Change       *decimal.Decimal `json:"change"`
	LastCheck    *Timestamp       `json:"last_check"`
	LastUpdate   *Timestamp       `json:"last_update"`
}

// State is the whole persisted watcher configuration: run settings plus
// the per-input entry map. It is loaded at run start, mutated during the
// run, and saved once at run end; a single active run owns it exclusively.
type State struct {
	Active              bool              `json:"active"`
	ListFile            string            `json:"list_file"`
	LogFile             string            `json:"log_file"`
	LookbackDays        int               `json:"lookback_days"`
	CriticalAnomalyRate decimal.Decimal   `json:"critical_anomaly_rate"`
	NotifyAddress       string            `json:"mail_to_notify"`
	SenderAddress       string            `json:"sender_mail"`
	URLs                map[string]*Entry `json:"urls"`
}

// NewState returns a state populated with defaults.
func NewState() *State {
	return &State{
		Active:              true,
		LookbackDays:        1,
		CriticalAnomalyRate: decimal.NewFromFloat(0.1),
		URLs:                make(map[string]*Entry),
	}
}

// Validate rejects settings that make no sense for a run.
func (s *State) Validate() error {
	if !s.CriticalAnomalyRate.IsPositive() {
		return fmt.Errorf("watcher: critical anomaly rate must be positive, got %s", s.CriticalAnomalyRate)
	}
	if s.LookbackDays <= 0 {
		return fmt.Errorf("watcher: lookback days must be positive, got %d", s.LookbackDays)
	}
	return nil
}

// EnsureEntry creates the entry for an input if it does not exist yet and
// returns it. Existing entries are left untouched.
func (s *State) EnsureEntry(input string) *Entry {
	if s.URLs == nil {
		s.URLs = make(map[string]*Entry)
	}
	if e, ok := s.URLs[input]; ok {
		return e
	}
	e := &Entry{
		PreviousRate: RateNever,
		CurrentRate:  RateNever,
	}
	s.URLs[input] = e
	return e
}
