package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func dateRange(t *testing.T, since, until string) Query {
	t.Helper()
	s, err := time.Parse("2006-01-02", since)
	if err != nil {
		t.Fatalf("parse since: %v", err)
	}
	u, err := time.Parse("2006-01-02", until)
	if err != nil {
		t.Fatalf("parse until: %v", err)
	}
	return Query{Since: s, Until: u, CountryCode: "VE"}
}

func TestAggregationRejectsInvertedRange(t *testing.T) {
	a := NewAggregation(AggregationOptions{BaseURL: "http://api.invalid"}, noopLogger())

	q := dateRange(t, "2024-01-05", "2024-01-01")
	_, err := a.Fetch(context.Background(), q)
	if err == nil {
		t.Fatal("inverted range should fail")
	}
	if KindOf(err) != KindInvalidRange {
		t.Fatalf("kind = %s, want %s", KindOf(err), KindInvalidRange)
	}
}

func TestAggregationSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("axis_x"); got != "measurement_start_day" {
			t.Fatalf("axis_x = %q", got)
		}
		if got := r.URL.Query().Get("probe_cc"); got != "VE" {
			t.Fatalf("probe_cc = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{"measurement_count": 10, "anomaly_count": 2, "failure_count": 1, "confirmed_count": 0, "measurement_start_day": "2024-01-02"},
				{"measurement_count": 5, "anomaly_count": 0, "failure_count": 0, "confirmed_count": 1, "measurement_start_day": "2024-01-01"},
			},
		})
	}))
	defer srv.Close()

	a := NewAggregation(AggregationOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	r, err := a.Fetch(context.Background(), dateRange(t, "2024-01-01", "2024-01-02"))
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if r.TotalMeasurements != 15 || r.TotalAnomalies != 2 {
		t.Fatalf("unexpected totals: %+v", r)
	}
	days := r.Days()
	if len(days) != 2 || !days[0].Day.Before(days[1].Day) {
		t.Fatalf("days not sorted: %+v", days)
	}
	want := decimal.NewFromInt(2).Div(decimal.NewFromInt(15))
	if !r.AvgAnomalyRate().Equal(want) {
		t.Fatalf("avg anomaly rate = %s, want %s", r.AvgAnomalyRate(), want)
	}
}

func TestAggregationHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAggregation(AggregationOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := a.Fetch(context.Background(), dateRange(t, "2024-01-01", "2024-01-02"))
	if KindOf(err) != KindNetwork {
		t.Fatalf("kind = %s, want %s", KindOf(err), KindNetwork)
	}
}

func TestAggregationSourceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid probe_cc"})
	}))
	defer srv.Close()

	a := NewAggregation(AggregationOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := a.Fetch(context.Background(), dateRange(t, "2024-01-01", "2024-01-02"))
	if KindOf(err) != KindBadArguments {
		t.Fatalf("kind = %s, want %s", KindOf(err), KindBadArguments)
	}
}

func TestAggregationMissingResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"dimension_count": 1})
	}))
	defer srv.Close()

	a := NewAggregation(AggregationOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := a.Fetch(context.Background(), dateRange(t, "2024-01-01", "2024-01-02"))
	if KindOf(err) != KindUnknown {
		t.Fatalf("kind = %s, want %s", KindOf(err), KindUnknown)
	}
}
