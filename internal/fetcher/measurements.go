package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ooni-anomaly-watch/internal/stats"
)

const measurementsPath = "/api/v1/measurements"

// MeasurementsOptions parameterise the paginated fetcher.
type MeasurementsOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	PageLimit int
	// MaxPages bounds the continuation chain. The remote cursor has no
	// termination guarantee of its own, so running out of pages is a
	// network failure rather than an endless loop.
	MaxPages int
}

// Measurements fetches individual measurement records from the paginated
// list endpoint and buckets them locally by calendar day. The resulting
// range always contains one bucket per day in [since, until], including
// days with zero measurements.
type Measurements struct {
	opts    MeasurementsOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMeasurements constructs a paginated fetcher.
func NewMeasurements(opts MeasurementsOptions, logger zerolog.Logger) *Measurements {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.ooni.io"
	}

	return &Measurements{
		opts:    opts,
		logger:  logger.With().Str("component", "measurements_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// flag accepts both boolean and 0/1 encodings used by the source.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	switch s := strings.TrimSpace(string(b)); s {
	case "true":
		*f = true
	case "false", "null":
		*f = false
	default:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse flag %q: %w", s, err)
		}
		*f = n != 0
	}
	return nil
}

type measurementRecord struct {
	Anomaly              flag   `json:"anomaly"`
	Confirmed            flag   `json:"confirmed"`
	Failure              flag   `json:"failure"`
	MeasurementStartTime string `json:"measurement_start_time"`
}

type measurementsPage struct {
	Metadata struct {
		NextURL string `json:"next_url"`
	} `json:"metadata"`
	Results *[]measurementRecord `json:"results"`
}

var startTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Fetch follows the continuation chain until exhausted and folds every
// record into the bucket for its calendar day.
func (m *Measurements) Fetch(ctx context.Context, q Query) (*stats.RangeStats, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	since := stats.Midnight(q.Since)
	until := stats.Midnight(q.Until)

	// One accumulator per calendar day in range, so sparse data still
	// yields a bucket for every day.
	type accum struct {
		measurements int
		anomalies    int
		failures     int
		confirmed    int
	}
	buckets := make(map[time.Time]*accum)
	for d := since; !d.After(until); d = d.AddDate(0, 0, 1) {
		buckets[d] = &accum{}
	}

	params := url.Values{}
	params.Set("since", q.Since.Format(dateLayout))
	params.Set("until", q.Until.Format(dateLayout))
	params.Set("order", "asc")
	params.Set("order_by", "measurement_start_time")
	params.Set("limit", strconv.Itoa(m.opts.PageLimit))
	if q.Input != "" {
		params.Set("input", q.Input)
	}
	if q.CountryCode != "" {
		params.Set("probe_cc", q.CountryCode)
	}
	if q.TestName != "" {
		params.Set("test_name", q.TestName)
	}

	next := m.baseURL + measurementsPath + "?" + params.Encode()
	pages := 0
	records := 0

	for next != "" {
		if pages >= m.opts.MaxPages {
			return nil, newError(KindNetwork, q.Input,
				fmt.Errorf("continuation not exhausted after %d pages", m.opts.MaxPages))
		}
		pages++

		payload, err := m.get(ctx, q, next)
		if err != nil {
			return nil, err
		}

		var page measurementsPage
		if err := json.Unmarshal(payload, &page); err != nil {
			return nil, newError(KindUnknown, q.Input, fmt.Errorf("decode page %d: %w", pages, err))
		}
		if page.Results == nil {
			return nil, newError(KindUnknown, q.Input, errors.New("response missing results field"))
		}

		for _, rec := range *page.Results {
			started, parseErr := parseStartTime(rec.MeasurementStartTime)
			if parseErr != nil {
				return nil, newError(KindUnknown, q.Input, parseErr)
			}
			day := stats.Midnight(started)
			bucket, ok := buckets[day]
			if !ok {
				// Record outside the requested window; the source is not
				// strict about its bounds.
				continue
			}
			bucket.measurements++
			if rec.Anomaly {
				bucket.anomalies++
			}
			if rec.Failure {
				bucket.failures++
			}
			if rec.Confirmed {
				bucket.confirmed++
			}
			records++
		}

		next = page.Metadata.NextURL
	}

	days := make([]stats.DayStats, 0, len(buckets))
	for d := since; !d.After(until); d = d.AddDate(0, 0, 1) {
		acc := buckets[d]
		day, err := stats.NewDayStats(d, q.Input, acc.measurements, acc.anomalies, acc.failures, acc.confirmed)
		if err != nil {
			return nil, newError(KindUnknown, q.Input, err)
		}
		days = append(days, day)
	}

	m.logger.Debug().Str("input", q.Input).
		Int("pages", pages).
		Int("records", records).
		Int("days", len(days)).
		Msg("paginated fetch complete")

	return stats.NewRangeStats(days), nil
}

func (m *Measurements) get(ctx context.Context, q Query, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, newError(KindNetwork, q.Input, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, newError(KindNetwork, q.Input, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindNetwork, q.Input, err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, newError(KindBadArguments, q.Input, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
		}
		return nil, newError(KindNetwork, q.Input, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}
	return payload, nil
}

func parseStartTime(v string) (time.Time, error) {
	for _, layout := range startTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse measurement start time %q", v)
}

var _ Fetcher = (*Measurements)(nil)
