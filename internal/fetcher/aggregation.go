package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ooni-anomaly-watch/internal/stats"
)

const aggregationPath = "/api/v1/aggregation"

// AggregationOptions parameterise the pre-aggregated fetcher.
type AggregationOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Aggregation fetches day-bucketed statistics from the aggregation
// endpoint, where the remote source has already grouped measurements by
// calendar day.
type Aggregation struct {
	opts    AggregationOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewAggregation constructs a pre-aggregated fetcher.
func NewAggregation(opts AggregationOptions, logger zerolog.Logger) *Aggregation {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.ooni.io"
	}

	return &Aggregation{
		opts:    opts,
		logger:  logger.With().Str("component", "aggregation_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type aggregationRow struct {
	MeasurementCount    int    `json:"measurement_count"`
	AnomalyCount        int    `json:"anomaly_count"`
	FailureCount        int    `json:"failure_count"`
	ConfirmedCount      int    `json:"confirmed_count"`
	MeasurementStartDay string `json:"measurement_start_day"`
}

type aggregationResponse struct {
	Error  json.RawMessage   `json:"error"`
	Result *[]aggregationRow `json:"result"`
}

// Fetch maps each day row from the aggregation endpoint to one day bucket.
func (a *Aggregation) Fetch(ctx context.Context, q Query) (*stats.RangeStats, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("since", q.Since.Format(dateLayout))
	params.Set("until", q.Until.Format(dateLayout))
	params.Set("axis_x", "measurement_start_day")
	if q.CountryCode != "" {
		params.Set("probe_cc", q.CountryCode)
	}
	if q.Input != "" {
		params.Set("domain", q.Input)
	}
	if q.TestName != "" {
		params.Set("test_name", q.TestName)
	}

	payload, err := a.get(ctx, q, a.baseURL+aggregationPath+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var res aggregationResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, newError(KindUnknown, q.Input, fmt.Errorf("decode response: %w", err))
	}
	if len(res.Error) > 0 && string(res.Error) != "null" {
		return nil, newError(KindBadArguments, q.Input, fmt.Errorf("source error: %s", res.Error))
	}
	if res.Result == nil {
		return nil, newError(KindUnknown, q.Input, errors.New("response missing result field"))
	}

	days := make([]stats.DayStats, 0, len(*res.Result))
	for _, row := range *res.Result {
		day, parseErr := time.Parse(dateLayout, row.MeasurementStartDay)
		if parseErr != nil {
			return nil, newError(KindUnknown, q.Input, fmt.Errorf("parse day %q: %w", row.MeasurementStartDay, parseErr))
		}
		d, buildErr := stats.NewDayStats(day, q.Input, row.MeasurementCount, row.AnomalyCount, row.FailureCount, row.ConfirmedCount)
		if buildErr != nil {
			return nil, newError(KindUnknown, q.Input, buildErr)
		}
		days = append(days, d)
	}

	a.logger.Debug().Str("input", q.Input).Int("days", len(days)).Msg("aggregation fetch complete")
	return stats.NewRangeStats(days), nil
}

func (a *Aggregation) get(ctx context.Context, q Query, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, newError(KindNetwork, q.Input, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, newError(KindNetwork, q.Input, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindNetwork, q.Input, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newError(KindNetwork, q.Input, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}
	return payload, nil
}

var _ Fetcher = (*Aggregation)(nil)
