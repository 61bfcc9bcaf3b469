package fetcher

import (
	"context"
	"errors"
	"time"

	"ooni-anomaly-watch/internal/stats"
)

const dateLayout = "2006-01-02"

// Query bounds one fetch. Since and Until are calendar dates (inclusive);
// any time component is ignored. An empty Input requests measurements
// across all inputs.
type Query struct {
	Since       time.Time
	Until       time.Time
	Input       string
	CountryCode string
	TestName    string
}

func (q Query) validate() error {
	if q.Since.IsZero() || q.Until.IsZero() {
		return newError(KindInvalidRange, q.Input, errors.New("since and until are required"))
	}
	if stats.Midnight(q.Since).After(stats.Midnight(q.Until)) {
		return newError(KindInvalidRange, q.Input, errors.New("since is after until"))
	}
	return nil
}

// Fetcher retrieves measurement statistics for a date range and input,
// normalised into per-day buckets regardless of the remote query shape.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) (*stats.RangeStats, error)
}
