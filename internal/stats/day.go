package stats

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidCount indicates a negative measurement count.
var ErrInvalidCount = errors.New("stats: negative count")

// DayStats holds one calendar day of measurement statistics for one input.
// Ratios are computed at construction and the struct is never mutated
// afterwards. A nil ratio means "no measurements that day", which is
// distinct from a ratio of zero.
type DayStats struct {
	Day   time.Time
	Input string // empty means all inputs

	Measurements int
	Anomalies    int
	Failures     int
	Confirmed    int

	AnomalyRatio   *decimal.Decimal
	FailureRatio   *decimal.Decimal
	ConfirmedRatio *decimal.Decimal
	WeirdRatio     *decimal.Decimal
}

// NewDayStats builds the statistics for a single day. The day is truncated
// to midnight UTC. Counts are passed through as reported by the source,
// even when anomalies+failures+confirmed exceeds the measurement total.
func NewDayStats(day time.Time, input string, measurements, anomalies, failures, confirmed int) (DayStats, error) {
	if measurements < 0 || anomalies < 0 || failures < 0 || confirmed < 0 {
		return DayStats{}, fmt.Errorf("%w: measurements=%d anomalies=%d failures=%d confirmed=%d",
			ErrInvalidCount, measurements, anomalies, failures, confirmed)
	}

	return DayStats{
		Day:            Midnight(day),
		Input:          input,
		Measurements:   measurements,
		Anomalies:      anomalies,
		Failures:       failures,
		Confirmed:      confirmed,
		AnomalyRatio:   ratio(anomalies, measurements),
		FailureRatio:   ratio(failures, measurements),
		ConfirmedRatio: ratio(confirmed, measurements),
		WeirdRatio:     ratio(anomalies+failures+confirmed, measurements),
	}, nil
}

// Midnight truncates a timestamp to the start of its calendar day in UTC.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func ratio(n, d int) *decimal.Decimal {
	if d == 0 {
		return nil
	}
	r := decimal.NewFromInt(int64(n)).Div(decimal.NewFromInt(int64(d)))
	return &r
}
