package stats

import (
	"sort"

	"github.com/shopspring/decimal"
)

// NoRate is the sentinel returned by the average accessors when the range
// contains zero measurements. It is an ordinary value rather than an
// absent one so callers can compare rates against a threshold without a
// presence check; no valid rate is ever negative. This is a fixed API
// contract.
var NoRate = decimal.NewFromInt(-1)

// RangeStats is an ordered sequence of per-day statistics for one input
// over a date span, with running totals kept in sync with the day list.
type RangeStats struct {
	days []DayStats

	TotalMeasurements int
	TotalAnomalies    int
	TotalFailures     int
	TotalConfirmed    int
}

// NewRangeStats builds a range from a list of days, sorting them ascending
// by calendar day and summing the totals.
func NewRangeStats(days []DayStats) *RangeStats {
	r := &RangeStats{days: make([]DayStats, len(days))}
	copy(r.days, days)
	r.sortDays()
	for _, d := range r.days {
		r.addTotals(d)
	}
	return r
}

// AddDay appends a day, re-sorts the list, and updates the totals.
func (r *RangeStats) AddDay(d DayStats) {
	r.days = append(r.days, d)
	r.sortDays()
	r.addTotals(d)
}

// Days returns the contained days, ascending by date. The returned slice
// must not be modified.
func (r *RangeStats) Days() []DayStats {
	return r.days
}

// TotalWeird is the combined anomalous, failed, and confirmed-blocked count.
func (r *RangeStats) TotalWeird() int {
	return r.TotalAnomalies + r.TotalFailures + r.TotalConfirmed
}

// AvgAnomalyRate returns the anomaly fraction over the whole range, or
// NoRate when the range has no measurements.
func (r *RangeStats) AvgAnomalyRate() decimal.Decimal {
	return r.avg(r.TotalAnomalies)
}

// AvgFailureRate returns the failure fraction over the whole range, or NoRate.
func (r *RangeStats) AvgFailureRate() decimal.Decimal {
	return r.avg(r.TotalFailures)
}

// AvgConfirmedRate returns the confirmed-blocked fraction, or NoRate.
func (r *RangeStats) AvgConfirmedRate() decimal.Decimal {
	return r.avg(r.TotalConfirmed)
}

// AvgWeirdRate returns the combined weird-behaviour fraction, or NoRate.
func (r *RangeStats) AvgWeirdRate() decimal.Decimal {
	return r.avg(r.TotalWeird())
}

func (r *RangeStats) avg(total int) decimal.Decimal {
	if r.TotalMeasurements == 0 {
		return NoRate
	}
	return decimal.NewFromInt(int64(total)).Div(decimal.NewFromInt(int64(r.TotalMeasurements)))
}

func (r *RangeStats) addTotals(d DayStats) {
	r.TotalMeasurements += d.Measurements
	r.TotalAnomalies += d.Anomalies
	r.TotalFailures += d.Failures
	r.TotalConfirmed += d.Confirmed
}

func (r *RangeStats) sortDays() {
	sort.SliceStable(r.days, func(i, j int) bool {
		return r.days[i].Day.Before(r.days[j].Day)
	})
}
