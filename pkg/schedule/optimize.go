// Package schedule picks the daily charge and discharge start hours for a
// battery from an hourly price or load series.
package schedule

import (
	"errors"
	"fmt"

	"github.com/raterudder/chargeplan/pkg/types"
)

// MinSeriesLen is the shortest series Optimize accepts.
const MinSeriesLen = 24

const (
	// ChargeWindowLastStart is the last hour a charge may start at.
	ChargeWindowLastStart = 10
	// ChargeDurationHours is how many consecutive hours are summed per charge candidate.
	ChargeDurationHours = 2
	// DefaultChargeStartHour is reported when no candidate costs less than ChargeCostSentinel.
	DefaultChargeStartHour = 2
	// ChargeCostSentinel is the cost a candidate has to beat. Anything at or
	// above it is never selected.
	ChargeCostSentinel = 1000.0

	// LoadWindowFirstStart and LoadWindowLastStart bound where discharge may start.
	LoadWindowFirstStart = 12
	LoadWindowLastStart  = 19
	// LoadDurationHours is how many consecutive hours are summed per load candidate.
	LoadDurationHours = 4
	// DefaultLoadStartHour is reported when no candidate is above LoadValueSentinel.
	DefaultLoadStartHour = 19
	// LoadValueSentinel is the value a candidate has to beat.
	LoadValueSentinel = 0.0
)

// ErrSeriesTooShort is returned when the series has fewer than MinSeriesLen values.
var ErrSeriesTooShort = errors.New("series too short")

// Optimize returns the cheapest two-hour charge start in [0, 10] and the
// highest four-hour load start in [12, 19]. Both scans keep the first
// candidate on ties and fall back to the defaults when nothing strictly beats
// the sentinels.
func Optimize(series types.HourlySeries) (types.ScheduleDecision, error) {
	if len(series) < MinSeriesLen {
		return types.ScheduleDecision{}, fmt.Errorf("%w: got %d values, need %d", ErrSeriesTooShort, len(series), MinSeriesLen)
	}
	return types.ScheduleDecision{
		ChargeStartHour: bestCharge(series),
		LoadStartHour:   bestLoad(series),
	}, nil
}

func bestCharge(series types.HourlySeries) int {
	start, best := DefaultChargeStartHour, ChargeCostSentinel
	for i := 0; i <= ChargeWindowLastStart; i++ {
		if cost := windowSum(series, i, ChargeDurationHours); cost < best {
			start, best = i, cost
		}
	}
	return start
}

func bestLoad(series types.HourlySeries) int {
	start, best := DefaultLoadStartHour, LoadValueSentinel
	for i := LoadWindowFirstStart; i <= LoadWindowLastStart; i++ {
		if value := windowSum(series, i, LoadDurationHours); value > best {
			start, best = i, value
		}
	}
	return start
}

func windowSum(series types.HourlySeries, start, n int) float64 {
	var sum float64
	for _, v := range series[start : start+n] {
		sum += v
	}
	return sum
}
