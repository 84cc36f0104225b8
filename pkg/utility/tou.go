package utility

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raterudder/chargeplan/pkg/types"
)

// tou implements a Time-Of-Use price table from the site's periods.
type tou struct {
	mu       sync.Mutex
	periods  []types.TOUPeriod
	location *time.Location
}

func (t *tou) ApplySettings(ctx context.Context, settings types.Settings) error {
	if len(settings.TOUPeriods) == 0 {
		return errors.New("tou provider needs at least one period")
	}
	loc, err := loadLocation(settings.Timezone)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.location = loc
	t.periods = append([]types.TOUPeriod(nil), settings.TOUPeriods...)
	return nil
}

func (t *tou) priceForTime(target time.Time) (float64, error) {
	t.mu.Lock()
	periods := t.periods
	loc := t.location
	t.mu.Unlock()

	var price float64
	for _, period := range periods {
		// If the period has no location, give it the default location to evaluate correctly
		if period.LocationPtr == nil && period.Location == "" && loc != nil {
			period.LocationPtr = loc
		}

		contains, err := period.Contains(target)
		if err != nil {
			return 0, err
		}
		if contains {
			price += period.DollarsPerKWH
		}
	}
	return price, nil
}

func (t *tou) HourlySeries(ctx context.Context, day time.Time) (types.HourlySeries, error) {
	t.mu.Lock()
	loc := t.location
	t.mu.Unlock()
	if loc == nil {
		loc = time.UTC
	}

	start := startOfDay(day, loc)
	series := make(types.HourlySeries, 24)
	for h := range series {
		// build from wall-clock hours so DST days still yield 24 values
		target := time.Date(start.Year(), start.Month(), start.Day(), h, 0, 0, 0, loc)
		p, err := t.priceForTime(target)
		if err != nil {
			return nil, err
		}
		series[h] = p
	}
	return series, nil
}
