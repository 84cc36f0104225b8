package utility

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/chargeplan/pkg/types"
)

func TestTOUUtility(t *testing.T) {
	settings := types.Settings{
		PriceProvider: types.PriceProviderTOU,
		Timezone:      "America/New_York",
		TOUPeriods: []types.TOUPeriod{
			{UtilityPeriod: types.UtilityPeriod{HourStart: 0, HourEnd: 24}, DollarsPerKWH: 0.05, Description: "base"},
			{UtilityPeriod: types.UtilityPeriod{HourStart: 0, HourEnd: 6}, DollarsPerKWH: -0.02, Description: "overnight"},
			{
				UtilityPeriod: types.UtilityPeriod{
					HourStart:     16,
					HourEnd:       20,
					DaysOfTheWeek: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
				},
				DollarsPerKWH: 0.10,
				Description:   "weekday peak",
			},
		},
	}

	u := &tou{}
	require.NoError(t, u.ApplySettings(context.Background(), settings))

	t.Run("Weekday", func(t *testing.T) {
		// Thursday
		series, err := u.HourlySeries(context.Background(), time.Date(2024, 1, 25, 9, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Len(t, series, 24)
		for h, v := range series {
			switch {
			case h < 6:
				assert.InDelta(t, 0.03, v, 1e-9, "hour %d", h)
			case h >= 16 && h < 20:
				assert.InDelta(t, 0.15, v, 1e-9, "hour %d", h)
			default:
				assert.InDelta(t, 0.05, v, 1e-9, "hour %d", h)
			}
		}
	})

	t.Run("Weekend", func(t *testing.T) {
		series, err := u.HourlySeries(context.Background(), time.Date(2024, 1, 27, 12, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.InDelta(t, 0.05, series[17], 1e-9)
	})

	t.Run("Spring forward", func(t *testing.T) {
		series, err := u.HourlySeries(context.Background(), time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Len(t, series, 24)
	})

	t.Run("Requires periods", func(t *testing.T) {
		assert.Error(t, (&tou{}).ApplySettings(context.Background(), types.Settings{Timezone: "UTC"}))
	})

	t.Run("Bad timezone", func(t *testing.T) {
		s := settings
		s.Timezone = "Mars/Olympus"
		assert.Error(t, (&tou{}).ApplySettings(context.Background(), s))
	})
}
