package utility

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/chargeplan/pkg/types"
)

func staticSeries() types.HourlySeries {
	series := make(types.HourlySeries, 24)
	for i := range series {
		series[i] = float64(i)
	}
	return series
}

func TestStatic(t *testing.T) {
	s := &static{}
	assert.Error(t, s.ApplySettings(context.Background(), types.Settings{StaticSeries: types.HourlySeries{1, 2}}))

	input := staticSeries()
	require.NoError(t, s.ApplySettings(context.Background(), types.Settings{StaticSeries: input}))

	series, err := s.HourlySeries(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, input, series)

	// callers cannot mutate the stored table
	series[0] = 100
	again, err := s.HourlySeries(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0.0, again[0])
}

func TestMap(t *testing.T) {
	ctx := context.Background()

	t.Run("Reuses provider", func(t *testing.T) {
		m := NewMap()
		settings := types.Settings{PriceProvider: types.PriceProviderStatic, StaticSeries: staticSeries()}

		u1, err := m.Site(ctx, "site1", settings)
		require.NoError(t, err)
		u2, err := m.Site(ctx, "site1", settings)
		require.NoError(t, err)
		assert.Same(t, u1, u2)

		// other sites get their own
		u3, err := m.Site(ctx, "site2", settings)
		require.NoError(t, err)
		assert.NotSame(t, u1, u3)
	})

	t.Run("Settings are re-applied", func(t *testing.T) {
		m := NewMap()
		settings := types.Settings{PriceProvider: types.PriceProviderStatic, StaticSeries: staticSeries()}
		_, err := m.Site(ctx, "site1", settings)
		require.NoError(t, err)

		settings.StaticSeries = make(types.HourlySeries, 24)
		u, err := m.Site(ctx, "site1", settings)
		require.NoError(t, err)
		series, err := u.HourlySeries(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 0.0, series[23])
	})

	t.Run("Provider change", func(t *testing.T) {
		m := NewMap()
		u1, err := m.Site(ctx, "site1", types.Settings{PriceProvider: types.PriceProviderStatic, StaticSeries: staticSeries()})
		require.NoError(t, err)
		u2, err := m.Site(ctx, "site1", types.Settings{
			PriceProvider: types.PriceProviderTOU,
			Timezone:      "UTC",
			TOUPeriods:    []types.TOUPeriod{{UtilityPeriod: types.UtilityPeriod{HourStart: 0, HourEnd: 24}, DollarsPerKWH: 0.1}},
		})
		require.NoError(t, err)
		assert.IsType(t, &static{}, u1)
		assert.IsType(t, &tou{}, u2)
	})

	t.Run("PJM", func(t *testing.T) {
		m := NewMap()
		_, err := m.Site(ctx, "site1", types.Settings{PriceProvider: types.PriceProviderPJM})
		assert.Error(t, err)

		m.basePJM = newBasePJM("http://localhost", "")
		u, err := m.Site(ctx, "site1", types.Settings{PriceProvider: types.PriceProviderPJM, PricePNodeID: "42"})
		require.NoError(t, err)
		require.IsType(t, &SitePJM{}, u)
		assert.Equal(t, "42", u.(*SitePJM).pnodeID)
	})

	t.Run("Unknown provider", func(t *testing.T) {
		m := NewMap()
		_, err := m.Site(ctx, "site1", types.Settings{PriceProvider: "comed"})
		assert.Error(t, err)
	})

	t.Run("SetSite", func(t *testing.T) {
		m := NewMap()
		s := &static{}
		m.SetSite(types.SiteIDNone, types.PriceProviderStatic, s)
		u, err := m.Site(ctx, "", types.Settings{PriceProvider: types.PriceProviderStatic, StaticSeries: staticSeries()})
		require.NoError(t, err)
		assert.Same(t, s, u)
	})
}
