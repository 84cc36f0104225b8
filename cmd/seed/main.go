package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/chargeplan/pkg/log"
	"github.com/raterudder/chargeplan/pkg/schedule"
	"github.com/raterudder/chargeplan/pkg/storage"
	"github.com/raterudder/chargeplan/pkg/types"
)

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	seedRange := lflag.Duration("seed-range", 7*24*time.Hour, "how far back to seed daily schedule runs")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	// Use a new random source
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	base := make(types.HourlySeries, 24)
	for hour := range base {
		switch {
		case hour < 6:
			base[hour] = 0.03 // Overnight
		case hour >= 6 && hour < 9:
			base[hour] = 0.09 // Morning Peak
		case hour >= 16 && hour < 20:
			base[hour] = 0.18 // Evening Peak
		default:
			base[hour] = 0.06
		}
	}

	settings := types.Settings{
		DryRun:        true,
		PlantID:       "1000001",
		DeviceSerial:  "MOCK000001",
		PriceProvider: types.PriceProviderStatic,
		StaticSeries:  base,
		Timezone:      "America/Chicago",
	}
	if err := s.SetSettings(ctx, types.SiteIDNone, settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed settings", slog.Any("error", err))
		os.Exit(1)
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	days := int(*seedRange / (24 * time.Hour))
	for d := days - 1; d >= 0; d-- {
		ts := today.AddDate(0, 0, -d).Add(5 * time.Minute)

		series := make(types.HourlySeries, len(base))
		for i, v := range base {
			// Jitter
			series[i] = v + (rng.Float64() * 0.02) - 0.01
		}

		decision, err := schedule.Optimize(series)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to optimize seed series", slog.Any("error", err))
			os.Exit(1)
		}

		run := types.ScheduleRun{
			Timestamp:  ts,
			Series:     series,
			Decision:   decision,
			ChargeTime: decision.ChargeTime(),
			LoadTime:   decision.LoadTime(),
			Target:     settings.Target(),
			Result:     types.RunResultSkipped,
			DryRun:     true,
		}
		if err := s.InsertRun(ctx, types.SiteIDNone, run); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed run", slog.Any("error", err))
			os.Exit(1)
		}

		fmt.Printf("Seeded run at %s: charge %s, load %s\n", ts.Format(time.DateTime), run.ChargeTime, run.LoadTime)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}
