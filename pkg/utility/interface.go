package utility

import (
	"context"
	"time"

	"github.com/raterudder/chargeplan/pkg/types"
)

// Utility produces the hourly series the schedule is optimized against.
type Utility interface {
	// HourlySeries returns one value per hour of the given day, hour 0 first,
	// in the site's local time.
	HourlySeries(ctx context.Context, day time.Time) (types.HourlySeries, error)

	// ApplySettings updates the provider using the site's settings.
	ApplySettings(ctx context.Context, settings types.Settings) error
}
