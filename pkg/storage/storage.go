package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/chargeplan/pkg/types"
)

var (
	ErrRunNotFound  = errors.New("schedule run not found")
	ErrSiteNotFound = errors.New("site not found")
)

// Database defines the interface for persisting settings and schedule runs.
type Database interface {
	// Settings
	GetSettings(ctx context.Context, siteID string) (types.Settings, int, error)
	SetSettings(ctx context.Context, siteID string, settings types.Settings, version int) error

	// Runs
	InsertRun(ctx context.Context, siteID string, run types.ScheduleRun) error
	GetRunHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.ScheduleRun, error)
	GetLatestRun(ctx context.Context, siteID string) (types.ScheduleRun, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
