package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/raterudder/chargeplan/pkg/storage"
	"github.com/raterudder/chargeplan/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context, siteID string) (types.Settings, int, error) {
	args := m.Called(ctx, siteID)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, siteID string, settings types.Settings, version int) error {
	args := m.Called(ctx, siteID, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) InsertRun(ctx context.Context, siteID string, run types.ScheduleRun) error {
	args := m.Called(ctx, siteID, run)
	return args.Error(0)
}

func (m *MockDatabase) GetRunHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.ScheduleRun, error) {
	args := m.Called(ctx, siteID, start, end)
	if runs := args.Get(0); runs != nil {
		return runs.([]types.ScheduleRun), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) GetLatestRun(ctx context.Context, siteID string) (types.ScheduleRun, error) {
	args := m.Called(ctx, siteID)
	return args.Get(0).(types.ScheduleRun), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
