package publish

import (
	"context"
	"errors"
	"sync"

	"github.com/raterudder/chargeplan/pkg/types"
)

// Publisher receives the display values after every optimization.
type Publisher interface {
	Publish(ctx context.Context, siteID string, values types.Display) error
}

// Memory keeps the latest display values of every site.
type Memory struct {
	mu     sync.RWMutex
	latest map[string]types.Display
}

// NewMemory returns an empty Memory publisher.
func NewMemory() *Memory {
	return &Memory{
		latest: make(map[string]types.Display),
	}
}

// Publish replaces the site's latest values.
func (m *Memory) Publish(ctx context.Context, siteID string, values types.Display) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[siteID] = values
	return nil
}

// Latest returns the last published values for the site, if any.
func (m *Memory) Latest(siteID string) (types.Display, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.latest[siteID]
	return d, ok
}

// Multi publishes to every publisher, even when an earlier one fails.
type Multi []Publisher

// Publish calls each publisher in order and joins their errors.
func (m Multi) Publish(ctx context.Context, siteID string, values types.Display) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, siteID, values); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
