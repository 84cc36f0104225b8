package utility

import (
	"context"
	"fmt"
	"sync"

	"github.com/raterudder/chargeplan/pkg/types"
)

// Configured sets up the utility providers and returns a Map.
func Configured() *Map {
	m := NewMap()
	m.basePJM = configuredPJM()
	return m
}

type siteUtility struct {
	provider string
	utility  Utility
}

// Map manages the price provider of every site.
type Map struct {
	mu      sync.Mutex
	basePJM *BasePJM
	sites   map[string]siteUtility
}

// NewMap creates a new Utility Map.
func NewMap() *Map {
	return &Map{
		sites: make(map[string]siteUtility),
	}
}

// Site returns the price provider for the given site based on settings. The
// provider is reused while the site keeps the same provider kind.
func (m *Map) Site(ctx context.Context, siteID string, settings types.Settings) (Utility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if siteID == "" {
		siteID = types.SiteIDNone
	}

	if su, ok := m.sites[siteID]; ok && su.provider == settings.PriceProvider {
		if err := su.utility.ApplySettings(ctx, settings); err != nil {
			return nil, err
		}
		return su.utility, nil
	}

	var u Utility
	switch settings.PriceProvider {
	case types.PriceProviderPJM:
		if m.basePJM == nil {
			return nil, fmt.Errorf("pjm provider not configured")
		}
		u = &SitePJM{base: m.basePJM, siteID: siteID}
	case types.PriceProviderTOU:
		u = &tou{}
	case types.PriceProviderStatic:
		u = &static{}
	default:
		return nil, fmt.Errorf("unknown price provider: %q", settings.PriceProvider)
	}
	if err := u.ApplySettings(ctx, settings); err != nil {
		return nil, err
	}
	m.sites[siteID] = siteUtility{provider: settings.PriceProvider, utility: u}
	return u, nil
}

// SetSite sets the provider for a site. This is primarily used for testing.
func (m *Map) SetSite(siteID string, provider string, u Utility) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites[siteID] = siteUtility{provider: provider, utility: u}
}

// Providers lists the provider kinds a site can select.
func Providers() []string {
	return []string{types.PriceProviderPJM, types.PriceProviderTOU, types.PriceProviderStatic}
}
