package types

import (
	"fmt"
	"time"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 2

// SiteIDNone is used for the only site when running in single-site mode.
const SiteIDNone = "none"

// Price providers that can produce an HourlySeries.
const (
	PriceProviderPJM    = "pjm"
	PriceProviderTOU    = "tou"
	PriceProviderStatic = "static"
)

// DefaultPJMPNodeID is the ComEd residual aggregate zone.
const DefaultPJMPNodeID = "33092371"

// Settings represents the per-site configuration stored in the database.
type Settings struct {
	DryRun bool `json:"dryRun"`
	// Pause skips the push to the inverter while still publishing the schedule
	Pause bool `json:"pause"`

	// Growatt plant and mix inverter
	PlantID      string `json:"plantID"`
	DeviceSerial string `json:"deviceSerial"`

	// Price source used when a run is not given a series
	PriceProvider string       `json:"priceProvider"`
	PricePNodeID  string       `json:"pricePNodeID,omitempty"`
	StaticSeries  HourlySeries `json:"staticSeries,omitempty"`
	TOUPeriods    []TOUPeriod  `json:"touPeriods,omitempty"`
	Timezone      string       `json:"timezone"`

	// Credentials for external systems (encrypted)
	EncryptedCredentials []byte `json:"encryptedCredentials,omitempty"`

	GrowattAuthStatus AuthStatus `json:"growattAuthStatus"`
}

// AuthStatus tracks consecutive login rejections so a site with bad
// credentials stops hammering the portal.
type AuthStatus struct {
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastAttempt         time.Time `json:"lastAttempt"`
}

// MaxAuthFailures is the number of consecutive rejections after which logins
// stop until the credentials are updated.
const MaxAuthFailures = 5

// AuthBackoffStep is the wait added per consecutive rejection.
const AuthBackoffStep = 5 * time.Minute

// Blocked returns an error when a login attempt should not be made at now.
func (a AuthStatus) Blocked(now time.Time) error {
	if a.ConsecutiveFailures >= MaxAuthFailures {
		return fmt.Errorf("authentication locked after %d consecutive failures", a.ConsecutiveFailures)
	}
	if a.ConsecutiveFailures > 0 {
		backoff := time.Duration(a.ConsecutiveFailures) * AuthBackoffStep
		if now.Sub(a.LastAttempt) < backoff {
			return fmt.Errorf("authentication rate limited until %s", a.LastAttempt.Add(backoff).Format(time.RFC3339))
		}
	}
	return nil
}

// Target returns the device the site pushes schedules to.
func (s Settings) Target() DeviceTarget {
	return DeviceTarget{PlantID: s.PlantID, DeviceSerial: s.DeviceSerial}
}

// Credentials for external systems
type Credentials struct {
	Growatt *GrowattCredentials `json:"growatt,omitempty"`
}

// Has reports which systems have credentials set.
func (c Credentials) Has() map[string]bool {
	return map[string]bool{
		"growatt": c.Growatt != nil && c.Growatt.Username != "" && c.Growatt.Password != "",
	}
}

// GrowattCredentials are the portal login for server.growatt.com.
type GrowattCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.Timezone == "" {
				s.Timezone = "UTC"
				migrated = true
			}
		case 2:
			// version 2: price providers, static tables were the only option before
			if s.PriceProvider == "" && len(s.StaticSeries) > 0 {
				s.PriceProvider = PriceProviderStatic
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
