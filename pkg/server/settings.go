package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/raterudder/chargeplan/pkg/growatt"
	"github.com/raterudder/chargeplan/pkg/log"
	"github.com/raterudder/chargeplan/pkg/storage"
	"github.com/raterudder/chargeplan/pkg/types"
	"github.com/raterudder/chargeplan/pkg/utility"
)

type settingsWithVersion struct {
	types.Settings
	version int
}

// getSettingsWithMigration loads, migrates and decrypts a site's settings. In
// multi-site mode a site without a settings document does not exist.
func (s *Server) getSettingsWithMigration(ctx context.Context, siteID string) (settingsWithVersion, types.Credentials, error) {
	settings, version, err := s.storage.GetSettings(ctx, siteID)
	if err != nil {
		return settingsWithVersion{}, types.Credentials{}, err
	}
	if version == 0 && !s.singleSite {
		return settingsWithVersion{}, types.Credentials{}, storage.ErrSiteNotFound
	}
	sv := settingsWithVersion{
		Settings: settings,
		version:  version,
	}

	if version < types.CurrentSettingsVersion {
		log.Ctx(ctx).InfoContext(ctx, "migrating settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
		newSettings, changed, err := types.MigrateSettings(settings, version)
		if err != nil {
			// best effort, keep using the stored settings
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings", slog.Int("currentVersion", version), slog.Any("error", err))
		} else if changed {
			sv.Settings = newSettings
			sv.version = types.CurrentSettingsVersion
			if err := s.storage.SetSettings(ctx, siteID, newSettings, types.CurrentSettingsVersion); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated settings", slog.Any("error", err))
			} else {
				log.Ctx(ctx).InfoContext(ctx, "saved migrated settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
			}
		}
	}

	creds, err := s.decryptCredentials(ctx, settings.EncryptedCredentials)
	if err != nil {
		return settingsWithVersion{}, types.Credentials{}, err
	}
	return sv, creds, nil
}

// SettingsRes is the response type for GetSettings
type SettingsRes struct {
	types.Settings
	HasCredentials map[string]bool `json:"hasCredentials"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)
	settings, creds, err := s.getSettingsWithMigration(ctx, siteID)
	if err != nil {
		if errors.Is(err, storage.ErrSiteNotFound) {
			writeJSONError(w, "site not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	// credentials never leave the server, not even encrypted
	settings.EncryptedCredentials = nil

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, SettingsRes{
		Settings:       settings.Settings,
		HasCredentials: creds.Has(),
	})
}

func validateSettings(settings types.Settings) error {
	if settings.PriceProvider != "" && !slices.Contains(utility.Providers(), settings.PriceProvider) {
		return fmt.Errorf("unknown price provider: %s", settings.PriceProvider)
	}
	if _, err := time.LoadLocation(settings.Timezone); err != nil {
		return fmt.Errorf("invalid timezone: %s", settings.Timezone)
	}
	if settings.PricePNodeID != "" && settings.PriceProvider != types.PriceProviderPJM {
		return errors.New("pricePNodeID requires the pjm provider")
	}
	for _, p := range settings.TOUPeriods {
		if p.HourStart < 0 || p.HourEnd > 24 || p.HourStart >= p.HourEnd {
			return fmt.Errorf("invalid tou period hours: %d-%d", p.HourStart, p.HourEnd)
		}
	}
	return nil
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	var req struct {
		types.Settings
		Credentials *types.Credentials `json:"credentials,omitempty"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	newSettings := req.Settings
	if newSettings.Timezone == "" {
		newSettings.Timezone = "UTC"
	}
	if err := validateSettings(newSettings); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if newSettings.PriceProvider != "" {
		if _, err := s.utilities.Site(ctx, siteID, newSettings); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "invalid price provider settings", slog.String("priceProvider", newSettings.PriceProvider), slog.Any("error", err))
			writeJSONError(w, fmt.Sprintf("invalid price provider settings: %v", err), http.StatusBadRequest)
			return
		}
	}

	// server-owned fields come from the stored settings
	existing, _, err := s.storage.GetSettings(ctx, siteID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	newSettings.GrowattAuthStatus = existing.GrowattAuthStatus
	newSettings.EncryptedCredentials = existing.EncryptedCredentials

	if req.Credentials != nil && req.Credentials.Growatt != nil {
		creds, err := s.decryptCredentials(ctx, existing.EncryptedCredentials)
		if err != nil {
			writeJSONError(w, "failed to decrypt credentials", http.StatusInternalServerError)
			return
		}

		next := *req.Credentials.Growatt
		// an empty password keeps the stored one for the same account
		if next.Password == "" && creds.Growatt != nil && creds.Growatt.Username == next.Username {
			next.Password = creds.Growatt.Password
		}
		changed := creds.Growatt == nil || *creds.Growatt != next
		creds.Growatt = &next

		if changed {
			// new credentials deserve a fresh attempt
			newSettings.GrowattAuthStatus = types.AuthStatus{}
			if err := s.controller.VerifyCredentials(ctx, creds); err != nil {
				if errors.Is(err, growatt.ErrAuthenticationFailed) {
					existing.GrowattAuthStatus.ConsecutiveFailures++
					existing.GrowattAuthStatus.LastAttempt = s.clock().UTC()
					if dbErr := s.storage.SetSettings(ctx, siteID, existing, types.CurrentSettingsVersion); dbErr != nil {
						log.Ctx(ctx).ErrorContext(ctx, "failed to update settings auth status", slog.Any("error", dbErr))
					}
					writeJSONError(w, "growatt rejected the credentials", http.StatusBadRequest)
					return
				}
				log.Ctx(ctx).ErrorContext(ctx, "failed to verify growatt credentials", slog.Any("error", err))
				writeJSONError(w, fmt.Sprintf("failed to verify growatt credentials: %v", err), http.StatusBadGateway)
				return
			}
		}

		encrypted, err := s.encryptCredentials(ctx, creds)
		if err != nil {
			writeJSONError(w, "failed to encrypt credentials", http.StatusInternalServerError)
			return
		}
		newSettings.EncryptedCredentials = encrypted
	}

	if err := s.storage.SetSettings(ctx, siteID, newSettings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "settings updated")
	w.WriteHeader(http.StatusOK)
}
