package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/chargeplan/pkg/controller"
	"github.com/raterudder/chargeplan/pkg/log"
	"github.com/raterudder/chargeplan/pkg/schedule"
	"github.com/raterudder/chargeplan/pkg/storage"
	"github.com/raterudder/chargeplan/pkg/types"
)

// ConfigChargeReq runs the schedule for a site. Without a series the site's
// price provider supplies the series of Day (today in the site's timezone
// when empty).
type ConfigChargeReq struct {
	SiteID string             `json:"siteID"`
	Series types.HourlySeries `json:"series,omitempty"`
	Day    string             `json:"day,omitempty"`
}

func (s *Server) handleConfigCharge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	var req ConfigChargeReq
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

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

	series := req.Series
	if len(series) == 0 {
		day, err := s.parseDay(req.Day, settings.Timezone)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		u, err := s.utilities.Site(ctx, siteID, settings.Settings)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get price provider", slog.String("priceProvider", settings.PriceProvider), slog.Any("error", err))
			writeJSONError(w, fmt.Sprintf("no usable price provider: %v", err), http.StatusBadRequest)
			return
		}
		series, err = u.HourlySeries(ctx, day)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get hourly series", slog.Time("day", day), slog.Any("error", err))
			writeJSONError(w, "failed to get hourly series", http.StatusBadGateway)
			return
		}
	}

	now := s.clock()
	run, err := s.controller.ConfigCharge(ctx, controller.Request{
		SiteID:       siteID,
		Series:       series,
		Target:       settings.Target(),
		Credentials:  creds,
		DryRun:       settings.DryRun,
		Paused:       settings.Pause,
		LoginBlocked: settings.GrowattAuthStatus.Blocked(now),
	})
	if err != nil {
		if errors.Is(err, schedule.ErrSeriesTooShort) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to run schedule", slog.Any("error", err))
		writeJSONError(w, "failed to run schedule", http.StatusInternalServerError)
		return
	}

	s.recordAuthResult(ctx, siteID, settings, run.Result)

	if err := s.storage.InsertRun(ctx, siteID, run); err != nil {
		// the inverter already has the schedule, losing history is not fatal
		log.Ctx(ctx).ErrorContext(ctx, "failed to insert schedule run", slog.Any("error", err))
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, run)
}

// recordAuthResult updates the login backoff state after a run.
func (s *Server) recordAuthResult(ctx context.Context, siteID string, settings settingsWithVersion, result types.RunResult) {
	status := settings.GrowattAuthStatus
	switch result {
	case types.RunResultAuthFailed:
		status.ConsecutiveFailures++
		status.LastAttempt = s.clock().UTC()
	case types.RunResultPushed, types.RunResultUpdateRejected:
		if status.ConsecutiveFailures == 0 {
			return
		}
		status = types.AuthStatus{LastAttempt: s.clock().UTC()}
	default:
		return
	}

	settings.GrowattAuthStatus = status
	if err := s.storage.SetSettings(ctx, siteID, settings.Settings, settings.version); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to update settings auth status", slog.Any("error", err))
	}
}

func (s *Server) parseDay(day string, timezone string) (time.Time, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid site timezone: %s", timezone)
		}
	}
	if day == "" {
		return s.clock().In(loc), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, day, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day (want YYYY-MM-DD): %s", day)
	}
	return t, nil
}
