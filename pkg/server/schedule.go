package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/raterudder/chargeplan/pkg/log"
	"github.com/raterudder/chargeplan/pkg/storage"
	"github.com/raterudder/chargeplan/pkg/types"
)

// handleGetSchedule returns the latest published display values. After a
// restart they come from the latest stored run.
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := s.getSiteID(r)

	w.Header().Set("Cache-Control", "no-store")
	if s.display != nil {
		if d, ok := s.display.Latest(siteID); ok {
			writeJSON(w, d)
			return
		}
	}

	run, err := s.storage.GetLatestRun(ctx, siteID)
	if err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			writeJSONError(w, "no schedule published", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get latest run", slog.Any("error", err))
		writeJSONError(w, "failed to get schedule", http.StatusInternalServerError)
		return
	}

	d := types.Display{ChargeTime: run.ChargeTime, LoadTime: run.LoadTime, Timestamp: run.Timestamp}
	if s.display != nil {
		// warm the cache so later reads skip storage
		if err := s.display.Publish(ctx, siteID, d); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to cache display values", slog.Any("error", err))
		}
	}
	writeJSON(w, d)
}
