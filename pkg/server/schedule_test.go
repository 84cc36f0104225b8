package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/chargeplan/pkg/storage"
	"github.com/raterudder/chargeplan/pkg/types"
)

func TestGetSchedule(t *testing.T) {
	get := func(srv *Server) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/schedule", nil)
		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, req)
		return w
	}

	t.Run("From memory", func(t *testing.T) {
		srv, mockDB := newTestServer(t, &fakeGrowatt{})
		want := types.Display{ChargeTime: "02:00", LoadTime: "17:00", Timestamp: testNow}
		require.NoError(t, srv.display.Publish(t.Context(), types.SiteIDNone, want))

		w := get(srv)
		require.Equal(t, http.StatusOK, w.Code)
		var got types.Display
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, "02:00", got.ChargeTime)
		assert.Equal(t, "17:00", got.LoadTime)
		mockDB.AssertNotCalled(t, "GetLatestRun", mock.Anything, mock.Anything)
	})

	t.Run("From storage after restart", func(t *testing.T) {
		srv, mockDB := newTestServer(t, &fakeGrowatt{})
		mockDB.On("GetLatestRun", mock.Anything, types.SiteIDNone).Return(types.ScheduleRun{
			Timestamp:  testNow.Add(-time.Hour),
			ChargeTime: "03:00",
			LoadTime:   "16:00",
		}, nil).Once()

		w := get(srv)
		require.Equal(t, http.StatusOK, w.Code)
		var got types.Display
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, "03:00", got.ChargeTime)

		// the second read is served from memory
		w = get(srv)
		require.Equal(t, http.StatusOK, w.Code)
		mockDB.AssertNumberOfCalls(t, "GetLatestRun", 1)
	})

	t.Run("Nothing published", func(t *testing.T) {
		srv, mockDB := newTestServer(t, &fakeGrowatt{})
		mockDB.On("GetLatestRun", mock.Anything, types.SiteIDNone).Return(types.ScheduleRun{}, storage.ErrRunNotFound)

		w := get(srv)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Storage error", func(t *testing.T) {
		srv, mockDB := newTestServer(t, &fakeGrowatt{})
		mockDB.On("GetLatestRun", mock.Anything, types.SiteIDNone).Return(types.ScheduleRun{}, errors.New("unavailable"))

		w := get(srv)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
