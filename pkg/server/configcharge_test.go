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

	"github.com/raterudder/chargeplan/pkg/growatt"
	"github.com/raterudder/chargeplan/pkg/types"
)

func TestConfigCharge(t *testing.T) {
	creds := types.Credentials{Growatt: &types.GrowattCredentials{Username: "owner", Password: "secret"}}
	baseSettings := func(t *testing.T) types.Settings {
		return types.Settings{
			PlantID:              "P1",
			DeviceSerial:         "SN1",
			Timezone:             "UTC",
			EncryptedCredentials: encryptedTestCreds(t, creds),
		}
	}

	post := func(srv *Server, body any) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/configCharge", jsonBody(t, body))
		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, req)
		return w
	}

	decodeRun := func(t *testing.T, w *httptest.ResponseRecorder) types.ScheduleRun {
		t.Helper()
		var run types.ScheduleRun
		require.NoError(t, json.NewDecoder(w.Body).Decode(&run))
		return run
	}

	t.Run("Explicit series is pushed", func(t *testing.T) {
		fg := &fakeGrowatt{}
		srv, mockDB := newTestServer(t, fg)
		mockDB.On("GetSettings", mock.Anything, types.SiteIDNone).Return(baseSettings(t), types.CurrentSettingsVersion, nil)
		mockDB.On("InsertRun", mock.Anything, types.SiteIDNone, mock.MatchedBy(func(run types.ScheduleRun) bool {
			return run.Result == types.RunResultPushed && run.ChargeTime == "04:00" && run.LoadTime == "15:00"
		})).Return(nil).Once()

		w := post(srv, ConfigChargeReq{Series: testSeries()})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		run := decodeRun(t, w)
		assert.Equal(t, types.RunResultPushed, run.Result)
		assert.Equal(t, types.DeviceTarget{PlantID: "P1", DeviceSerial: "SN1"}, run.Target)
		assert.Equal(t, 1, fg.sets)
		assert.Equal(t, types.ScheduleDecision{ChargeStartHour: 4, LoadStartHour: 15}, fg.decision)

		d, ok := srv.display.Latest(types.SiteIDNone)
		require.True(t, ok)
		assert.Equal(t, "04:00", d.ChargeTime)
		mockDB.AssertExpectations(t)
	})

	t.Run("Short series", func(t *testing.T) {
		fg := &fakeGrowatt{}
		srv, mockDB := newTestServer(t, fg)
		mockDB.On("GetSettings", mock.Anything, types.SiteIDNone).Return(baseSettings(t), types.CurrentSettingsVersion, nil)

		w := post(srv, ConfigChargeReq{Series: testSeries()[:10]})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 0, fg.logins)
		mockDB.AssertNotCalled(t, "InsertRun", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Series from static provider", func(t *testing.T) {
		fg := &fakeGrowatt{}
		srv, mockDB := newTestServer(t, fg)
		settings := baseSettings(t)
		settings.PriceProvider = types.PriceProviderStatic
		settings.StaticSeries = testSeries()
		mockDB.On("GetSettings", mock.Anything, types.SiteIDNone).Return(settings, types.CurrentSettingsVersion, nil)
		mockDB.On("InsertRun", mock.Anything, types.SiteIDNone, mock.Anything).Return(nil)

		w := post(srv, ConfigChargeReq{Day: "2024-01-26"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		run := decodeRun(t, w)
		assert.Equal(t, testSeries(), run.Series)
		assert.Equal(t, "04:00", run.ChargeTime)
	})

	t.Run("No provider", func(t *testing.T) {
		srv, mockDB := newTestServer(t, &fakeGrowatt{})
		mockDB.On("GetSettings", mock.Anything, types.SiteIDNone).Return(baseSettings(t), types.CurrentSettingsVersion, nil)

		w := post(srv, ConfigChargeReq{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Invalid day", func(t *testing.T) {
		srv, mockDB := newTestServer(t, &fakeGrowatt{})
		settings := baseSettings(t)
		settings.PriceProvider = types.PriceProviderStatic
		settings.StaticSeries = testSeries()
		mockDB.On("GetSettings", mock.Anything, types.SiteIDNone).Return(settings, types.CurrentSettingsVersion, nil)

		w := post(srv, ConfigChargeReq{Day: "26/01/2024"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Dry run", func(t *testing.T) {
		fg := &fakeGrowatt{}
		srv, mockDB := newTestServer(t, fg)
		settings := baseSettings(t)
		settings.DryRun = true
		mockDB.On("GetSettings", mock.Anything, types.SiteIDNone).Return(settings, types.CurrentSettingsVersion, nil)
		mockDB.On("InsertRun", mock.Anything, types.SiteIDNone, mock.Anything).Return(nil)

		w := post(srv, ConfigChargeReq{Series: testSeries()})
		require.Equal(t, http.StatusOK, w.Code)
		run := decodeRun(t, w)
		assert.Equal(t, types.RunResultSkipped, run.Result)
		assert.True(t, run.DryRun)
		assert.Equal(t, 0, fg.logins)
	})

	t.Run("Authentication failure is counted", func(t *testing.T) {
		fg := &fakeGrowatt{loginErr: growatt.ErrAuthenticationFailed}
		srv, mockDB := newTestServer(t, fg)
		mockDB.On("GetSettings", mock.Anything, types.SiteIDNone).Return(baseSettings(t), types.CurrentSettingsVersion, nil)
		mockDB.On("SetSettings", mock.Anything, types.SiteIDNone, mock.MatchedBy(func(s types.Settings) bool {
			return s.GrowattAuthStatus.ConsecutiveFailures == 1 && s.GrowattAuthStatus.LastAttempt.Equal(testNow)
		}), types.CurrentSettingsVersion).Return(nil).Once()
		mockDB.On("InsertRun", mock.Anything, types.SiteIDNone, mock.Anything).Return(nil)

		w := post(srv, ConfigChargeReq{Series: testSeries()})
		require.Equal(t, http.StatusOK, w.Code)
		run := decodeRun(t, w)
		assert.Equal(t, types.RunResultAuthFailed, run.Result)
		assert.Equal(t, 0, fg.sets)
		mockDB.AssertExpectations(t)
	})

	t.Run("Success resets failures", func(t *testing.T) {
		fg := &fakeGrowatt{}
		srv, mockDB := newTestServer(t, fg)
		settings := baseSettings(t)
		settings.GrowattAuthStatus = types.AuthStatus{ConsecutiveFailures: 2, LastAttempt: testNow.Add(-time.Hour)}
		mockDB.On("GetSettings", mock.Anything, types.SiteIDNone).Return(settings, types.CurrentSettingsVersion, nil)
		mockDB.On("SetSettings", mock.Anything, types.SiteIDNone, mock.MatchedBy(func(s types.Settings) bool {
			return s.GrowattAuthStatus.ConsecutiveFailures == 0
		}), types.CurrentSettingsVersion).Return(nil).Once()
		mockDB.On("InsertRun", mock.Anything, types.SiteIDNone, mock.Anything).Return(nil)

		w := post(srv, ConfigChargeReq{Series: testSeries()})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, types.RunResultPushed, decodeRun(t, w).Result)
		mockDB.AssertExpectations(t)
	})

	t.Run("Locked out", func(t *testing.T) {
		fg := &fakeGrowatt{}
		srv, mockDB := newTestServer(t, fg)
		settings := baseSettings(t)
		settings.GrowattAuthStatus = types.AuthStatus{ConsecutiveFailures: types.MaxAuthFailures, LastAttempt: testNow.Add(-48 * time.Hour)}
		mockDB.On("GetSettings", mock.Anything, types.SiteIDNone).Return(settings, types.CurrentSettingsVersion, nil)
		mockDB.On("InsertRun", mock.Anything, types.SiteIDNone, mock.Anything).Return(nil)

		w := post(srv, ConfigChargeReq{Series: testSeries()})
		require.Equal(t, http.StatusOK, w.Code)
		run := decodeRun(t, w)
		assert.Equal(t, types.RunResultFailed, run.Result)
		assert.Contains(t, run.Error, "locked")
		assert.Equal(t, 0, fg.logins)
	})

	t.Run("Update rejected", func(t *testing.T) {
		fg := &fakeGrowatt{setErr: growatt.ErrUpdateRejected}
		srv, mockDB := newTestServer(t, fg)
		mockDB.On("GetSettings", mock.Anything, types.SiteIDNone).Return(baseSettings(t), types.CurrentSettingsVersion, nil)
		mockDB.On("InsertRun", mock.Anything, types.SiteIDNone, mock.Anything).Return(nil)

		w := post(srv, ConfigChargeReq{Series: testSeries()})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, types.RunResultUpdateRejected, decodeRun(t, w).Result)
	})

	t.Run("Storage failure is not fatal", func(t *testing.T) {
		srv, mockDB := newTestServer(t, &fakeGrowatt{})
		mockDB.On("GetSettings", mock.Anything, types.SiteIDNone).Return(baseSettings(t), types.CurrentSettingsVersion, nil)
		mockDB.On("InsertRun", mock.Anything, types.SiteIDNone, mock.Anything).Return(errors.New("unavailable"))

		w := post(srv, ConfigChargeReq{Series: testSeries()})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, types.RunResultPushed, decodeRun(t, w).Result)
	})

	t.Run("Settings are migrated", func(t *testing.T) {
		srv, mockDB := newTestServer(t, &fakeGrowatt{})
		settings := baseSettings(t)
		settings.Timezone = ""
		mockDB.On("GetSettings", mock.Anything, types.SiteIDNone).Return(settings, 0, nil)
		mockDB.On("SetSettings", mock.Anything, types.SiteIDNone, mock.MatchedBy(func(s types.Settings) bool {
			return s.Timezone == "UTC"
		}), types.CurrentSettingsVersion).Return(nil).Once()
		mockDB.On("InsertRun", mock.Anything, types.SiteIDNone, mock.Anything).Return(nil)

		w := post(srv, ConfigChargeReq{Series: testSeries()})
		require.Equal(t, http.StatusOK, w.Code)
		mockDB.AssertExpectations(t)
	})

	t.Run("Unknown site", func(t *testing.T) {
		srv, mockDB := newTestServer(t, &fakeGrowatt{})
		srv.singleSite = false
		mockDB.On("GetSettings", mock.Anything, "site9").Return(types.Settings{}, 0, nil)

		w := post(srv, ConfigChargeReq{SiteID: "site9", Series: testSeries()})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
