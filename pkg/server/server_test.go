package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/battery"
	"github.com/Bokbacken/energy-dispatcher/pkg/pipeline"
	"github.com/Bokbacken/energy-dispatcher/pkg/storage/storagemock"
	"github.com/Bokbacken/energy-dispatcher/pkg/telemetry"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) (*Server, *storagemock.Memory) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	db := storagemock.New()
	settings := types.Settings{
		LookbackHours:        48,
		EMASmoothing:         0.8,
		BaselineLoadW:        1000,
		UseDynamicThresholds: true,
		BatteryCapacityKWH:   10,
		ComfortPriority:      types.ComfortCostFirst,
	}
	require.NoError(t, db.SetSettings(ctx, settings, types.CurrentSettingsVersion))

	src := telemetry.NewMock()
	for i := 0; i < 12; i++ {
		start := now.Truncate(time.Hour).Add(time.Duration(i-1) * time.Hour)
		src.PriceData = append(src.PriceData, types.Price{
			TSStart: start, TSEnd: start.Add(time.Hour), PerKWH: 1.0 + float64(i%3),
		})
	}
	src.ReadingsData = types.Readings{
		Timestamp:  now,
		BatterySOC: 60,
		HouseLoadW: 800,
	}

	p := pipeline.New(db, src.Sources(), battery.NewMock(60))
	require.NoError(t, p.Start(ctx))
	return New(p, db), db
}

func TestServerEndpoints(t *testing.T) {
	s, _ := testServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	get := func(t *testing.T, path string) *http.Response {
		t.Helper()
		resp, err := ts.Client().Get(ts.URL + path)
		require.NoError(t, err)
		return resp
	}

	t.Run("healthz", func(t *testing.T) {
		resp := get(t, "/healthz")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("plan before any cycle is not found", func(t *testing.T) {
		resp := get(t, "/api/plan")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("trigger cycle then read results", func(t *testing.T) {
		resp, err := ts.Client().Post(ts.URL+"/api/cycle", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result types.CycleResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.NotEmpty(t, result.Prices)

		for _, path := range []string{"/api/cycle", "/api/plan", "/api/baseline", "/api/reserve", "/api/ledger"} {
			resp := get(t, path)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		}
	})

	t.Run("get and update settings", func(t *testing.T) {
		resp := get(t, "/api/settings")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var settings types.Settings
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&settings))
		settings.ComfortPriority = types.ComfortBalanced

		body, err := json.Marshal(settings)
		require.NoError(t, err)
		postResp, err := ts.Client().Post(ts.URL+"/api/settings", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer postResp.Body.Close()
		assert.Equal(t, http.StatusOK, postResp.StatusCode)
	})

	t.Run("invalid settings rejected", func(t *testing.T) {
		resp, err := ts.Client().Post(ts.URL+"/api/settings", "application/json",
			strings.NewReader(`{"lookbackHours": 999}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("override lifecycle", func(t *testing.T) {
		o := types.Override{
			Mode:      types.ActionCharge,
			PowerW:    2000,
			ExpiresAt: time.Now().Add(time.Hour),
		}
		body, err := json.Marshal(o)
		require.NoError(t, err)
		resp, err := ts.Client().Post(ts.URL+"/api/override", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/override", nil)
		require.NoError(t, err)
		delResp, err := ts.Client().Do(req)
		require.NoError(t, err)
		delResp.Body.Close()
		assert.Equal(t, http.StatusNoContent, delResp.StatusCode)
	})

	t.Run("invalid override rejected", func(t *testing.T) {
		resp, err := ts.Client().Post(ts.URL+"/api/override", "application/json",
			strings.NewReader(`{"mode": "charge", "powerW": 999999, "expiresAt": "2030-01-01T00:00:00Z"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("history endpoints", func(t *testing.T) {
		for _, path := range []string{"/api/history/prices?hours=24", "/api/history/cycles"} {
			resp := get(t, path)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		}
	})
}

func TestWebsocketStream(t *testing.T) {
	s, _ := testServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// a triggered cycle is pushed to the subscriber
	httpResp, err := ts.Client().Post(ts.URL+"/api/cycle", "application/json", nil)
	require.NoError(t, err)
	httpResp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var result types.CycleResult
	require.NoError(t, json.Unmarshal(msg, &result))
	assert.NotEmpty(t, result.Prices)
	assert.Equal(t, 1, s.hub.count())
}
