package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolarForecast(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Contains(t, r.URL.Path, "/59.3/18.1/30/0/10")
		fmt.Fprint(w, `{"result": {
			"2026-03-10 10:00:00": 1500,
			"2026-03-10 09:00:00": 800,
			"2026-03-10 11:00:00": 2100
		}}`)
	}))
	defer ts.Close()

	f := &SolarForecast{
		apiURL:      ts.URL,
		latitude:    59.3,
		longitude:   18.1,
		declination: 30,
		azimuth:     0,
		kwPeak:      10,
		client:      ts.Client(),
		now:         func() time.Time { return now },
	}

	points, err := f.Forecast(ctx)
	require.NoError(t, err)
	require.Len(t, points, 3)
	// sorted by time regardless of map order
	assert.Equal(t, 800.0, points[0].Watts)
	assert.Equal(t, 1500.0, points[1].Watts)
	assert.Equal(t, 2100.0, points[2].Watts)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), points[0].Timestamp)

	// cached on the second call
	_, err = f.Forecast(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
}

func TestSolarForecastDisabled(t *testing.T) {
	f := &SolarForecast{kwPeak: 0, now: time.Now}
	points, err := f.Forecast(context.Background())
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestSolarForecastServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	f := &SolarForecast{
		apiURL: ts.URL,
		kwPeak: 5,
		client: ts.Client(),
		now:    time.Now,
	}
	_, err := f.Forecast(context.Background())
	assert.Error(t, err)
}
