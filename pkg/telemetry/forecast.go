package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/common"
	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// The public forecast tier rate-limits aggressively, so responses are
// cached well beyond the control cadence.
const solarForecastCacheFor = 30 * time.Minute

// SolarForecast fetches a production forecast from a forecast.solar style
// watts endpoint for a single plane.
type SolarForecast struct {
	apiURL      string
	latitude    float64
	longitude   float64
	declination float64
	azimuth     float64
	kwPeak      float64
	client      *http.Client

	mu            sync.Mutex
	lastFetchTime time.Time
	cachedPoints  []types.SolarForecastPoint

	now func() time.Time
}

// configuredSolarForecast sets up flags for the solar forecast API.
func configuredSolarForecast() *SolarForecast {
	f := &SolarForecast{
		client: common.HTTPClient(15 * time.Second),
		now:    time.Now,
	}
	apiURL := lflag.String("solar-api-url", "https://api.forecast.solar/estimate/watts", "Base URL for the solar forecast API")
	lat := lflag.String("solar-latitude", "0", "Plant latitude")
	lon := lflag.String("solar-longitude", "0", "Plant longitude")
	dec := lflag.String("solar-declination", "30", "Panel declination in degrees, 0 horizontal")
	az := lflag.String("solar-azimuth", "0", "Panel azimuth in degrees, 0 south")
	kwp := lflag.String("solar-kwp", "0", "Installed peak power in kW (0 disables the forecast)")

	lflag.Do(func() {
		f.apiURL = *apiURL
		f.latitude = mustFloat("solar-latitude", *lat)
		f.longitude = mustFloat("solar-longitude", *lon)
		f.declination = mustFloat("solar-declination", *dec)
		f.azimuth = mustFloat("solar-azimuth", *az)
		f.kwPeak = mustFloat("solar-kwp", *kwp)
	})

	return f
}

func mustFloat(name, s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid %s: %q", name, s))
	}
	return v
}

// Validate ensures the configuration is valid.
func (f *SolarForecast) Validate() error {
	if f.apiURL == "" {
		return fmt.Errorf("solar-api-url is required")
	}
	if _, err := url.Parse(f.apiURL); err != nil {
		return fmt.Errorf("failed to parse solar url (%s): %w", f.apiURL, err)
	}
	return nil
}

// Enabled reports whether a plant is configured at all.
func (f *SolarForecast) Enabled() bool {
	return f.kwPeak > 0
}

// solarResponse is the forecast.solar watts document: a map of local
// "2006-01-02 15:04:05" timestamps to watts.
type solarResponse struct {
	Result map[string]float64 `json:"result"`
}

// Forecast implements ForecastProvider. Returns no points when no plant is
// configured, so the reserve simply runs without a forecast.
func (f *SolarForecast) Forecast(ctx context.Context) ([]types.SolarForecastPoint, error) {
	if !f.Enabled() {
		return nil, nil
	}

	now := f.now()
	f.mu.Lock()
	if !f.lastFetchTime.IsZero() && now.Sub(f.lastFetchTime) < solarForecastCacheFor {
		points := f.cachedPoints
		f.mu.Unlock()
		return points, nil
	}
	f.mu.Unlock()

	u := fmt.Sprintf("%s/%g/%g/%g/%g/%g",
		f.apiURL, f.latitude, f.longitude, f.declination, f.azimuth, f.kwPeak)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build solar forecast request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("solar forecast request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("solar forecast api returned %d", resp.StatusCode)
	}

	var body solarResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode solar forecast response: %w", err)
	}

	points := make([]types.SolarForecastPoint, 0, len(body.Result))
	for ts, watts := range body.Result {
		t, err := time.ParseInLocation("2006-01-02 15:04:05", ts, now.Location())
		if err != nil {
			continue
		}
		points = append(points, types.SolarForecastPoint{Timestamp: t, Watts: watts})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})

	f.mu.Lock()
	f.cachedPoints = points
	f.lastFetchTime = now
	f.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "fetched solar forecast",
		slog.Int("points", len(points)),
	)
	return points, nil
}
