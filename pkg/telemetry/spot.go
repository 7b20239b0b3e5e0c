package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/common"
	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Spot fetches the hourly day-ahead spot curve from a per-day JSON API
// (elprisetjustnu.se layout: one document per calendar day and bidding
// area). The next day's document does not exist until the exchange
// publishes it in the early afternoon, so a missing day is not an error.
type Spot struct {
	apiURL string
	area   string
	client *http.Client

	mu            sync.Mutex
	lastFetchTime time.Time
	cachedPrices  []types.Price

	now func() time.Time
}

// configuredSpot sets up flags for the spot price API.
func configuredSpot() *Spot {
	s := &Spot{
		client: common.HTTPClient(10 * time.Second),
		now:    time.Now,
	}
	apiURL := lflag.String("spot-api-url", "https://www.elprisetjustnu.se/api/v1/prices", "Base URL for the day-ahead spot price API")
	area := lflag.String("spot-area", "SE4", "Bidding area (SE1-SE4)")

	lflag.Do(func() {
		s.apiURL = *apiURL
		s.area = *area
	})

	return s
}

// Validate ensures the configuration is valid.
func (s *Spot) Validate() error {
	if s.apiURL == "" {
		return fmt.Errorf("spot-api-url is required")
	}
	if _, err := url.Parse(s.apiURL); err != nil {
		return fmt.Errorf("failed to parse spot url (%s): %w", s.apiURL, err)
	}
	if s.area == "" {
		return fmt.Errorf("spot-area is required")
	}
	return nil
}

// spotEntry is one hour in the per-day document.
type spotEntry struct {
	SEKPerKWH float64   `json:"SEK_per_kWh"`
	TimeStart time.Time `json:"time_start"`
	TimeEnd   time.Time `json:"time_end"`
}

// Prices returns yesterday through tomorrow (where published), cached for
// five minutes.
func (s *Spot) Prices(ctx context.Context) ([]types.Price, error) {
	now := s.now()

	s.mu.Lock()
	if !s.lastFetchTime.IsZero() && !now.Truncate(5*time.Minute).After(s.lastFetchTime) {
		prices := s.cachedPrices
		s.mu.Unlock()
		return prices, nil
	}
	s.mu.Unlock()

	prices, err := s.fetchDays(ctx, now.AddDate(0, 0, -1), now.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: spot api returned no prices", types.ErrDataUnavailable)
	}

	s.mu.Lock()
	s.cachedPrices = prices
	s.lastFetchTime = now
	s.mu.Unlock()

	return prices, nil
}

// ConfirmedPrices returns settled hours within [start, end), used for
// syncing history into storage.
func (s *Spot) ConfirmedPrices(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	log.Ctx(ctx).DebugContext(ctx, "getting confirmed spot prices",
		slog.Time("start", start),
		slog.Time("end", end),
	)
	prices, err := s.fetchDays(ctx, start, end)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]types.Price, 0, len(prices))
	for _, p := range prices {
		// day-ahead prices are final once published, but only report hours
		// that have fully elapsed and fall inside the requested range
		if p.TSEnd.After(now) || p.TSEnd.Before(start) || p.TSStart.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// fetchDays fetches every per-day document between the days of from and to
// inclusive and merges them into one ordered curve.
func (s *Spot) fetchDays(ctx context.Context, from, to time.Time) ([]types.Price, error) {
	var prices []types.Price
	for day := from.Truncate(24 * time.Hour); !day.After(to); day = day.AddDate(0, 0, 1) {
		dayPrices, err := s.fetchDay(ctx, day)
		if err != nil {
			return nil, err
		}
		prices = append(prices, dayPrices...)
	}
	sort.Slice(prices, func(i, j int) bool {
		return prices[i].TSStart.Before(prices[j].TSStart)
	})
	return prices, nil
}

// fetchDay fetches one day's document. A 404 means the day is not published
// yet and yields no prices rather than an error.
func (s *Spot) fetchDay(ctx context.Context, day time.Time) ([]types.Price, error) {
	u := fmt.Sprintf("%s/%04d/%02d-%02d_%s.json",
		s.apiURL, day.Year(), int(day.Month()), day.Day(), s.area)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build spot request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("spot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spot api returned %d for %s", resp.StatusCode, u)
	}

	var entries []spotEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode spot response: %w", err)
	}

	prices := make([]types.Price, 0, len(entries))
	for _, e := range entries {
		prices = append(prices, types.Price{
			TSStart: e.TimeStart,
			TSEnd:   e.TimeEnd,
			PerKWH:  e.SEKPerKWH,
		})
	}
	return prices, nil
}
