package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spotDoc(day time.Time, perKWH ...float64) string {
	var entries []string
	for i, p := range perKWH {
		start := day.Add(time.Duration(i) * time.Hour)
		entries = append(entries, fmt.Sprintf(
			`{"SEK_per_kWh": %g, "time_start": %q, "time_end": %q}`,
			p, start.Format(time.RFC3339), start.Add(time.Hour).Format(time.RFC3339)))
	}
	return "[" + strings.Join(entries, ",") + "]"
}

func TestSpotPrices(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	yesterday := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		switch {
		case strings.HasSuffix(r.URL.Path, "/2026/03-09_SE4.json"):
			fmt.Fprint(w, spotDoc(yesterday, 0.50, 0.55))
		case strings.HasSuffix(r.URL.Path, "/2026/03-10_SE4.json"):
			fmt.Fprint(w, spotDoc(today, 0.60, 0.80))
		default:
			// tomorrow is not published yet
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	s := &Spot{
		apiURL: ts.URL,
		area:   "SE4",
		client: ts.Client(),
		now:    func() time.Time { return now },
	}

	prices, err := s.Prices(ctx)
	require.NoError(t, err)
	require.Len(t, prices, 4)
	// merged and ordered across days
	assert.Equal(t, 0.50, prices[0].PerKWH)
	assert.Equal(t, 0.80, prices[3].PerKWH)
	assert.True(t, prices[0].TSStart.Before(prices[3].TSStart))
	firstRequests := requests

	// second call within the cache window does not refetch
	_, err = s.Prices(ctx)
	require.NoError(t, err)
	assert.Equal(t, firstRequests, requests)
}

func TestSpotConfirmedPrices(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC)
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/2026/03-10_SE4.json") {
			fmt.Fprint(w, spotDoc(today, 0.60, 0.80, 0.90))
			return
		}
		http.NotFound(w, r)
	}))
	defer ts.Close()

	s := &Spot{
		apiURL: ts.URL,
		area:   "SE4",
		client: ts.Client(),
		now:    func() time.Time { return now },
	}

	// only the 00-01 hour has fully elapsed at 01:30
	prices, err := s.ConfirmedPrices(ctx, today, today.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, 0.60, prices[0].PerKWH)
}

func TestSpotValidate(t *testing.T) {
	s := &Spot{apiURL: "https://example.com/api", area: "SE4"}
	assert.NoError(t, s.Validate())

	s = &Spot{area: "SE4"}
	assert.Error(t, s.Validate())

	s = &Spot{apiURL: "https://example.com/api"}
	assert.Error(t, s.Validate())
}
