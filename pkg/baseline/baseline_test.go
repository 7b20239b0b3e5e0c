package baseline

import (
	"context"
	"testing"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourlySamples(start time.Time, watts []float64) []types.PowerSample {
	out := make([]types.PowerSample, 0, len(watts))
	for i, w := range watts {
		out = append(out, types.PowerSample{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Watts:     w,
			Source:    types.ChannelHouseLoad,
		})
	}
	return out
}

func TestEstimateHistorical(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(-48 * time.Hour)

	baseInput := func() Input {
		watts := make([]float64, 48)
		for i := range watts {
			watts[i] = 500
		}
		return Input{
			Now:           now,
			LookbackHours: 48,
			Smoothing:     0.8,
			HouseLoad:     hourlySamples(start, watts),
		}
	}

	t.Run("flat load averages to itself", func(t *testing.T) {
		e := New()
		est, err := e.Estimate(ctx, baseInput())
		require.NoError(t, err)
		assert.True(t, est.Available)
		assert.Equal(t, types.BaselineMethodHistorical, est.Method)
		assert.InDelta(t, 500.0, est.OverallW, 0.001)
		assert.Equal(t, 48, est.SampleCount)
	})

	t.Run("ev charging hours are excluded", func(t *testing.T) {
		in := baseInput()
		// 3 hours of EV charging > 100W, house load spikes during them
		evStart := start.Add(10 * time.Hour)
		for i := 0; i < 3; i++ {
			in.EVCharge = append(in.EVCharge, types.PowerSample{
				Timestamp: evStart.Add(time.Duration(i) * time.Hour),
				Watts:     7000,
			})
			in.HouseLoad[10+i].Watts = 8000
		}

		e := New()
		est, err := e.Estimate(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, 45, est.SampleCount)
		assert.InDelta(t, 500.0, est.OverallW, 0.001)
	})

	t.Run("ev charging below threshold is kept", func(t *testing.T) {
		in := baseInput()
		in.EVCharge = []types.PowerSample{{Timestamp: start.Add(10 * time.Hour), Watts: 50}}

		e := New()
		est, err := e.Estimate(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, 48, est.SampleCount)
	})

	t.Run("grid charging hours are excluded", func(t *testing.T) {
		in := baseInput()
		// battery charging 3kW with only 1kW solar surplus -> 2kW from grid
		ts := start.Add(20 * time.Hour)
		in.BatteryPower = []types.PowerSample{{Timestamp: ts, Watts: -3000}}
		in.PV = []types.PowerSample{{Timestamp: ts, Watts: 1500}}

		e := New()
		est, err := e.Estimate(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, 47, est.SampleCount)
	})

	t.Run("solar covered charging is kept", func(t *testing.T) {
		in := baseInput()
		// charging entirely from surplus solar: pv-load covers the charge
		ts := start.Add(20 * time.Hour)
		in.BatteryPower = []types.PowerSample{{Timestamp: ts, Watts: -3000}}
		in.PV = []types.PowerSample{{Timestamp: ts, Watts: 4000}}

		e := New()
		est, err := e.Estimate(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, 48, est.SampleCount)
	})

	t.Run("daypart split", func(t *testing.T) {
		in := baseInput()
		in.UseDayparts = true
		for i := range in.HouseLoad {
			switch types.DaypartOf(in.HouseLoad[i].Timestamp) {
			case types.DaypartNight:
				in.HouseLoad[i].Watts = 300
			case types.DaypartDay:
				in.HouseLoad[i].Watts = 600
			case types.DaypartEvening:
				in.HouseLoad[i].Watts = 900
			}
		}

		e := New()
		est, err := e.Estimate(ctx, in)
		require.NoError(t, err)
		require.NotNil(t, est.DaypartW)
		assert.InDelta(t, 300.0, est.DaypartW[types.DaypartNight], 0.001)
		assert.InDelta(t, 600.0, est.DaypartW[types.DaypartDay], 0.001)
		assert.InDelta(t, 900.0, est.DaypartW[types.DaypartEvening], 0.001)
	})

	t.Run("average clipped to band", func(t *testing.T) {
		in := baseInput()
		for i := range in.HouseLoad {
			in.HouseLoad[i].Watts = 9000
		}
		e := New()
		est, err := e.Estimate(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, 5000.0, est.OverallW)
	})
}

func TestFillHourlyGaps(t *testing.T) {
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("3 hour gap interpolated linearly", func(t *testing.T) {
		samples := []types.PowerSample{
			{Timestamp: start, Watts: 400},
			{Timestamp: start.Add(3 * time.Hour), Watts: 700},
		}
		filled, gaps := fillHourlyGaps(samples)
		require.Empty(t, gaps)
		require.Len(t, filled, 4)
		assert.InDelta(t, 500.0, filled[1].Watts, 0.001)
		assert.InDelta(t, 600.0, filled[2].Watts, 0.001)
	})

	t.Run("10 hour gap excluded", func(t *testing.T) {
		samples := []types.PowerSample{
			{Timestamp: start, Watts: 400},
			{Timestamp: start.Add(10 * time.Hour), Watts: 700},
		}
		filled, gaps := fillHourlyGaps(samples)
		require.Len(t, gaps, 1)
		assert.Len(t, filled, 2)
		assert.Equal(t, start, gaps[0].From)
	})

	t.Run("counter reset never interpolated across", func(t *testing.T) {
		samples := []types.PowerSample{
			{Timestamp: start, Watts: 5000},
			{Timestamp: start.Add(3 * time.Hour), Watts: 100},
		}
		filled, gaps := fillHourlyGaps(samples)
		require.Len(t, gaps, 1)
		assert.Len(t, filled, 2)
	})

	t.Run("unsorted input is ordered", func(t *testing.T) {
		samples := []types.PowerSample{
			{Timestamp: start.Add(2 * time.Hour), Watts: 600},
			{Timestamp: start, Watts: 400},
		}
		filled, gaps := fillHourlyGaps(samples)
		require.Empty(t, gaps)
		require.Len(t, filled, 3)
		assert.True(t, filled[0].Timestamp.Before(filled[1].Timestamp))
		assert.InDelta(t, 500.0, filled[1].Watts, 0.001)
	})
}

func TestEstimateEMAFallback(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("lookback 0 forces ema", func(t *testing.T) {
		e := New()
		est, err := e.Estimate(ctx, Input{
			Now:            now,
			LookbackHours:  0,
			Smoothing:      0.8,
			LiveHouseLoadW: 800,
			LiveAvailable:  true,
		})
		require.NoError(t, err)
		assert.True(t, est.Available)
		assert.Equal(t, types.BaselineMethodEMA, est.Method)
		assert.InDelta(t, 800.0, est.OverallW, 0.001)
	})

	t.Run("ema smooths across cycles", func(t *testing.T) {
		e := New()
		_, err := e.Estimate(ctx, Input{Now: now, Smoothing: 0.8, LiveHouseLoadW: 1000, LiveAvailable: true})
		require.NoError(t, err)
		est, err := e.Estimate(ctx, Input{Now: now.Add(5 * time.Minute), Smoothing: 0.8, LiveHouseLoadW: 500, LiveAvailable: true})
		require.NoError(t, err)
		// 0.8*1000 + 0.2*500
		assert.InDelta(t, 900.0, est.OverallW, 0.001)
	})

	t.Run("insufficient history falls back", func(t *testing.T) {
		e := New()
		est, err := e.Estimate(ctx, Input{
			Now:            now,
			LookbackHours:  48,
			Smoothing:      0.8,
			HouseLoad:      hourlySamples(now.Add(-3*time.Hour), []float64{500, 500, 500}),
			LiveHouseLoadW: 700,
			LiveAvailable:  true,
		})
		assert.ErrorIs(t, err, types.ErrInsufficientHistory)
		assert.True(t, est.Available)
		assert.Equal(t, types.BaselineMethodEMA, est.Method)
	})

	t.Run("no seed means unavailable", func(t *testing.T) {
		e := New()
		est, err := e.Estimate(ctx, Input{Now: now, LookbackHours: 0})
		assert.ErrorIs(t, err, types.ErrDataUnavailable)
		assert.False(t, est.Available)
	})

	t.Run("seeded state survives restart", func(t *testing.T) {
		e := New()
		e.SeedEMA(types.EMAState{ValueW: 650, Seeded: true, LastUpdate: now.Add(-time.Hour)})
		est, err := e.Estimate(ctx, Input{Now: now, LookbackHours: 0})
		require.NoError(t, err)
		assert.InDelta(t, 650.0, est.OverallW, 0.001)
	})
}
