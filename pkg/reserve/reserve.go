// Package reserve computes the minimum state-of-charge the planner must
// preserve for known expensive periods.
package reserve

import (
	"context"
	"log/slog"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

// Forecast energy is de-rated by this factor before it offsets a high
// window's requirement, to account for forecast uncertainty.
const forecastDerate = 0.8

// DefaultBaselineKW is assumed when no baseline estimate is available.
const DefaultBaselineKW = 1.0

// Input is everything the calculator needs for one cycle.
type Input struct {
	Now         time.Time
	Prices      []types.ClassifiedPrice
	CapacityKWH float64
	Baseline    types.BaselineEstimate
	Forecast    []types.SolarForecastPoint
}

// Calculator computes reserve requirements.
type Calculator struct{}

// New creates a Calculator.
func New() *Calculator {
	return &Calculator{}
}

// Required computes the minimum SOC to retain until the upcoming High-price
// windows pass. The result is valid only for the cycle that produced it.
func (c *Calculator) Required(ctx context.Context, in Input) types.ReserveSpec {
	ctx = log.WithComponent(ctx, "reserve")

	spec := types.ReserveSpec{Timestamp: in.Now}
	if in.CapacityKWH <= 0 {
		return spec
	}

	baselineKW := DefaultBaselineKW
	if in.Baseline.Available {
		baselineKW = in.Baseline.OverallKW()
	}

	windows := highWindows(in.Now, in.Prices)
	for _, w := range windows {
		requiredKWH := w.TSEnd.Sub(w.TSStart).Hours() * baselineKW

		forecastKWH := forecastEnergyKWH(in.Forecast, w.TSStart, w.TSEnd)
		requiredKWH -= forecastDerate * forecastKWH
		if requiredKWH < 0 {
			requiredKWH = 0
		}

		w.RequiredKWH = requiredKWH
		w.ForecastKWH = forecastKWH
		spec.Windows = append(spec.Windows, w)
		spec.RequiredKWH += requiredKWH
	}

	spec.MinSOCPercent = spec.RequiredKWH / in.CapacityKWH * 100.0
	if spec.MinSOCPercent > 100 {
		spec.MinSOCPercent = 100
	}
	if spec.MinSOCPercent < 0 {
		spec.MinSOCPercent = 0
	}

	log.Ctx(ctx).DebugContext(ctx, "reserve computed",
		slog.Float64("minSOCPercent", spec.MinSOCPercent),
		slog.Float64("requiredKWH", spec.RequiredKWH),
		slog.Int("highWindows", len(spec.Windows)),
		slog.Float64("baselineKW", baselineKW),
	)
	return spec
}

// highWindows merges consecutive future High-classified hours into contiguous
// windows. Hours at or before now are skipped; a window already underway is
// counted from now.
func highWindows(now time.Time, prices []types.ClassifiedPrice) []types.ReserveWindow {
	var windows []types.ReserveWindow
	for _, p := range prices {
		if !p.TSEnd.After(now) {
			continue
		}
		if p.Level != types.CostLevelHigh {
			continue
		}
		start := p.TSStart
		if start.Before(now) {
			start = now
		}
		if n := len(windows); n > 0 && windows[n-1].TSEnd.Equal(start) {
			windows[n-1].TSEnd = p.TSEnd
			continue
		}
		windows = append(windows, types.ReserveWindow{TSStart: start, TSEnd: p.TSEnd})
	}
	return windows
}

// forecastEnergyKWH sums the forecast solar energy expected inside [start,
// end), treating each point as valid for one hour.
func forecastEnergyKWH(forecast []types.SolarForecastPoint, start, end time.Time) float64 {
	var kwh float64
	for _, f := range forecast {
		pointEnd := f.Timestamp.Add(time.Hour)
		if !pointEnd.After(start) || !f.Timestamp.Before(end) {
			continue
		}
		// clip the point's hour to the window
		from := f.Timestamp
		if from.Before(start) {
			from = start
		}
		to := pointEnd
		if to.After(end) {
			to = end
		}
		kwh += f.Watts / 1000.0 * to.Sub(from).Hours()
	}
	return kwh
}
