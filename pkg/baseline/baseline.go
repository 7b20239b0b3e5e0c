package baseline

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

const (
	// Concurrent EV charging above this excludes a house-load sample.
	evChargeThresholdW = 100.0
	// Grid charging of the battery above this excludes a house-load sample.
	gridChargeThresholdW = 100.0

	// Averages are clipped to this band (equivalent to 0.05-5.0 kWh/h).
	minBaselineW = 50.0
	maxBaselineW = 5000.0

	// Fewer usable samples than this triggers the EMA fallback.
	minSampleCount = 12

	// Gaps wider than this are excluded outright instead of interpolated.
	maxInterpolationGap = 8 * time.Hour
)

// Input is one cycle's worth of telemetry for the estimator.
type Input struct {
	Now time.Time

	// LookbackHours of 0 disables historical mode and forces the EMA
	// fallback.
	LookbackHours int
	UseDayparts   bool
	// Weight kept on the previous EMA value, 0-1.
	Smoothing float64

	HouseLoad    []types.PowerSample
	EVCharge     []types.PowerSample
	PV           []types.PowerSample
	BatteryPower []types.PowerSample

	// Latest instantaneous house load, used to advance the EMA.
	LiveHouseLoadW float64
	LiveAvailable  bool
}

// Estimator converts raw power samples into a background-load estimate.
type Estimator struct {
	ema types.EMAState
}

// New creates an Estimator with an unseeded EMA.
func New() *Estimator {
	return &Estimator{}
}

// SeedEMA restores the EMA state persisted from a previous run.
func (e *Estimator) SeedEMA(state types.EMAState) {
	e.ema = state
}

// EMAState returns the current EMA state for persistence.
func (e *Estimator) EMAState() types.EMAState {
	return e.ema
}

// Estimate computes the baseline for this cycle. The result is replaced
// wholesale every cycle; when neither historical data nor a seeded EMA can
// produce a value the estimate is marked unavailable rather than defaulted.
func (e *Estimator) Estimate(ctx context.Context, in Input) (types.BaselineEstimate, error) {
	ctx = log.WithComponent(ctx, "baseline")

	// keep the EMA warm off the live reading regardless of which method wins
	e.advanceEMA(in)

	if in.LookbackHours <= 0 {
		log.Ctx(ctx).DebugContext(ctx, "historical mode disabled, using ema",
			slog.Int("lookbackHours", in.LookbackHours))
		return e.emaEstimate(ctx, in)
	}

	series, excludedGaps := fillHourlyGaps(in.HouseLoad)
	if len(excludedGaps) > 0 {
		log.Ctx(ctx).DebugContext(ctx, "excluded historical gaps",
			slog.Int("gaps", len(excludedGaps)))
	}

	evAt := indexByHour(in.EVCharge)
	pvAt := indexByHour(in.PV)
	batAt := indexByHour(in.BatteryPower)

	var (
		overallSum   float64
		overallCount int
		daypartSum   = map[types.Daypart]float64{}
		daypartCount = map[types.Daypart]int{}
		excludedEV   int
		excludedGrid int
	)

	for _, s := range series {
		hour := s.Timestamp.Truncate(time.Hour)

		if ev, ok := evAt[hour]; ok && ev > evChargeThresholdW {
			excludedEV++
			continue
		}

		// battery charging beyond the solar surplus means the remainder came
		// from the grid and inflates the apparent house load
		if bat, ok := batAt[hour]; ok {
			chargeW := -bat // BatteryPower is negative while charging
			if chargeW > 0 {
				pv := pvAt[hour]
				surplus := pv - s.Watts
				if surplus < 0 {
					surplus = 0
				}
				if gridCharge := chargeW - surplus; gridCharge > gridChargeThresholdW {
					excludedGrid++
					continue
				}
			}
		}

		overallSum += s.Watts
		overallCount++
		dp := types.DaypartOf(s.Timestamp)
		daypartSum[dp] += s.Watts
		daypartCount[dp]++
	}

	log.Ctx(ctx).DebugContext(ctx, "historical samples bucketed",
		slog.Int("usable", overallCount),
		slog.Int("excludedEV", excludedEV),
		slog.Int("excludedGridCharge", excludedGrid),
		slog.Int("raw", len(in.HouseLoad)),
	)

	if overallCount < minSampleCount {
		log.Ctx(ctx).DebugContext(ctx, "insufficient history, using ema",
			slog.Int("usable", overallCount),
			slog.Int("required", minSampleCount))
		est, err := e.emaEstimate(ctx, in)
		if err != nil {
			return est, err
		}
		return est, types.ErrInsufficientHistory
	}

	est := types.BaselineEstimate{
		Timestamp:   in.Now,
		OverallW:    clipBaseline(overallSum / float64(overallCount)),
		Method:      types.BaselineMethodHistorical,
		SampleCount: overallCount,
		Available:   true,
	}
	if in.UseDayparts {
		est.DaypartW = make(map[types.Daypart]float64, len(daypartSum))
		for dp, sum := range daypartSum {
			if n := daypartCount[dp]; n > 0 {
				est.DaypartW[dp] = clipBaseline(sum / float64(n))
			}
		}
	}
	return est, nil
}

// advanceEMA feeds the latest instantaneous reading into the smoothed value.
func (e *Estimator) advanceEMA(in Input) {
	if !in.LiveAvailable {
		return
	}
	if !e.ema.Seeded {
		e.ema = types.EMAState{ValueW: in.LiveHouseLoadW, Seeded: true, LastUpdate: in.Now}
		return
	}
	a := in.Smoothing
	if a <= 0 || a >= 1 {
		a = 0.8
	}
	e.ema.ValueW = a*e.ema.ValueW + (1-a)*in.LiveHouseLoadW
	e.ema.LastUpdate = in.Now
}

func (e *Estimator) emaEstimate(ctx context.Context, in Input) (types.BaselineEstimate, error) {
	if !e.ema.Seeded {
		log.Ctx(ctx).WarnContext(ctx, "no ema seed available, baseline unavailable")
		return types.BaselineEstimate{
			Timestamp: in.Now,
			Method:    types.BaselineMethodEMA,
		}, types.ErrDataUnavailable
	}
	return types.BaselineEstimate{
		Timestamp: in.Now,
		OverallW:  clipBaseline(e.ema.ValueW),
		Method:    types.BaselineMethodEMA,
		Available: true,
	}, nil
}

func clipBaseline(w float64) float64 {
	if w < minBaselineW {
		return minBaselineW
	}
	if w > maxBaselineW {
		return maxBaselineW
	}
	return w
}

// indexByHour maps each sample's hour to its watts. Later samples within the
// same hour win.
func indexByHour(samples []types.PowerSample) map[time.Time]float64 {
	m := make(map[time.Time]float64, len(samples))
	for _, s := range samples {
		m[s.Timestamp.Truncate(time.Hour)] = s.Watts
	}
	return m
}

// excludedGap records a historical gap that was too wide to interpolate.
type excludedGap struct {
	From time.Time
	To   time.Time
}

// fillHourlyGaps returns the series with missing hourly points linearly
// interpolated, but only across gaps of at most maxInterpolationGap and never
// across a counter reset (a sample whose value is lower than the immediately
// preceding one). Wider gaps and reset boundaries are left unfilled and
// reported.
func fillHourlyGaps(samples []types.PowerSample) ([]types.PowerSample, []excludedGap) {
	if len(samples) < 2 {
		return samples, nil
	}

	sorted := make([]types.PowerSample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	out := make([]types.PowerSample, 0, len(sorted))
	var gaps []excludedGap

	for i, s := range sorted {
		if i == 0 {
			out = append(out, s)
			continue
		}
		prev := sorted[i-1]
		gap := s.Timestamp.Sub(prev.Timestamp)

		if gap > time.Hour {
			switch {
			case gap > maxInterpolationGap:
				gaps = append(gaps, excludedGap{From: prev.Timestamp, To: s.Timestamp})
			case s.Watts < prev.Watts:
				// counter reset inside the gap, we can't know when it
				// happened so nothing in between can be trusted
				gaps = append(gaps, excludedGap{From: prev.Timestamp, To: s.Timestamp})
			default:
				hours := gap.Hours()
				for t := prev.Timestamp.Add(time.Hour); t.Before(s.Timestamp); t = t.Add(time.Hour) {
					frac := t.Sub(prev.Timestamp).Hours() / hours
					out = append(out, types.PowerSample{
						Timestamp: t,
						Watts:     prev.Watts + frac*(s.Watts-prev.Watts),
						Source:    prev.Source,
					})
				}
			}
		}
		out = append(out, s)
	}
	return out, gaps
}
