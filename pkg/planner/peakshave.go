package planner

import (
	"context"
	"log/slog"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

const (
	// Import must exceed the threshold by at least this much to trigger.
	peakShaveMinExcessW = 500.0
	// Sustained discharge at the required power must be feasible this long.
	peakShaveMinDuration = 30 * time.Minute
)

// peakShave checks the live grid import against the configured threshold and
// emits a discharge sized to cap the import. It runs independently of the
// slot rules.
func (p *Planner) peakShave(ctx context.Context, in Input) *types.PeakShaveEvent {
	thresholdW := in.Settings.PeakThresholdW
	if thresholdW <= 0 {
		return nil
	}

	excessW := in.Readings.GridW - thresholdW
	if excessW < peakShaveMinExcessW {
		return nil
	}
	if in.Readings.BatterySOC <= in.Reserve.MinSOCPercent {
		return nil
	}

	dischargeW := excessW
	if limit := maxDischargeW(in.Settings); dischargeW > limit {
		dischargeW = limit
	}

	spareKWH := (in.Readings.BatterySOC - in.Reserve.MinSOCPercent) / 100.0 * in.Settings.BatteryCapacityKWH
	sustainable := time.Duration(spareKWH / (dischargeW / 1000.0) * float64(time.Hour))
	if sustainable < peakShaveMinDuration {
		log.Ctx(ctx).DebugContext(ctx, "peak shave not sustainable",
			slog.Duration("sustainable", sustainable),
			slog.Float64("dischargeW", dischargeW),
		)
		return nil
	}

	log.Ctx(ctx).InfoContext(ctx, "peak shaving triggered",
		slog.Float64("importW", in.Readings.GridW),
		slog.Float64("thresholdW", thresholdW),
		slog.Float64("dischargeW", dischargeW),
		slog.Duration("sustainable", sustainable),
	)
	return &types.PeakShaveEvent{
		Timestamp:       in.Now,
		ImportW:         in.Readings.GridW,
		ExcessW:         excessW,
		DischargeW:      dischargeW,
		Sustainable:     sustainable,
		SustainableText: FormatRuntime(sustainable),
	}
}
