// Package planner is the hourly decision engine. It walks the planning
// horizon one slot at a time and produces one action per slot from an
// ordered list of guarded rules, so the tie-break order stays auditable and
// testable rule-by-rule.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

const (
	// Grid charging stops once the projected SOC reaches this.
	gridChargeCeilingSOC = 95.0
	// Forecast solar at or above this within the lookahead suppresses grid
	// charging above the reserve; the sun will refill it for free.
	significantSolarW         = 2000.0
	significantSolarLookahead = 2 * time.Hour

	// Horizon the planner walks, in hourly slots.
	horizonSlots = 24
)

// Input is one cycle's worth of inputs for the planner.
type Input struct {
	Now      time.Time
	Prices   []types.ClassifiedPrice
	Reserve  types.ReserveSpec
	Baseline types.BaselineEstimate
	Forecast []types.SolarForecastPoint

	// Live snapshot; ReadingsFresh is false when it is older than the
	// staleness bound and must not be acted on.
	Readings      types.Readings
	ReadingsFresh bool

	Settings types.Settings
}

// slotState is the per-slot view a rule evaluates. The running SOC
// projection is the only state carried between slots.
type slotState struct {
	in      Input
	slot    types.ClassifiedPrice
	first   bool
	projSOC float64

	// expected for this slot, from forecast and baseline
	solarW float64
	loadW  float64
}

// rule is one guarded planner rule. Evaluate returns the slot's action and
// true when the guard matches; rules are tried in order and the first match
// wins.
type rule struct {
	name     string
	evaluate func(s *slotState) (types.PlanAction, bool)
}

// Planner produces the hourly plan.
type Planner struct {
	rules []rule
}

// New creates a Planner with the default rule order.
func New() *Planner {
	return &Planner{rules: []rule{
		{name: "solar-surplus-charge", evaluate: ruleSolarSurplusCharge},
		{name: "reserve-refill-charge", evaluate: ruleReserveRefillCharge},
		{name: "cheap-grid-charge", evaluate: ruleCheapGridCharge},
		{name: "high-price-discharge", evaluate: ruleHighPriceDischarge},
		{name: "deficit-cover-discharge", evaluate: ruleDeficitCoverDischarge},
		{name: "export", evaluate: ruleExport},
	}}
}

// Plan walks the horizon and emits one action per slot, plus the peak-shave
// override and load-shift advisories derived from the live readings.
func (p *Planner) Plan(ctx context.Context, in Input) types.PlanResult {
	ctx = log.WithComponent(ctx, "planner")

	result := types.PlanResult{Timestamp: in.Now}

	projSOC := in.Readings.BatterySOC
	if !in.ReadingsFresh {
		// without a trustworthy SOC we plan from the reserve floor, which
		// produces conservative holds rather than infeasible discharges
		projSOC = in.Reserve.MinSOCPercent
	}

	slots := futureSlots(in.Now, in.Prices, horizonSlots)
	for i, slot := range slots {
		s := &slotState{
			in:      in,
			slot:    slot,
			first:   i == 0,
			projSOC: projSOC,
			solarW:  expectedSolarW(in, slot, i == 0),
			loadW:   expectedLoadW(in, slot, i == 0),
		}

		action := types.PlanAction{
			TSStart:      slot.TSStart,
			TSEnd:        slot.TSEnd,
			Kind:         types.ActionHold,
			Reason:       fmt.Sprintf("No rule matched at %s price; holding.", slot.Level),
			UserImpact:   types.UserImpactLow,
			ProjectedSOC: projSOC,
		}
		for _, r := range p.rules {
			if a, ok := r.evaluate(s); ok {
				action = a
				log.Ctx(ctx).DebugContext(ctx, "rule matched",
					slog.String("rule", r.name),
					slog.Time("slot", slot.TSStart),
					slog.String("kind", string(a.Kind)),
					slog.Float64("powerW", a.PowerW),
					slog.Float64("projSOC", projSOC),
				)
				break
			}
		}

		projSOC = projectSOC(in.Settings, projSOC, action)
		action.ProjectedSOC = projSOC
		result.Actions = append(result.Actions, action)
	}

	if in.ReadingsFresh {
		result.PeakShave = p.peakShave(ctx, in)
		result.LoadShifts = p.loadShifts(ctx, in, slots)
	}

	return result
}

// futureSlots returns up to n price slots that end after now, in order.
func futureSlots(now time.Time, prices []types.ClassifiedPrice, n int) []types.ClassifiedPrice {
	var out []types.ClassifiedPrice
	for _, p := range prices {
		if !p.TSEnd.After(now) {
			continue
		}
		out = append(out, p)
		if len(out) >= n {
			break
		}
	}
	return out
}

// expectedSolarW returns the solar production expected during a slot: live
// PV for the current slot, forecast otherwise.
func expectedSolarW(in Input, slot types.ClassifiedPrice, first bool) float64 {
	if first && in.ReadingsFresh {
		return in.Readings.PVW
	}
	for _, f := range in.Forecast {
		if !f.Timestamp.Before(slot.TSStart) && f.Timestamp.Before(slot.TSEnd) {
			return f.Watts
		}
	}
	return 0
}

// expectedLoadW returns the household draw expected during a slot: live load
// for the current slot, the (daypart) baseline otherwise.
func expectedLoadW(in Input, slot types.ClassifiedPrice, first bool) float64 {
	if first && in.ReadingsFresh {
		return in.Readings.HouseLoadW
	}
	if !in.Baseline.Available {
		return in.Settings.BaselineLoadW
	}
	if in.Baseline.DaypartW != nil {
		if w, ok := in.Baseline.DaypartW[types.DaypartOf(slot.TSStart)]; ok {
			return w
		}
	}
	return in.Baseline.OverallW
}

// solarSoonW returns the strongest forecast solar within the lookahead after
// the slot's start.
func solarSoonW(in Input, from time.Time) float64 {
	var maxW float64
	until := from.Add(significantSolarLookahead)
	for _, f := range in.Forecast {
		if !f.Timestamp.Before(from) && f.Timestamp.Before(until) && f.Watts > maxW {
			maxW = f.Watts
		}
	}
	return maxW
}

// projectSOC advances the running SOC projection by one slot of the action.
func projectSOC(settings types.Settings, soc float64, action types.PlanAction) float64 {
	if settings.BatteryCapacityKWH <= 0 {
		return soc
	}
	deltaKWH := action.PowerW / 1000.0 // one hour slots
	switch action.Kind {
	case types.ActionCharge:
		soc += deltaKWH / settings.BatteryCapacityKWH * 100.0
	case types.ActionDischarge, types.ActionExport:
		soc -= deltaKWH / settings.BatteryCapacityKWH * 100.0
	}
	if soc > 100 {
		soc = 100
	}
	if soc < 0 {
		soc = 0
	}
	return soc
}

// maxChargeW returns the configured charge rate, defaulting to a 3-hour
// full charge when unset.
func maxChargeW(settings types.Settings) float64 {
	if settings.MaxChargeW > 0 {
		return settings.MaxChargeW
	}
	return settings.BatteryCapacityKWH / 3.0 * 1000.0
}

// maxDischargeW returns the configured discharge rate, defaulting to the
// charge rate.
func maxDischargeW(settings types.Settings) float64 {
	if settings.MaxDischargeW > 0 {
		return settings.MaxDischargeW
	}
	return maxChargeW(settings)
}

// dischargeBudgetW caps a discharge so one slot of it cannot project SOC
// below the active reserve.
func dischargeBudgetW(settings types.Settings, projSOC, reservePercent, wantW float64) float64 {
	if settings.BatteryCapacityKWH <= 0 {
		return 0
	}
	spareKWH := (projSOC - reservePercent) / 100.0 * settings.BatteryCapacityKWH
	if spareKWH <= 0 {
		return 0
	}
	budgetW := spareKWH * 1000.0 // one hour slot
	if wantW < budgetW {
		budgetW = wantW
	}
	if limit := maxDischargeW(settings); budgetW > limit {
		budgetW = limit
	}
	return budgetW
}
