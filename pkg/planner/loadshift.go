package planner

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

const (
	// Flexible load below this is not worth recommending a shift for.
	loadShiftMinFlexibleW = 500.0
	// A candidate slot must be at least this much cheaper than now.
	loadShiftMinPriceDiff = 0.5
	// How many ranked candidates to report.
	loadShiftMaxCandidates = 3

	defaultLoadShiftLookaheadHrs = 12
)

// loadShifts computes the non-binding load-shift advisories: if a meaningful
// chunk of the current consumption is above the baseline, find cheaper slots
// it could move to, ranked by absolute projected savings.
func (p *Planner) loadShifts(ctx context.Context, in Input, slots []types.ClassifiedPrice) []types.LoadShiftOpportunity {
	if len(slots) == 0 {
		return nil
	}

	baselineW := in.Settings.BaselineLoadW
	if in.Baseline.Available {
		baselineW = in.Baseline.OverallW
	}
	flexibleW := in.Readings.HouseLoadW - baselineW
	if flexibleW < loadShiftMinFlexibleW {
		return nil
	}

	lookahead := in.Settings.LoadShiftFlexibilityHrs
	if lookahead <= 0 {
		lookahead = defaultLoadShiftLookaheadHrs
	}
	until := in.Now.Add(time.Duration(lookahead) * time.Hour)

	current := slots[0]
	var candidates []types.LoadShiftOpportunity
	for _, slot := range slots[1:] {
		if slot.TSStart.After(until) {
			break
		}
		diff := current.PerKWH - slot.PerKWH
		if diff < loadShiftMinPriceDiff {
			continue
		}
		candidates = append(candidates, types.LoadShiftOpportunity{
			From:            current.TSStart,
			To:              slot.TSStart,
			FlexibleW:       flexibleW,
			PriceDiffPerKWH: diff,
			SavingsEstimate: flexibleW / 1000.0 * diff,
			UserImpact:      shiftImpact(in.Now, slot.TSStart),
		})
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].SavingsEstimate > candidates[j].SavingsEstimate
	})
	if len(candidates) > loadShiftMaxCandidates {
		candidates = candidates[:loadShiftMaxCandidates]
	}

	log.Ctx(ctx).DebugContext(ctx, "load shift opportunities found",
		slog.Int("count", len(candidates)),
		slog.Float64("flexibleW", flexibleW),
		slog.Float64("bestSavings", candidates[0].SavingsEstimate),
	)
	return candidates
}

// shiftImpact tags how disruptive moving load to the target slot is likely
// to be: waking hours are low impact, nighttime and far-away slots are not.
func shiftImpact(now, target time.Time) types.UserImpact {
	h := target.Hour()
	if h < 7 || h >= 22 {
		return types.UserImpactHigh
	}
	if target.Sub(now) > 6*time.Hour {
		return types.UserImpactMedium
	}
	return types.UserImpactLow
}
