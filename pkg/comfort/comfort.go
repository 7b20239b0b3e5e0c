// Package comfort is the policy pass over the planner output. It never adds
// actions; it accepts, rejects, or downgrades them according to the
// configured priority mode, and every rejection is retained with its reason
// instead of being silently dropped.
package comfort

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

const (
	// Minimum savings-to-inconvenience ratio in balanced mode.
	balancedMinSavingsRatio = 2.0
	// Hard SOC floor for discharges in comfort_first mode.
	comfortFirstFloorSOC = 70.0
	// Nominal inconvenience of a load shift, which carries no score of its
	// own. Matches the planner's default action score.
	loadShiftInconvenience = 0.5
)

// Filter applies the comfort policy to a plan.
type Filter struct{}

// New creates a Filter.
func New() *Filter {
	return &Filter{}
}

// Apply filters the plan according to settings. Rejected slot actions are
// replaced by holds so the plan still covers every slot, and the originals
// are kept in the rejected sequence.
func (f *Filter) Apply(ctx context.Context, settings types.Settings, plan types.PlanResult) types.PlanResult {
	ctx = log.WithComponent(ctx, "comfort")

	if settings.ComfortPriority == types.ComfortCostFirst {
		return plan
	}

	out := types.PlanResult{
		Timestamp: plan.Timestamp,
		PeakShave: plan.PeakShave,
	}

	for _, a := range plan.Actions {
		reason := f.rejectReason(settings, a)
		if reason == "" {
			out.Actions = append(out.Actions, a)
			continue
		}
		out.Rejected = append(out.Rejected, types.RejectedAction{Action: a, Reason: reason})
		out.Actions = append(out.Actions, holdInstead(a, reason))
	}

	for _, s := range plan.LoadShifts {
		if reason := f.shiftRejectReason(settings, s); reason != "" {
			log.Ctx(ctx).DebugContext(ctx, "load shift suppressed",
				slog.Time("to", s.To),
				slog.String("reason", reason),
			)
			continue
		}
		out.LoadShifts = append(out.LoadShifts, s)
	}

	if len(out.Rejected) > 0 {
		log.Ctx(ctx).InfoContext(ctx, "plan actions rejected",
			slog.String("priority", string(settings.ComfortPriority)),
			slog.Int("rejected", len(out.Rejected)),
		)
	}
	return out
}

// rejectReason returns the rejection reason for a slot action, or "" when it
// passes. Charge and hold actions always pass; they cost the household
// nothing in comfort.
func (f *Filter) rejectReason(settings types.Settings, a types.PlanAction) string {
	if a.Kind != types.ActionDischarge && a.Kind != types.ActionExport {
		return ""
	}

	switch settings.ComfortPriority {
	case types.ComfortComfortFirst:
		if a.UserImpact != types.UserImpactLow {
			return fmt.Sprintf("comfort_first passes only low-impact actions; this one is %s.", a.UserImpact)
		}
		if a.ProjectedSOC < comfortFirstFloorSOC {
			return fmt.Sprintf("Discharge would leave SOC at %.0f%%, below the comfort floor of %.0f%%.", a.ProjectedSOC, comfortFirstFloorSOC)
		}
		if inQuietHours(settings, a.TSStart) {
			return fmt.Sprintf("Discharge suppressed during quiet hours (%s-%s).", settings.QuietHoursStart, settings.QuietHoursEnd)
		}
	default: // balanced
		if a.InconvenienceScore > 0 && a.SavingsEstimate/a.InconvenienceScore < balancedMinSavingsRatio {
			return fmt.Sprintf("Savings %.2f do not justify inconvenience %.1f (ratio below %.1f).", a.SavingsEstimate, a.InconvenienceScore, balancedMinSavingsRatio)
		}
		if a.ProjectedSOC < settings.PeaceOfMindFloorPercent {
			return fmt.Sprintf("Discharge would leave SOC at %.0f%%, below the peace-of-mind floor of %.0f%%.", a.ProjectedSOC, settings.PeaceOfMindFloorPercent)
		}
	}
	return ""
}

// shiftRejectReason returns why an advisory load shift is suppressed, or ""
// when it passes.
func (f *Filter) shiftRejectReason(settings types.Settings, s types.LoadShiftOpportunity) string {
	switch settings.ComfortPriority {
	case types.ComfortComfortFirst:
		if s.UserImpact != types.UserImpactLow {
			return "not low impact"
		}
		if inQuietHours(settings, s.To) {
			return "target slot inside quiet hours"
		}
	default: // balanced
		if s.SavingsEstimate/loadShiftInconvenience < balancedMinSavingsRatio {
			return "savings below threshold"
		}
	}
	return ""
}

// holdInstead converts a rejected action into a hold for the same slot. The
// projection is carried over unchanged; the next cycle replans from live SOC
// anyway.
func holdInstead(a types.PlanAction, reason string) types.PlanAction {
	return types.PlanAction{
		TSStart:      a.TSStart,
		TSEnd:        a.TSEnd,
		Kind:         types.ActionHold,
		Reason:       reason,
		UserImpact:   types.UserImpactLow,
		ProjectedSOC: a.ProjectedSOC,
	}
}

// inQuietHours reports whether t falls inside the configured quiet hours.
// The window may wrap midnight, e.g. 22:00-07:00. Malformed or missing
// bounds disable quiet hours.
func inQuietHours(settings types.Settings, t time.Time) bool {
	start, err := types.MinuteOfDay(settings.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := types.MinuteOfDay(settings.QuietHoursEnd)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}
