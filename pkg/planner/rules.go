package planner

import (
	"fmt"

	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

// ruleSolarSurplusCharge charges from excess solar production regardless of
// price.
func ruleSolarSurplusCharge(s *slotState) (types.PlanAction, bool) {
	surplusW := s.solarW - s.loadW
	if surplusW <= 0 || s.projSOC >= 100 {
		return types.PlanAction{}, false
	}
	powerW := surplusW
	if limit := maxChargeW(s.in.Settings); powerW > limit {
		powerW = limit
	}
	return types.PlanAction{
		TSStart:            s.slot.TSStart,
		TSEnd:              s.slot.TSEnd,
		Kind:               types.ActionCharge,
		PowerW:             powerW,
		Reason:             fmt.Sprintf("Solar surplus %.0fW available; charging free of charge.", surplusW),
		UserImpact:         types.UserImpactLow,
		InconvenienceScore: 0.5,
		SavingsEstimate:    powerW / 1000.0 * s.slot.PerKWH,
	}, true
}

// ruleReserveRefillCharge charges whenever the projection is below the
// active reserve, unless the slot is High.
func ruleReserveRefillCharge(s *slotState) (types.PlanAction, bool) {
	if s.projSOC >= s.in.Reserve.MinSOCPercent || s.slot.Level == types.CostLevelHigh {
		return types.PlanAction{}, false
	}
	powerW := maxChargeW(s.in.Settings)
	return types.PlanAction{
		TSStart:            s.slot.TSStart,
		TSEnd:              s.slot.TSEnd,
		Kind:               types.ActionCharge,
		PowerW:             powerW,
		Reason:             fmt.Sprintf("SOC %.0f%% below reserve %.0f%%; refilling before the expensive window.", s.projSOC, s.in.Reserve.MinSOCPercent),
		UserImpact:         types.UserImpactLow,
		InconvenienceScore: 0.5,
	}, true
}

// ruleCheapGridCharge charges from the grid during Cheap slots, unless solar
// will refill the battery for free shortly.
func ruleCheapGridCharge(s *slotState) (types.PlanAction, bool) {
	if s.slot.Level != types.CostLevelCheap || s.projSOC >= gridChargeCeilingSOC {
		return types.PlanAction{}, false
	}
	if s.projSOC > s.in.Reserve.MinSOCPercent {
		if soon := solarSoonW(s.in, s.slot.TSStart); soon >= significantSolarW {
			// above reserve with strong solar coming, paying for grid energy
			// now would just displace free charging
			return types.PlanAction{}, false
		}
	}
	powerW := maxChargeW(s.in.Settings)
	return types.PlanAction{
		TSStart:            s.slot.TSStart,
		TSEnd:              s.slot.TSEnd,
		Kind:               types.ActionCharge,
		PowerW:             powerW,
		Reason:             fmt.Sprintf("Cheap price %.3f/kWh; charging from grid.", s.slot.PerKWH),
		UserImpact:         types.UserImpactLow,
		InconvenienceScore: 0.5,
	}, true
}

// ruleHighPriceDischarge covers the expected load from the battery during
// High slots, never dropping below reserve plus the safety buffer.
func ruleHighPriceDischarge(s *slotState) (types.PlanAction, bool) {
	if s.slot.Level != types.CostLevelHigh {
		return types.PlanAction{}, false
	}
	buffer := s.in.Settings.DischargeBufferPercent
	if s.projSOC <= s.in.Reserve.MinSOCPercent+buffer {
		return types.PlanAction{}, false
	}
	wantW := s.loadW - s.solarW
	if wantW <= 0 {
		return types.PlanAction{}, false
	}
	powerW := dischargeBudgetW(s.in.Settings, s.projSOC, s.in.Reserve.MinSOCPercent, wantW)
	if powerW <= 0 {
		return types.PlanAction{}, false
	}
	return types.PlanAction{
		TSStart:            s.slot.TSStart,
		TSEnd:              s.slot.TSEnd,
		Kind:               types.ActionDischarge,
		PowerW:             powerW,
		Reason:             fmt.Sprintf("High price %.3f/kWh; covering %.0fW of load from battery.", s.slot.PerKWH, powerW),
		UserImpact:         types.UserImpactLow,
		InconvenienceScore: 0.5,
		SavingsEstimate:    powerW / 1000.0 * s.slot.PerKWH,
	}, true
}

// ruleDeficitCoverDischarge covers a solar production deficit against the
// expected load when spare capacity exists above the reserve. High slots are
// owned by ruleHighPriceDischarge and its buffer; during Cheap slots
// importing is cheaper than draining stored energy.
func ruleDeficitCoverDischarge(s *slotState) (types.PlanAction, bool) {
	if s.slot.Level != types.CostLevelMedium {
		return types.PlanAction{}, false
	}
	deficitW := s.loadW - s.solarW
	if deficitW <= 0 {
		return types.PlanAction{}, false
	}
	if s.projSOC <= s.in.Reserve.MinSOCPercent {
		return types.PlanAction{}, false
	}
	powerW := dischargeBudgetW(s.in.Settings, s.projSOC, s.in.Reserve.MinSOCPercent, deficitW)
	if powerW <= 0 {
		return types.PlanAction{}, false
	}
	return types.PlanAction{
		TSStart:            s.slot.TSStart,
		TSEnd:              s.slot.TSEnd,
		Kind:               types.ActionDischarge,
		PowerW:             powerW,
		Reason:             fmt.Sprintf("Covering %.0fW solar deficit from battery.", deficitW),
		UserImpact:         types.UserImpactLow,
		InconvenienceScore: 0.5,
		SavingsEstimate:    powerW / 1000.0 * s.slot.PerKWH,
	}, true
}

// ruleExport recommends grid export, which is disabled by default. It fires
// when the battery is near full and surplus solar would otherwise be
// curtailed, or when the price is exceptional and the net revenue after the
// round-trip cost stays positive.
func ruleExport(s *slotState) (types.PlanAction, bool) {
	if s.in.Settings.ExportMode != types.ExportModeAllowed {
		return types.PlanAction{}, false
	}

	surplusW := s.solarW - s.loadW
	nearFull := s.projSOC >= gridChargeCeilingSOC

	if nearFull && surplusW > 0 {
		return types.PlanAction{
			TSStart:            s.slot.TSStart,
			TSEnd:              s.slot.TSEnd,
			Kind:               types.ActionExport,
			PowerW:             surplusW,
			Reason:             fmt.Sprintf("Battery near full; exporting %.0fW of solar that would be curtailed.", surplusW),
			UserImpact:         types.UserImpactLow,
			InconvenienceScore: 0.5,
			SavingsEstimate:    surplusW / 1000.0 * s.slot.PerKWH,
		}, true
	}

	netRevenue := s.slot.PerKWH - s.in.Settings.RoundTripCostPerKWH
	if s.slot.PerKWH >= s.in.Settings.MinExportPricePerKWH && netRevenue > 0 {
		powerW := dischargeBudgetW(s.in.Settings, s.projSOC, s.in.Reserve.MinSOCPercent, maxDischargeW(s.in.Settings))
		if powerW <= 0 {
			return types.PlanAction{}, false
		}
		return types.PlanAction{
			TSStart:            s.slot.TSStart,
			TSEnd:              s.slot.TSEnd,
			Kind:               types.ActionExport,
			PowerW:             powerW,
			Reason:             fmt.Sprintf("Exceptional price %.3f/kWh; exporting for %.3f/kWh net revenue.", s.slot.PerKWH, netRevenue),
			UserImpact:         types.UserImpactLow,
			InconvenienceScore: 0.5,
			SavingsEstimate:    powerW / 1000.0 * netRevenue,
		}, true
	}
	return types.PlanAction{}, false
}
