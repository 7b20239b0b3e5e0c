package types

import "time"

const CurrentPriceHistoryVersion = 1

// Price is one hour of the electricity price curve.
type Price struct {
	TSStart time.Time `json:"tsStart"`
	TSEnd   time.Time `json:"tsEnd"`
	PerKWH  float64   `json:"perKWH"`
}

// Covers reports whether t falls inside this price hour.
func (p Price) Covers(t time.Time) bool {
	return !t.Before(p.TSStart) && t.Before(p.TSEnd)
}

// CostLevel is the Cheap/Medium/High classification of a price hour.
type CostLevel string

const (
	CostLevelCheap  CostLevel = "cheap"
	CostLevelMedium CostLevel = "medium"
	CostLevelHigh   CostLevel = "high"
)

// ClassifiedPrice is a price hour with its cost level attached.
type ClassifiedPrice struct {
	Price
	Level CostLevel `json:"level"`
}

// ReserveWindow is one contiguous future High-price window contributing to
// the reserve requirement.
type ReserveWindow struct {
	TSStart     time.Time `json:"tsStart"`
	TSEnd       time.Time `json:"tsEnd"`
	RequiredKWH float64   `json:"requiredKWH"`
	ForecastKWH float64   `json:"forecastKWH"`
}

// ReserveSpec is the minimum state-of-charge the planner must preserve for
// known expensive periods. It is valid only for the cycle that produced it.
type ReserveSpec struct {
	Timestamp     time.Time       `json:"timestamp"`
	MinSOCPercent float64         `json:"minSOCPercent"`
	RequiredKWH   float64         `json:"requiredKWH"`
	Windows       []ReserveWindow `json:"windows,omitempty"`
}
