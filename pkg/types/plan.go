package types

import "time"

// ActionKind is what the planner wants the battery to do during a slot.
type ActionKind string

const (
	ActionCharge    ActionKind = "charge"
	ActionDischarge ActionKind = "discharge"
	ActionHold      ActionKind = "hold"
	ActionExport    ActionKind = "export"
)

// UserImpact is a coarse tag describing how disruptive an action or
// recommendation is to the household.
type UserImpact string

const (
	UserImpactLow    UserImpact = "low"
	UserImpactMedium UserImpact = "medium"
	UserImpactHigh   UserImpact = "high"
)

// PlanAction is one slot of the hourly plan. Actions are produced fresh each
// cycle and never mutated after creation.
type PlanAction struct {
	TSStart            time.Time  `json:"tsStart"`
	TSEnd              time.Time  `json:"tsEnd"`
	Kind               ActionKind `json:"kind"`
	PowerW             float64    `json:"powerW"`
	Reason             string     `json:"reason"`
	UserImpact         UserImpact `json:"userImpact"`
	InconvenienceScore float64    `json:"inconvenienceScore"`
	SavingsEstimate    float64    `json:"savingsEstimate"`
	ProjectedSOC       float64    `json:"projectedSOC"`
}

// RejectedAction is a planner action the comfort filter refused, kept for
// observability instead of being silently dropped.
type RejectedAction struct {
	Action PlanAction `json:"action"`
	Reason string     `json:"reason"`
}

// LoadShiftOpportunity is an advisory recommendation to move flexible
// consumption to a cheaper slot. It is reported alongside the plan, never
// executed.
type LoadShiftOpportunity struct {
	From            time.Time  `json:"from"`
	To              time.Time  `json:"to"`
	FlexibleW       float64    `json:"flexibleW"`
	PriceDiffPerKWH float64    `json:"priceDiffPerKWH"`
	SavingsEstimate float64    `json:"savingsEstimate"`
	UserImpact      UserImpact `json:"userImpact"`
}

// PeakShaveEvent records a discharge emitted to cap grid import below the
// configured threshold.
type PeakShaveEvent struct {
	Timestamp       time.Time     `json:"timestamp"`
	ImportW         float64       `json:"importW"`
	ExcessW         float64       `json:"excessW"`
	DischargeW      float64       `json:"dischargeW"`
	Sustainable     time.Duration `json:"sustainable"`
	SustainableText string        `json:"sustainableText"`
}

// PlanResult is the full planner output for one cycle.
type PlanResult struct {
	Timestamp  time.Time              `json:"timestamp"`
	Actions    []PlanAction           `json:"actions"`
	Rejected   []RejectedAction       `json:"rejected,omitempty"`
	LoadShifts []LoadShiftOpportunity `json:"loadShifts,omitempty"`
	PeakShave  *PeakShaveEvent        `json:"peakShave,omitempty"`
}

// CycleResult is the emitted output of one full control cycle.
type CycleResult struct {
	Timestamp time.Time         `json:"timestamp"`
	Baseline  BaselineEstimate  `json:"baseline"`
	Prices    []ClassifiedPrice `json:"prices"`
	Reserve   ReserveSpec       `json:"reserve"`
	Plan      PlanResult        `json:"plan"`
	Ledger    LedgerState       `json:"ledger"`
	Override  *Override         `json:"override,omitempty"`
	DryRun    bool              `json:"dryRun,omitempty"`
	Paused    bool              `json:"paused,omitempty"`
	Notes     []string          `json:"notes,omitempty"`
}
