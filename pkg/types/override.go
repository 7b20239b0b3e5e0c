package types

import (
	"fmt"
	"time"
)

// Override bounds. An override outside these is rejected before being
// applied.
const (
	OverrideMaxDuration = 24 * time.Hour
	OverrideMaxPowerW   = 20000.0
)

// Override is a time-boxed manual command that supersedes the planner and
// comfort filter entirely while unexpired.
type Override struct {
	Mode      ActionKind `json:"mode"`
	PowerW    float64    `json:"powerW,omitempty"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// Active reports whether the override is currently in force.
func (o Override) Active(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.Before(o.ExpiresAt)
}

// Validate checks the override against the allowed bounds at time now.
func (o Override) Validate(now time.Time) error {
	switch o.Mode {
	case ActionCharge, ActionDischarge, ActionHold, ActionExport:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidOverride, o.Mode)
	}
	d := o.ExpiresAt.Sub(now)
	if d <= 0 {
		return fmt.Errorf("%w: already expired", ErrInvalidOverride)
	}
	if d > OverrideMaxDuration {
		return fmt.Errorf("%w: duration %s exceeds %s", ErrInvalidOverride, d, OverrideMaxDuration)
	}
	if o.PowerW < 0 || o.PowerW > OverrideMaxPowerW {
		return fmt.Errorf("%w: power %.0fW outside [0, %.0f]", ErrInvalidOverride, o.PowerW, OverrideMaxPowerW)
	}
	return nil
}
