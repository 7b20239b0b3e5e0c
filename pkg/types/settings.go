package types

import (
	"fmt"
	"strconv"
	"strings"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// ComfortPriority is the policy mode trading optimization aggressiveness
// against user convenience.
type ComfortPriority string

const (
	ComfortCostFirst    ComfortPriority = "cost_first"
	ComfortBalanced     ComfortPriority = "balanced"
	ComfortComfortFirst ComfortPriority = "comfort_first"
)

// ExportMode controls whether the planner may recommend grid export.
type ExportMode string

const (
	ExportModeOff     ExportMode = "off"
	ExportModeAllowed ExportMode = "allowed"
)

// Settings represents the dynamic configuration stored in the database.
// These can be changed without redeploying.
type Settings struct {
	DryRun bool `json:"dryRun"`
	// Pause updates
	Pause bool `json:"pause"`

	// Baseline Settings
	// How far back to fetch history (0 disables historical mode entirely and
	// forces the EMA fallback). Bounded 0-168.
	LookbackHours int `json:"lookbackHours"`
	// Split the baseline by night/day/evening in addition to overall.
	UseDayparts bool `json:"useDayparts"`
	// Weight kept on the previous EMA value when a new reading arrives.
	EMASmoothing float64 `json:"emaSmoothing"`
	// Assumed background load (W) when no baseline is available.
	BaselineLoadW float64 `json:"baselineLoadW"`

	// Price Settings
	// Derive cheap/high thresholds from the curve's 25th/75th percentiles
	// each cycle instead of the static thresholds below.
	UseDynamicThresholds bool    `json:"useDynamicThresholds"`
	CheapMaxPerKWH       float64 `json:"cheapMaxPerKWH"`
	HighMinPerKWH        float64 `json:"highMinPerKWH"`

	// Battery Settings
	BatteryCapacityKWH float64 `json:"batteryCapacityKWH"`
	MaxChargeW         float64 `json:"maxChargeW"`
	MaxDischargeW      float64 `json:"maxDischargeW"`
	// Extra SOC above the reserve required before a high-price discharge.
	DischargeBufferPercent float64 `json:"dischargeBufferPercent"`

	// Comfort Settings
	ComfortPriority ComfortPriority `json:"comfortPriority"`
	// Quiet hours as "HH:MM"; the window may wrap midnight.
	QuietHoursStart string `json:"quietHoursStart"`
	QuietHoursEnd   string `json:"quietHoursEnd"`
	// SOC floor the comfort filter protects in balanced mode, distinct from
	// (and normally higher than) the high-window reserve.
	PeaceOfMindFloorPercent float64 `json:"peaceOfMindFloorPercent"`

	// Peak Shaving / Load Shifting
	PeakThresholdW          float64 `json:"peakThresholdW"`
	LoadShiftFlexibilityHrs int     `json:"loadShiftFlexibilityHrs"`

	// Export Settings
	ExportMode           ExportMode `json:"exportMode"`
	MinExportPricePerKWH float64    `json:"minExportPricePerKWH"`
	// Approximated round-trip/degradation cost subtracted from export revenue.
	RoundTripCostPerKWH float64 `json:"roundTripCostPerKWH"`
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were
// made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.LookbackHours == 0 {
				s.LookbackHours = 48
				migrated = true
			}
			if s.EMASmoothing == 0 {
				s.EMASmoothing = 0.8
				migrated = true
			}
			if s.BaselineLoadW == 0 {
				s.BaselineLoadW = 1000
				migrated = true
			}
			if s.ComfortPriority == "" {
				s.ComfortPriority = ComfortBalanced
				migrated = true
			}
			if s.QuietHoursStart == "" {
				s.QuietHoursStart = "22:00"
				migrated = true
			}
			if s.QuietHoursEnd == "" {
				s.QuietHoursEnd = "07:00"
				migrated = true
			}
		case 2:
			// version 2: add export settings
			if s.ExportMode == "" {
				s.ExportMode = ExportModeOff
				migrated = true
			}
			if s.MinExportPricePerKWH == 0 {
				s.MinExportPricePerKWH = 5.0
				migrated = true
			}
			if s.RoundTripCostPerKWH == 0 {
				s.RoundTripCostPerKWH = 0.10
				migrated = true
			}
		case 3:
			// version 3: add discharge buffer and peace-of-mind floor
			if s.DischargeBufferPercent == 0 {
				s.DischargeBufferPercent = 5.0
				migrated = true
			}
			if s.PeaceOfMindFloorPercent == 0 {
				s.PeaceOfMindFloorPercent = 25.0
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}

// Validate checks the bounds on settings values that have them.
func (s Settings) Validate() error {
	if s.LookbackHours < 0 || s.LookbackHours > 168 {
		return fmt.Errorf("lookbackHours must be 0-168, got %d", s.LookbackHours)
	}
	if s.PeaceOfMindFloorPercent < 0 || s.PeaceOfMindFloorPercent > 100 {
		return fmt.Errorf("peaceOfMindFloorPercent must be 0-100, got %.1f", s.PeaceOfMindFloorPercent)
	}
	if s.EMASmoothing < 0 || s.EMASmoothing >= 1 {
		return fmt.Errorf("emaSmoothing must be in [0,1), got %.2f", s.EMASmoothing)
	}
	if _, err := MinuteOfDay(s.QuietHoursStart); s.QuietHoursStart != "" && err != nil {
		return fmt.Errorf("quietHoursStart: %w", err)
	}
	if _, err := MinuteOfDay(s.QuietHoursEnd); s.QuietHoursEnd != "" && err != nil {
		return fmt.Errorf("quietHoursEnd: %w", err)
	}
	switch s.ComfortPriority {
	case "", ComfortCostFirst, ComfortBalanced, ComfortComfortFirst:
	default:
		return fmt.Errorf("unknown comfortPriority: %s", s.ComfortPriority)
	}
	return nil
}

// MinuteOfDay parses an "HH:MM" clock string into minutes since midnight.
func MinuteOfDay(clock string) (int, error) {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q, want HH:MM", clock)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in clock %q", clock)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in clock %q", clock)
	}
	return h*60 + m, nil
}
