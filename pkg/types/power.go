package types

import "time"

// PowerSample is a single telemetry reading from a monitored power channel.
// Samples are ephemeral: they are fetched per cycle, never persisted, and a
// series may contain gaps or a decreasing value after a counter reset.
type PowerSample struct {
	Timestamp time.Time `json:"timestamp"`
	Watts     float64   `json:"watts"`
	Source    string    `json:"source,omitempty"`
}

// Power channels queried from the history provider.
const (
	ChannelHouseLoad    = "house_load"
	ChannelEVCharge     = "ev_charge"
	ChannelPV           = "pv"
	ChannelBatteryPower = "battery_power"
)

// Daypart is a coarse time-of-day bucket used for per-daypart baselines.
type Daypart string

const (
	DaypartNight   Daypart = "night"   // 00:00-07:59
	DaypartDay     Daypart = "day"     // 08:00-15:59
	DaypartEvening Daypart = "evening" // 16:00-23:59
)

// DaypartOf returns the daypart for the local hour of t.
func DaypartOf(t time.Time) Daypart {
	switch h := t.Hour(); {
	case h < 8:
		return DaypartNight
	case h < 16:
		return DaypartDay
	default:
		return DaypartEvening
	}
}

// BaselineMethod describes how a baseline estimate was produced.
type BaselineMethod string

const (
	BaselineMethodHistorical BaselineMethod = "historical"
	BaselineMethodEMA        BaselineMethod = "ema-fallback"
)

// BaselineEstimate is the background household load estimate for one cycle.
// It is replaced wholesale every cycle, never mutated in place.
type BaselineEstimate struct {
	Timestamp   time.Time           `json:"timestamp"`
	OverallW    float64             `json:"overallW"`
	DaypartW    map[Daypart]float64 `json:"daypartW,omitempty"`
	Method      BaselineMethod      `json:"method"`
	SampleCount int                 `json:"sampleCount"`
	// Available is false when neither historical data nor a seeded EMA could
	// produce an estimate. Consumers must not treat OverallW as meaningful
	// when false.
	Available bool `json:"available"`
}

// OverallKW returns the overall estimate in kW.
func (b BaselineEstimate) OverallKW() float64 {
	return b.OverallW / 1000.0
}

// EMAState is the carried-forward smoothed baseline value used when
// historical data cannot produce an estimate. It is the only cross-cycle
// state in the baseline estimator and is seeded from storage at startup.
type EMAState struct {
	ValueW     float64   `json:"valueW"`
	Seeded     bool      `json:"seeded"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// SolarForecastPoint is one point of a solar production forecast.
type SolarForecastPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Watts     float64   `json:"watts"`
}

// Readings is a snapshot of the live instantaneous sensor values the planner
// needs. BatteryW is signed: positive while discharging, negative while
// charging. GridW is positive while importing.
type Readings struct {
	Timestamp  time.Time `json:"timestamp"`
	BatterySOC float64   `json:"batterySOC"` // 0-100
	BatteryW   float64   `json:"batteryW"`
	GridW      float64   `json:"gridW"`
	PVW        float64   `json:"pvW"`
	HouseLoadW float64   `json:"houseLoadW"`
}

// ReadingsMaxAge is how old a live snapshot may be before it is treated as
// absent rather than transiently delayed.
const ReadingsMaxAge = 15 * time.Minute

// Fresh reports whether the snapshot is recent enough to act on at time now.
func (r Readings) Fresh(now time.Time) bool {
	if r.Timestamp.IsZero() {
		return false
	}
	return now.Sub(r.Timestamp) <= ReadingsMaxAge
}
