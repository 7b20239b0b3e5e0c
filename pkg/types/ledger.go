package types

import "time"

const CurrentLedgerVersion = 1

// LedgerState is the weighted-average-cost accounting for energy stored in
// the battery. It is the only state that survives process restarts and is
// owned exclusively by the ledger package.
type LedgerState struct {
	EnergyKWH   float64   `json:"energyKWH"`
	WACEPerKWH  float64   `json:"wacePerKWH"`
	CapacityKWH float64   `json:"capacityKWH"`
	LastUpdate  time.Time `json:"lastUpdate"`
}

// StoredValue returns the total cost basis of the energy currently stored.
func (l LedgerState) StoredValue() float64 {
	return l.EnergyKWH * l.WACEPerKWH
}

// SOCPercent returns the ledger's view of state of charge.
func (l LedgerState) SOCPercent() float64 {
	if l.CapacityKWH <= 0 {
		return 0
	}
	return l.EnergyKWH / l.CapacityKWH * 100.0
}
