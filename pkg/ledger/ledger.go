// Package ledger maintains the weighted-average cost of energy stored in the
// battery. The ledger is the only dispatcher state that survives restarts: a
// single durable record {energy_kwh, wace_per_kwh} written here and read once
// at startup.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/storage"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

// StaleGap is the maximum time between processed deltas. A delta arriving
// after a longer gap is not applied; tracking re-anchors against the next
// observed absolute energy value instead.
const StaleGap = time.Hour

// Ledger owns the battery cost state exclusively. Mutating operations follow
// a commit-then-mutate protocol: the new record is durably written first and
// the in-memory state only updated on success, so a failed commit can never
// leave the two disagreeing.
type Ledger struct {
	mu    sync.Mutex
	db    storage.Database
	state types.LedgerState
}

// Load seeds a Ledger from the durable record. A missing record starts the
// ledger empty at the given capacity.
func Load(ctx context.Context, db storage.Database, capacityKWH float64) (*Ledger, error) {
	state, _, err := db.LoadLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger record: %w", err)
	}
	state.CapacityKWH = capacityKWH
	if state.EnergyKWH > capacityKWH {
		state.EnergyKWH = capacityKWH
	}
	log.Ctx(ctx).InfoContext(ctx, "ledger loaded",
		slog.Float64("energyKWH", state.EnergyKWH),
		slog.Float64("wacePerKWH", state.WACEPerKWH),
		slog.Float64("capacityKWH", capacityKWH),
	)
	return &Ledger{db: db, state: state}, nil
}

// State returns a snapshot of the current ledger record.
func (l *Ledger) State() types.LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Charge records deltaKWH of energy added to the battery at costPerKWH and
// blends it into the weighted-average cost. Non-positive deltas are ignored.
func (l *Ledger) Charge(ctx context.Context, now time.Time, deltaKWH, costPerKWH float64) error {
	if deltaKWH <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkGap(now); err != nil {
		return err
	}

	next := l.state
	newEnergy := next.EnergyKWH + deltaKWH
	if newEnergy > next.CapacityKWH {
		newEnergy = next.CapacityKWH
	}
	if newEnergy > 0 {
		next.WACEPerKWH = (next.EnergyKWH*next.WACEPerKWH + deltaKWH*costPerKWH) / newEnergy
	} else {
		next.WACEPerKWH = 0
	}
	next.EnergyKWH = newEnergy
	next.LastUpdate = now

	return l.commit(ctx, next)
}

// Discharge records deltaKWH of energy drawn from the battery. The blended
// cost of the remaining energy is unchanged. Non-positive deltas are ignored.
func (l *Ledger) Discharge(ctx context.Context, now time.Time, deltaKWH float64) error {
	if deltaKWH <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkGap(now); err != nil {
		return err
	}

	next := l.state
	next.EnergyKWH -= deltaKWH
	if next.EnergyKWH < 0 {
		next.EnergyKWH = 0
	}
	next.LastUpdate = now

	return l.commit(ctx, next)
}

// SetSOC corrects the stored energy from a state-of-charge percentage without
// disturbing the cost accounting. Used when a mis-reporting sensor has been
// fixed.
func (l *Ledger) SetSOC(ctx context.Context, now time.Time, percent float64) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.state
	next.EnergyKWH = next.CapacityKWH * percent / 100.0
	next.LastUpdate = now
	return l.commit(ctx, next)
}

// Reset clears the weighted-average cost while keeping the stored energy.
// Used to restart cost tracking after a tariff change.
func (l *Ledger) Reset(ctx context.Context, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.state
	next.WACEPerKWH = 0
	next.LastUpdate = now
	return l.commit(ctx, next)
}

// ReAnchor re-seeds the stored energy from a freshly observed absolute value
// after a stale gap, keeping the blended cost. The caller uses this instead
// of compounding an unverifiable delta.
func (l *Ledger) ReAnchor(ctx context.Context, now time.Time, observedEnergyKWH float64) error {
	if observedEnergyKWH < 0 {
		observedEnergyKWH = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.state
	if observedEnergyKWH > next.CapacityKWH {
		observedEnergyKWH = next.CapacityKWH
	}
	log.Ctx(ctx).WarnContext(ctx, "ledger re-anchored after stale gap",
		slog.Float64("trackedKWH", next.EnergyKWH),
		slog.Float64("observedKWH", observedEnergyKWH),
		slog.Time("lastUpdate", next.LastUpdate),
	)
	next.EnergyKWH = observedEnergyKWH
	next.LastUpdate = now
	return l.commit(ctx, next)
}

// checkGap rejects a delta that arrives more than StaleGap after the last
// processed one. The caller is expected to ReAnchor and report.
func (l *Ledger) checkGap(now time.Time) error {
	if l.state.LastUpdate.IsZero() {
		return nil
	}
	if gap := now.Sub(l.state.LastUpdate); gap > StaleGap {
		return fmt.Errorf("%w: %s since last delta", types.ErrLedgerStaleGap, gap)
	}
	return nil
}

// commit durably writes next and only then replaces the in-memory state.
// Callers must hold l.mu.
func (l *Ledger) commit(ctx context.Context, next types.LedgerState) error {
	if err := l.db.SaveLedger(ctx, next, types.CurrentLedgerVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "ledger commit failed, prior state retained",
			slog.Any("error", err))
		return fmt.Errorf("%w: %v", types.ErrStorageCommit, err)
	}
	l.state = next
	return nil
}
