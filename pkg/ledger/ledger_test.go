package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/storage/storagemock"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, capacityKWH float64) (*Ledger, *storagemock.Memory) {
	t.Helper()
	db := storagemock.New()
	l, err := Load(context.Background(), db, capacityKWH)
	require.NoError(t, err)
	return l, db
}

func TestChargeBlendsWACE(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l, db := newTestLedger(t, 15)

	// 5 kWh at 2.0/kWh, then 5 kWh at 3.0/kWh -> 10 kWh at 2.5/kWh
	require.NoError(t, l.Charge(ctx, now, 5, 2.0))
	require.NoError(t, l.Charge(ctx, now.Add(10*time.Minute), 5, 3.0))

	state := l.State()
	assert.InDelta(t, 10.0, state.EnergyKWH, 0.0001)
	assert.InDelta(t, 2.5, state.WACEPerKWH, 0.0001)

	// committed record matches in-memory state
	assert.Equal(t, state, db.Ledger())
}

func TestChargeClipsAtCapacity(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l, _ := newTestLedger(t, 10)

	require.NoError(t, l.Charge(ctx, now, 8, 1.0))
	require.NoError(t, l.Charge(ctx, now.Add(time.Minute), 8, 2.0))

	state := l.State()
	assert.InDelta(t, 10.0, state.EnergyKWH, 0.0001)
	// wace still blends the full delta cost per the ledger formula
	assert.InDelta(t, (8*1.0+8*2.0)/10.0, state.WACEPerKWH, 0.0001)
}

func TestDischargeKeepsWACE(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l, _ := newTestLedger(t, 15)

	require.NoError(t, l.Charge(ctx, now, 10, 2.5))

	// charge then discharge of the same delta returns energy to its prior
	// value and leaves wace untouched
	require.NoError(t, l.Charge(ctx, now.Add(time.Minute), 3, 2.5))
	require.NoError(t, l.Discharge(ctx, now.Add(2*time.Minute), 3))

	state := l.State()
	assert.InDelta(t, 10.0, state.EnergyKWH, 0.0001)
	assert.InDelta(t, 2.5, state.WACEPerKWH, 0.0001)
}

func TestDischargeFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l, _ := newTestLedger(t, 10)

	require.NoError(t, l.Charge(ctx, now, 2, 1.5))
	require.NoError(t, l.Discharge(ctx, now.Add(time.Minute), 5))

	state := l.State()
	assert.Equal(t, 0.0, state.EnergyKWH)
	assert.InDelta(t, 1.5, state.WACEPerKWH, 0.0001)
}

func TestIgnoredDeltas(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l, db := newTestLedger(t, 10)

	require.NoError(t, l.Charge(ctx, now, 0, 2.0))
	require.NoError(t, l.Charge(ctx, now, -1, 2.0))
	require.NoError(t, l.Discharge(ctx, now, 0))
	require.NoError(t, l.Discharge(ctx, now, -2))

	assert.Equal(t, 0.0, l.State().EnergyKWH)
	assert.Equal(t, 0, db.SaveLedgerCalls)
}

func TestWACEWithinConvexHull(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l, _ := newTestLedger(t, 100)

	costs := []float64{1.2, 0.4, 3.1, 0.9, 2.2}
	lo, hi := costs[0], costs[0]
	for i, c := range costs {
		require.NoError(t, l.Charge(ctx, now.Add(time.Duration(i)*time.Minute), 4, c))
		if c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
		wace := l.State().WACEPerKWH
		assert.GreaterOrEqual(t, wace, lo)
		assert.LessOrEqual(t, wace, hi)
	}
}

func TestSetSOC(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l, _ := newTestLedger(t, 10)

	require.NoError(t, l.Charge(ctx, now, 5, 2.0))
	require.NoError(t, l.SetSOC(ctx, now.Add(time.Minute), 80))

	state := l.State()
	assert.InDelta(t, 8.0, state.EnergyKWH, 0.0001)
	assert.InDelta(t, 2.0, state.WACEPerKWH, 0.0001)

	// clipped to [0,100]
	require.NoError(t, l.SetSOC(ctx, now.Add(2*time.Minute), 150))
	assert.InDelta(t, 10.0, l.State().EnergyKWH, 0.0001)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l, _ := newTestLedger(t, 10)

	require.NoError(t, l.Charge(ctx, now, 5, 2.0))
	require.NoError(t, l.Reset(ctx, now.Add(time.Minute)))

	state := l.State()
	assert.Equal(t, 0.0, state.WACEPerKWH)
	assert.InDelta(t, 5.0, state.EnergyKWH, 0.0001)
}

func TestStaleGapRejectsDelta(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l, _ := newTestLedger(t, 10)

	require.NoError(t, l.Charge(ctx, now, 5, 2.0))

	// over an hour later, a delta must not be applied blindly
	later := now.Add(90 * time.Minute)
	err := l.Charge(ctx, later, 2, 3.0)
	assert.ErrorIs(t, err, types.ErrLedgerStaleGap)
	assert.InDelta(t, 5.0, l.State().EnergyKWH, 0.0001)

	// re-anchor against the observed absolute value, wace kept
	require.NoError(t, l.ReAnchor(ctx, later, 6.5))
	state := l.State()
	assert.InDelta(t, 6.5, state.EnergyKWH, 0.0001)
	assert.InDelta(t, 2.0, state.WACEPerKWH, 0.0001)

	// deltas flow again after the re-anchor
	require.NoError(t, l.Discharge(ctx, later.Add(5*time.Minute), 1))
	assert.InDelta(t, 5.5, l.State().EnergyKWH, 0.0001)
}

func TestCommitFailureRetainsState(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l, db := newTestLedger(t, 10)

	require.NoError(t, l.Charge(ctx, now, 5, 2.0))

	db.SaveLedgerErr = errors.New("backend down")
	err := l.Charge(ctx, now.Add(time.Minute), 2, 3.0)
	assert.ErrorIs(t, err, types.ErrStorageCommit)

	// in-memory state unchanged, matching the last durable record
	state := l.State()
	assert.InDelta(t, 5.0, state.EnergyKWH, 0.0001)
	assert.InDelta(t, 2.0, state.WACEPerKWH, 0.0001)
	assert.Equal(t, state, db.Ledger())
}

func TestLoadClipsToCapacity(t *testing.T) {
	ctx := context.Background()
	db := storagemock.New()
	require.NoError(t, db.SaveLedger(ctx, types.LedgerState{EnergyKWH: 12, WACEPerKWH: 1.0, CapacityKWH: 12}, types.CurrentLedgerVersion))

	// capacity shrank since the record was written
	l, err := Load(ctx, db, 10)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, l.State().EnergyKWH, 0.0001)
}
