package storagemock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/storage"
	"github.com/Bokbacken/energy-dispatcher/pkg/storage/storagemock"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ storage.Database = (*storagemock.Memory)(nil)

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	m := storagemock.New()

	state := types.LedgerState{EnergyKWH: 5, WACEPerKWH: 2.0, CapacityKWH: 10}
	require.NoError(t, m.SaveLedger(ctx, state, types.CurrentLedgerVersion))

	got, version, err := m.LoadLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, state, got)
	assert.Equal(t, types.CurrentLedgerVersion, version)
}

func TestMemoryLedgerFailureInjection(t *testing.T) {
	ctx := context.Background()
	m := storagemock.New()
	require.NoError(t, m.SaveLedger(ctx, types.LedgerState{EnergyKWH: 3}, 1))

	m.SaveLedgerErr = errors.New("backend down")
	err := m.SaveLedger(ctx, types.LedgerState{EnergyKWH: 9}, 1)
	require.Error(t, err)

	// prior record retained
	got, _, err := m.LoadLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.EnergyKWH)
	assert.Equal(t, 2, m.SaveLedgerCalls)
}

func TestMemoryPrices(t *testing.T) {
	ctx := context.Background()
	m := storagemock.New()
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		ts := start.Add(time.Duration(i) * time.Hour)
		require.NoError(t, m.UpsertPrice(ctx, types.Price{
			TSStart: ts, TSEnd: ts.Add(time.Hour), PerKWH: float64(i),
		}, types.CurrentPriceHistoryVersion))
	}

	prices, err := m.GetPriceHistory(ctx, start, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, prices[0].TSStart.Before(prices[1].TSStart))

	latest, _, err := m.GetLatestPriceHistoryTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, start.Add(3*time.Hour), latest)
}
