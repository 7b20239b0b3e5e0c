// Package storagemock provides an in-memory Database implementation used by
// tests and by the "memory" storage provider for local development.
package storagemock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

// Memory is a volatile in-memory Database. All methods are safe for
// concurrent use. The error injection fields let tests exercise commit
// failures.
type Memory struct {
	mu sync.Mutex

	settings        types.Settings
	settingsVersion int
	haveSettings    bool

	ledger        types.LedgerState
	ledgerVersion int

	ema types.EMAState

	prices map[time.Time]types.Price
	cycles []types.CycleResult

	// SaveLedgerErr, when set, is returned by SaveLedger without committing.
	SaveLedgerErr error
	// SaveLedgerCalls counts SaveLedger attempts including failed ones.
	SaveLedgerCalls int
}

// New creates an empty Memory database.
func New() *Memory {
	return &Memory{prices: make(map[time.Time]types.Price)}
}

func (m *Memory) GetSettings(ctx context.Context) (types.Settings, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveSettings {
		return types.Settings{}, 0, nil
	}
	return m.settings, m.settingsVersion, nil
}

func (m *Memory) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
	m.settingsVersion = version
	m.haveSettings = true
	return nil
}

func (m *Memory) SaveLedger(ctx context.Context, state types.LedgerState, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveLedgerCalls++
	if m.SaveLedgerErr != nil {
		return m.SaveLedgerErr
	}
	m.ledger = state
	m.ledgerVersion = version
	return nil
}

func (m *Memory) LoadLedger(ctx context.Context) (types.LedgerState, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger, m.ledgerVersion, nil
}

func (m *Memory) SaveEMA(ctx context.Context, state types.EMAState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ema = state
	return nil
}

func (m *Memory) LoadEMA(ctx context.Context) (types.EMAState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ema, nil
}

func (m *Memory) UpsertPrice(ctx context.Context, price types.Price, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[price.TSStart.UTC()] = price
	return nil
}

func (m *Memory) GetPriceHistory(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Price
	for ts, p := range m.prices {
		if !ts.Before(start.UTC()) && ts.Before(end.UTC()) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TSStart.Before(out[j].TSStart) })
	return out, nil
}

func (m *Memory) GetLatestPriceHistoryTime(ctx context.Context) (time.Time, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for ts := range m.prices {
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest, types.CurrentPriceHistoryVersion, nil
}

func (m *Memory) InsertCycle(ctx context.Context, result types.CycleResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, result)
	return nil
}

func (m *Memory) GetCycleHistory(ctx context.Context, start, end time.Time) ([]types.CycleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.CycleResult
	for _, c := range m.cycles {
		if !c.Timestamp.Before(start) && c.Timestamp.Before(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}

// Ledger returns the committed ledger record, for test assertions.
func (m *Memory) Ledger() types.LedgerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger
}

// Cycles returns all inserted cycle results, for test assertions.
func (m *Memory) Cycles() []types.CycleResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.CycleResult, len(m.cycles))
	copy(out, m.cycles)
	return out
}
