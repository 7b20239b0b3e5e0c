package storage

import (
	"context"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

// Database defines the interface for persisting dispatcher state.
type Database interface {
	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Ledger State
	// SaveLedger must be atomic: either the full record is durably committed
	// or the prior record is retained.
	SaveLedger(ctx context.Context, state types.LedgerState, version int) error
	LoadLedger(ctx context.Context) (types.LedgerState, int, error)

	// Baseline EMA State
	SaveEMA(ctx context.Context, state types.EMAState) error
	LoadEMA(ctx context.Context) (types.EMAState, error)

	// Price History
	UpsertPrice(ctx context.Context, price types.Price, version int) error
	GetPriceHistory(ctx context.Context, start, end time.Time) ([]types.Price, error)
	GetLatestPriceHistoryTime(ctx context.Context) (time.Time, int, error)

	// Cycle Audit Trail
	InsertCycle(ctx context.Context, result types.CycleResult) error
	GetCycleHistory(ctx context.Context, start, end time.Time) ([]types.CycleResult, error)

	// Lifecycle
	Close() error
}
