// Package telemetry provides the external data the control cycle consumes:
// historical power samples, the price curve, the solar forecast, and the
// live readings snapshot. The core depends only on the interfaces here,
// never on a concrete source.
package telemetry

import (
	"context"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

// History is one lookback window of power samples per monitored channel.
// Any channel may be empty when its sensor is absent.
type History struct {
	HouseLoad    []types.PowerSample
	EVCharge     []types.PowerSample
	PV           []types.PowerSample
	BatteryPower []types.PowerSample
}

// HistoryProvider returns historical power samples for a lookback window.
type HistoryProvider interface {
	// History returns ordered samples per channel covering [start, end).
	History(ctx context.Context, start, end time.Time) (History, error)
}

// PriceProvider returns the hourly electricity price curve.
type PriceProvider interface {
	// Prices returns the known curve around now: past context plus however
	// much of the forecast horizon has been published.
	Prices(ctx context.Context) ([]types.Price, error)

	// ConfirmedPrices returns settled prices for a specific range, used for
	// syncing history into storage.
	ConfirmedPrices(ctx context.Context, start, end time.Time) ([]types.Price, error)
}

// ForecastProvider returns the solar production forecast.
type ForecastProvider interface {
	// Forecast returns ordered (timestamp, watts) points, horizon
	// typically a day or more.
	Forecast(ctx context.Context) ([]types.SolarForecastPoint, error)
}

// LiveSource returns the current instantaneous readings.
type LiveSource interface {
	// Readings returns the latest snapshot. The snapshot's timestamp is the
	// oldest constituent value so staleness checks are conservative.
	Readings(ctx context.Context) (types.Readings, error)
}

// Sources bundles every provider the pipeline needs.
type Sources struct {
	History  HistoryProvider
	Prices   PriceProvider
	Forecast ForecastProvider
	Live     LiveSource
}
