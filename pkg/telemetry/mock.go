package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

// Mock is a fixture implementing every provider interface. Set the fields
// to what the test needs; the Err fields make the corresponding call fail.
type Mock struct {
	mu sync.Mutex

	HistoryData History
	HistoryErr  error

	PriceData []types.Price
	PriceErr  error

	ForecastData []types.SolarForecastPoint
	ForecastErr  error

	ReadingsData types.Readings
	ReadingsErr  error
}

// NewMock creates an empty Mock.
func NewMock() *Mock {
	return &Mock{}
}

// Sources returns a Sources bundle backed entirely by the mock.
func (m *Mock) Sources() *Sources {
	return &Sources{History: m, Prices: m, Forecast: m, Live: m}
}

func (m *Mock) History(ctx context.Context, start, end time.Time) (History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HistoryErr != nil {
		return History{}, m.HistoryErr
	}
	return History{
		HouseLoad:    windowed(m.HistoryData.HouseLoad, start, end),
		EVCharge:     windowed(m.HistoryData.EVCharge, start, end),
		PV:           windowed(m.HistoryData.PV, start, end),
		BatteryPower: windowed(m.HistoryData.BatteryPower, start, end),
	}, nil
}

func (m *Mock) Prices(ctx context.Context) ([]types.Price, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PriceData, m.PriceErr
}

func (m *Mock) ConfirmedPrices(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PriceErr != nil {
		return nil, m.PriceErr
	}
	var out []types.Price
	for _, p := range m.PriceData {
		if p.TSStart.Before(start) || p.TSStart.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *Mock) Forecast(ctx context.Context) ([]types.SolarForecastPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ForecastData, m.ForecastErr
}

func (m *Mock) Readings(ctx context.Context) (types.Readings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ReadingsData, m.ReadingsErr
}

// SetReadings replaces the live snapshot.
func (m *Mock) SetReadings(r types.Readings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadingsData = r
}
