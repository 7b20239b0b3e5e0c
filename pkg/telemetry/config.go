package telemetry

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up every telemetry provider based on flags. Connect must
// be called before the first cycle.
func Configured() *Sources {
	provider := lflag.String("live-source", "mqtt", "Live readings source (available: mqtt, mock)")

	s := &Sources{}
	m := configuredMQTT()
	spot := configuredSpot()
	solar := configuredSolarForecast()

	lflag.Do(func() {
		if err := spot.Validate(); err != nil {
			panic(fmt.Sprintf("spot price validation failed: %v", err))
		}
		if err := solar.Validate(); err != nil {
			panic(fmt.Sprintf("solar forecast validation failed: %v", err))
		}
		s.Prices = spot
		s.Forecast = solar

		switch *provider {
		case "mqtt":
			if err := m.Validate(); err != nil {
				panic(fmt.Sprintf("mqtt validation failed: %v", err))
			}
			s.Live = m
			s.History = m
		case "mock":
			// fixture source, for local development only
			mock := NewMock()
			s.Live = mock
			s.History = mock
		default:
			panic(fmt.Sprintf("unknown live source: %s", *provider))
		}
	})

	return s
}

// Connect brings up any provider that holds a long-lived connection.
func (s *Sources) Connect(ctx context.Context) error {
	if m, ok := s.Live.(*MQTT); ok {
		return m.Connect(ctx)
	}
	return nil
}

// Close tears down long-lived connections.
func (s *Sources) Close() {
	if m, ok := s.Live.(*MQTT); ok {
		m.Close()
	}
}
