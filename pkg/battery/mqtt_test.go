package battery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMQTTReadSOC(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("no SOC received yet", func(t *testing.T) {
		m := &MQTT{topicSOC: "sensor/battery/soc", now: func() time.Time { return now }}
		_, err := m.ReadSOC(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no SOC received")
	})

	t.Run("fresh SOC returned", func(t *testing.T) {
		m := &MQTT{topicSOC: "sensor/battery/soc", now: func() time.Time { return now }}
		m.soc = 72.5
		m.socAt = now.Add(-time.Minute)
		soc, err := m.ReadSOC(ctx)
		require.NoError(t, err)
		assert.Equal(t, 72.5, soc)
	})

	t.Run("stale SOC rejected", func(t *testing.T) {
		m := &MQTT{topicSOC: "sensor/battery/soc", now: func() time.Time { return now }}
		m.soc = 72.5
		m.socAt = now.Add(-socMaxAge - time.Minute)
		_, err := m.ReadSOC(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "old")
	})
}

func TestMQTTValidate(t *testing.T) {
	m := &MQTT{broker: "tcp://localhost:1883", topicCommand: "battery/command"}
	assert.NoError(t, m.Validate())

	m.topicCommand = ""
	assert.Error(t, m.Validate())

	m = &MQTT{topicCommand: "battery/command"}
	assert.Error(t, m.Validate())
}
