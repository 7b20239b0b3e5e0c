package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMQTT(now time.Time) *MQTT {
	m := newMQTT()
	m.topicSOC = "sensor/battery/soc"
	m.topicBatteryW = "sensor/battery/power"
	m.topicGridW = "sensor/grid/power"
	m.topicPVW = "sensor/pv/power"
	m.topicHouseLoad = "sensor/house/load"
	m.topicEVCharge = "sensor/ev/power"
	m.now = func() time.Time { return now }
	return m
}

func TestParseWatts(t *testing.T) {
	v, err := parseWatts([]byte("1234.5"))
	require.NoError(t, err)
	assert.Equal(t, 1234.5, v)

	v, err = parseWatts([]byte("  42 \n"))
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)

	v, err = parseWatts([]byte(`{"value": 900}`))
	require.NoError(t, err)
	assert.Equal(t, 900.0, v)

	v, err = parseWatts([]byte(`{"watts": 15.5, "unit": "W"}`))
	require.NoError(t, err)
	assert.Equal(t, 15.5, v)

	_, err = parseWatts([]byte("on"))
	assert.Error(t, err)

	_, err = parseWatts([]byte(`{"state": "idle"}`))
	assert.Error(t, err)
}

func TestMQTTReadings(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("no values yet", func(t *testing.T) {
		m := testMQTT(now)
		_, err := m.Readings(ctx)
		assert.True(t, errors.Is(err, types.ErrDataUnavailable))
	})

	t.Run("snapshot assembled from last seen values", func(t *testing.T) {
		m := testMQTT(now)
		m.record(m.topicSOC, 72)
		m.record(m.topicBatteryW, -1500)
		m.record(m.topicGridW, 300)
		m.record(m.topicPVW, 2200)
		m.record(m.topicHouseLoad, 700)

		r, err := m.Readings(ctx)
		require.NoError(t, err)
		assert.Equal(t, 72.0, r.BatterySOC)
		assert.Equal(t, -1500.0, r.BatteryW)
		assert.Equal(t, 300.0, r.GridW)
		assert.Equal(t, 2200.0, r.PVW)
		assert.Equal(t, 700.0, r.HouseLoadW)
		assert.Equal(t, now, r.Timestamp)
	})

	t.Run("timestamp is the oldest required value", func(t *testing.T) {
		m := testMQTT(now)
		m.now = func() time.Time { return now.Add(-20 * time.Minute) }
		m.record(m.topicHouseLoad, 700)
		m.now = func() time.Time { return now }
		m.record(m.topicSOC, 72)

		r, err := m.Readings(ctx)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-20*time.Minute), r.Timestamp)
		assert.False(t, r.Fresh(now))
	})

	t.Run("missing house load is unavailable", func(t *testing.T) {
		m := testMQTT(now)
		m.record(m.topicSOC, 72)
		_, err := m.Readings(ctx)
		assert.True(t, errors.Is(err, types.ErrDataUnavailable))
	})
}

func TestMQTTHistory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := testMQTT(now)

	for i := 0; i < 6; i++ {
		at := now.Add(time.Duration(i-6) * time.Hour)
		m.now = func() time.Time { return at }
		m.record(m.topicHouseLoad, float64(500+i))
		m.record(m.topicPVW, float64(100*i))
	}
	// SOC and grid values are live-only, never buffered
	m.record(m.topicSOC, 70)
	m.record(m.topicGridW, 100)

	h, err := m.History(ctx, now.Add(-4*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, h.HouseLoad, 4)
	assert.Equal(t, 502.0, h.HouseLoad[0].Watts)
	assert.Equal(t, types.ChannelHouseLoad, h.HouseLoad[0].Source)
	assert.Len(t, h.PV, 4)
	assert.Empty(t, h.EVCharge)
	assert.Empty(t, h.BatteryPower)
}

func TestMQTTHistoryRetention(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := testMQTT(now)

	m.now = func() time.Time { return now.Add(-mqttHistoryRetention - time.Hour) }
	m.record(m.topicHouseLoad, 400)
	m.now = func() time.Time { return now }
	m.record(m.topicHouseLoad, 600)

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.samples[types.ChannelHouseLoad], 1)
	assert.Equal(t, 600.0, m.samples[types.ChannelHouseLoad][0].Watts)
}
