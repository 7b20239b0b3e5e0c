package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
)

// How long buffered samples are kept for the history window. Matches the
// upper bound of the configurable baseline lookback.
const mqttHistoryRetention = 168 * time.Hour

// mqttValue is one last-seen value on a subscribed topic.
type mqttValue struct {
	at    time.Time
	value float64
}

// MQTT subscribes to the configured sensor topics and caches the last-seen
// value per topic. It also buffers samples in memory so it can serve the
// baseline lookback for channels the meter publishes continuously. It
// implements LiveSource and HistoryProvider.
type MQTT struct {
	broker   string
	clientID string
	username string
	password string

	// topic per reading, empty disables that channel
	topicSOC       string
	topicBatteryW  string
	topicGridW     string
	topicPVW       string
	topicHouseLoad string
	topicEVCharge  string

	client mqtt.Client

	mu      sync.Mutex
	last    map[string]mqttValue
	samples map[string][]types.PowerSample

	now func() time.Time
}

// configuredMQTT sets up flags for the MQTT live source.
func configuredMQTT() *MQTT {
	m := newMQTT()
	broker := lflag.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	clientID := lflag.String("mqtt-client-id", "energy-dispatcher", "MQTT client ID")
	username := lflag.String("mqtt-username", "", "MQTT username (optional)")
	password := lflag.String("mqtt-password", "", "MQTT password (optional)")
	soc := lflag.String("mqtt-topic-soc", "sensor/battery/soc", "Topic for battery SOC percent")
	batW := lflag.String("mqtt-topic-battery-power", "sensor/battery/power", "Topic for battery power W, positive while discharging")
	gridW := lflag.String("mqtt-topic-grid-power", "sensor/grid/power", "Topic for grid power W, positive while importing")
	pvW := lflag.String("mqtt-topic-pv-power", "sensor/pv/power", "Topic for PV production W")
	loadW := lflag.String("mqtt-topic-house-load", "sensor/house/load", "Topic for household load W")
	evW := lflag.String("mqtt-topic-ev-power", "", "Topic for EV charger power W (optional)")

	lflag.Do(func() {
		m.broker = *broker
		m.clientID = *clientID
		m.username = *username
		m.password = *password
		m.topicSOC = *soc
		m.topicBatteryW = *batW
		m.topicGridW = *gridW
		m.topicPVW = *pvW
		m.topicHouseLoad = *loadW
		m.topicEVCharge = *evW
	})

	return m
}

func newMQTT() *MQTT {
	return &MQTT{
		last:    make(map[string]mqttValue),
		samples: make(map[string][]types.PowerSample),
		now:     time.Now,
	}
}

// Validate ensures the configuration is usable.
func (m *MQTT) Validate() error {
	if m.broker == "" {
		return fmt.Errorf("mqtt-broker is required")
	}
	if m.topicSOC == "" || m.topicHouseLoad == "" {
		return fmt.Errorf("mqtt-topic-soc and mqtt-topic-house-load are required")
	}
	return nil
}

// Connect connects to the broker and subscribes. Reconnects and
// resubscribes automatically on connection loss.
func (m *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(m.broker).
		SetClientID(m.clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(60 * time.Second)
	if m.username != "" {
		opts.SetUsername(m.username)
		opts.SetPassword(m.password)
	}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		m.subscribe(ctx, c)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Ctx(ctx).WarnContext(ctx, "mqtt connection lost", slog.Any("err", err))
	})

	m.client = mqtt.NewClient(opts)
	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}
	log.Ctx(ctx).InfoContext(ctx, "connected to mqtt broker", slog.String("broker", m.broker))
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.client != nil {
		m.client.Disconnect(250)
	}
}

func (m *MQTT) subscribe(ctx context.Context, c mqtt.Client) {
	topics := []string{
		m.topicSOC,
		m.topicBatteryW,
		m.topicGridW,
		m.topicPVW,
		m.topicHouseLoad,
		m.topicEVCharge,
	}
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		if token := c.Subscribe(topic, 1, m.handleMessage); token.Wait() && token.Error() != nil {
			log.Ctx(ctx).ErrorContext(ctx, "mqtt subscribe failed",
				slog.String("topic", topic),
				slog.Any("err", token.Error()),
			)
			continue
		}
		log.Ctx(ctx).DebugContext(ctx, "mqtt subscribed", slog.String("topic", topic))
	}
}

func (m *MQTT) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	v, err := parseWatts(msg.Payload())
	if err != nil {
		return
	}
	m.record(msg.Topic(), v)
}

// record stores a value for a topic, appending to the history buffer for
// power channels.
func (m *MQTT) record(topic string, v float64) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[topic] = mqttValue{at: now, value: v}

	channel := m.channelFor(topic)
	if channel == "" {
		return
	}
	buf := append(m.samples[channel], types.PowerSample{
		Timestamp: now,
		Watts:     v,
		Source:    channel,
	})
	cutoff := now.Add(-mqttHistoryRetention)
	for len(buf) > 0 && buf[0].Timestamp.Before(cutoff) {
		buf = buf[1:]
	}
	m.samples[channel] = buf
}

// channelFor maps a topic to its history channel, "" for values that are
// not buffered (SOC, grid).
func (m *MQTT) channelFor(topic string) string {
	switch topic {
	case m.topicHouseLoad:
		return types.ChannelHouseLoad
	case m.topicEVCharge:
		return types.ChannelEVCharge
	case m.topicPVW:
		return types.ChannelPV
	case m.topicBatteryW:
		return types.ChannelBatteryPower
	}
	return ""
}

// Readings implements LiveSource. The snapshot timestamp is the oldest of
// the required values so a single dead sensor makes the whole snapshot go
// stale rather than hiding behind fresher neighbors.
func (m *MQTT) Readings(ctx context.Context) (types.Readings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	soc, ok := m.last[m.topicSOC]
	if !ok {
		return types.Readings{}, fmt.Errorf("%w: no battery SOC seen yet", types.ErrDataUnavailable)
	}
	loadV, ok := m.last[m.topicHouseLoad]
	if !ok {
		return types.Readings{}, fmt.Errorf("%w: no house load seen yet", types.ErrDataUnavailable)
	}

	r := types.Readings{
		Timestamp:  soc.at,
		BatterySOC: soc.value,
		HouseLoadW: loadV.value,
	}
	if loadV.at.Before(r.Timestamp) {
		r.Timestamp = loadV.at
	}
	if v, ok := m.last[m.topicBatteryW]; ok {
		r.BatteryW = v.value
	}
	if v, ok := m.last[m.topicGridW]; ok {
		r.GridW = v.value
	}
	if v, ok := m.last[m.topicPVW]; ok {
		r.PVW = v.value
	}
	return r, nil
}

// History implements HistoryProvider from the in-memory buffer. The buffer
// only reaches back to process start; earlier hours simply come back empty
// and the baseline falls back accordingly.
func (m *MQTT) History(ctx context.Context, start, end time.Time) (History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return History{
		HouseLoad:    windowed(m.samples[types.ChannelHouseLoad], start, end),
		EVCharge:     windowed(m.samples[types.ChannelEVCharge], start, end),
		PV:           windowed(m.samples[types.ChannelPV], start, end),
		BatteryPower: windowed(m.samples[types.ChannelBatteryPower], start, end),
	}, nil
}

// windowed returns the samples within [start, end).
func windowed(samples []types.PowerSample, start, end time.Time) []types.PowerSample {
	var out []types.PowerSample
	for _, s := range samples {
		if s.Timestamp.Before(start) || !s.Timestamp.Before(end) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// parseWatts accepts either a bare number payload or a JSON object with a
// "value" or "watts" field, which covers the common meter bridges.
func parseWatts(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	var obj struct {
		Value *float64 `json:"value"`
		Watts *float64 `json:"watts"`
	}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return 0, fmt.Errorf("unparseable payload %q: %w", s, err)
	}
	if obj.Value != nil {
		return *obj.Value, nil
	}
	if obj.Watts != nil {
		return *obj.Watts, nil
	}
	return 0, fmt.Errorf("payload %q has no value field", s)
}
