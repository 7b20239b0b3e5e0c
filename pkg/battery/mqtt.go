package battery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
)

// How long a cached SOC reading stays usable before ReadSOC fails.
const socMaxAge = 15 * time.Minute

// mqttCommand is the payload published on the command topic. The inverter
// bridge applies mode until the next command arrives.
type mqttCommand struct {
	Mode   string  `json:"mode"`
	PowerW float64 `json:"powerW,omitempty"`
}

// MQTT drives an inverter through an MQTT bridge: commands are published as
// JSON on a command topic and the SOC is read from a sensor topic.
type MQTT struct {
	broker       string
	clientID     string
	username     string
	password     string
	topicCommand string
	topicSOC     string

	client mqtt.Client

	mu    sync.Mutex
	soc   float64
	socAt time.Time

	now func() time.Time
}

var _ Controller = (*MQTT)(nil)

// ConfiguredMQTT sets up flags for the MQTT battery controller.
func ConfiguredMQTT() *MQTT {
	m := &MQTT{now: time.Now}
	broker := lflag.String("battery-mqtt-broker", "tcp://localhost:1883", "MQTT broker URL for battery commands")
	clientID := lflag.String("battery-mqtt-client-id", "energy-dispatcher-battery", "MQTT client ID for battery commands")
	username := lflag.String("battery-mqtt-username", "", "MQTT username (optional)")
	password := lflag.String("battery-mqtt-password", "", "MQTT password (optional)")
	command := lflag.String("battery-mqtt-topic-command", "battery/command", "Topic battery commands are published to")
	soc := lflag.String("battery-mqtt-topic-soc", "sensor/battery/soc", "Topic for battery SOC percent")

	lflag.Do(func() {
		m.broker = *broker
		m.clientID = *clientID
		m.username = *username
		m.password = *password
		m.topicCommand = *command
		m.topicSOC = *soc
	})

	return m
}

// Validate ensures the configuration is usable.
func (m *MQTT) Validate() error {
	if m.broker == "" {
		return fmt.Errorf("battery-mqtt-broker is required")
	}
	if m.topicCommand == "" {
		return fmt.Errorf("battery-mqtt-topic-command is required")
	}
	return nil
}

// Connect connects to the broker and subscribes to the SOC topic.
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
		if m.topicSOC == "" {
			return
		}
		token := c.Subscribe(m.topicSOC, 0, func(_ mqtt.Client, msg mqtt.Message) {
			v, err := strconv.ParseFloat(string(msg.Payload()), 64)
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "unparsable SOC payload",
					slog.String("topic", msg.Topic()), slog.Any("error", err))
				return
			}
			m.mu.Lock()
			m.soc = v
			m.socAt = m.now()
			m.mu.Unlock()
		})
		if token.Wait() && token.Error() != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to subscribe to SOC topic",
				slog.String("topic", m.topicSOC), slog.Any("error", token.Error()))
		}
	})

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to broker %s: %w", m.broker, token.Error())
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}

func (m *MQTT) ReadSOC(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.socAt.IsZero() {
		return 0, fmt.Errorf("no SOC received yet on %s", m.topicSOC)
	}
	if age := m.now().Sub(m.socAt); age > socMaxAge {
		return 0, fmt.Errorf("last SOC on %s is %s old", m.topicSOC, age.Round(time.Second))
	}
	return m.soc, nil
}

func (m *MQTT) CommandCharge(ctx context.Context, powerW float64) error {
	return m.publish(ctx, mqttCommand{Mode: "charge", PowerW: powerW})
}

func (m *MQTT) CommandDischarge(ctx context.Context, powerW float64) error {
	return m.publish(ctx, mqttCommand{Mode: "discharge", PowerW: powerW})
}

func (m *MQTT) Hold(ctx context.Context) error {
	return m.publish(ctx, mqttCommand{Mode: "hold"})
}

func (m *MQTT) publish(ctx context.Context, cmd mqttCommand) error {
	if m.client == nil {
		return fmt.Errorf("not connected")
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	// QoS 1 with retain so a restarting bridge picks up the current mode
	token := m.client.Publish(m.topicCommand, 1, true, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish command: %w", token.Error())
	}
	log.Ctx(ctx).DebugContext(ctx, "published battery command",
		slog.String("mode", cmd.Mode), slog.Float64("powerW", cmd.PowerW))
	return nil
}
