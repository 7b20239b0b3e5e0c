package battery

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the battery controller based on flags. Connect must be
// called before the first command.
func Configured() *Configurable {
	driver := lflag.String("battery-driver", "mqtt", "Battery controller driver (available: mqtt, mock)")

	c := &Configurable{}
	m := ConfiguredMQTT()

	lflag.Do(func() {
		switch *driver {
		case "mqtt":
			if err := m.Validate(); err != nil {
				panic(fmt.Sprintf("battery mqtt validation failed: %v", err))
			}
			c.Controller = m
		case "mock":
			// fixture controller, for local development only
			c.Controller = NewMock(50)
		default:
			panic(fmt.Sprintf("unknown battery driver: %s", *driver))
		}
	})

	return c
}

// Configurable wraps the selected Controller with connection lifecycle.
type Configurable struct {
	Controller
}

// Connect brings up the controller if it holds a long-lived connection.
func (c *Configurable) Connect(ctx context.Context) error {
	if m, ok := c.Controller.(*MQTT); ok {
		return m.Connect(ctx)
	}
	return nil
}

// Close tears down long-lived connections.
func (c *Configurable) Close() {
	if m, ok := c.Controller.(*MQTT); ok {
		m.Close()
	}
}
