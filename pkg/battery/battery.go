// Package battery abstracts the inverter hardware behind a small capability
// interface. The decision core only ever talks to this interface; concrete
// device types live behind it.
package battery

import "context"

// Controller is the capability surface a battery system must expose.
type Controller interface {
	// ReadSOC returns the current state of charge in percent.
	ReadSOC(ctx context.Context) (float64, error)

	// CommandCharge requests charging at powerW until the next command.
	CommandCharge(ctx context.Context, powerW float64) error

	// CommandDischarge requests discharging at powerW until the next
	// command.
	CommandDischarge(ctx context.Context, powerW float64) error

	// Hold requests neither charging nor discharging.
	Hold(ctx context.Context) error
}
