package battery

import (
	"context"
	"sync"
)

// Command records one command issued to the mock.
type Command struct {
	Kind   string // "charge", "discharge", "hold"
	PowerW float64
}

// Mock is an in-memory Controller for tests and the mock live source. It
// records every command issued.
type Mock struct {
	mu       sync.Mutex
	soc      float64
	commands []Command

	// ReadErr and CommandErr make the corresponding calls fail.
	ReadErr    error
	CommandErr error
}

var _ Controller = (*Mock)(nil)

// NewMock creates a Mock at the given SOC.
func NewMock(soc float64) *Mock {
	return &Mock{soc: soc}
}

func (m *Mock) ReadSOC(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	return m.soc, nil
}

func (m *Mock) CommandCharge(ctx context.Context, powerW float64) error {
	return m.command(Command{Kind: "charge", PowerW: powerW})
}

func (m *Mock) CommandDischarge(ctx context.Context, powerW float64) error {
	return m.command(Command{Kind: "discharge", PowerW: powerW})
}

func (m *Mock) Hold(ctx context.Context) error {
	return m.command(Command{Kind: "hold"})
}

func (m *Mock) command(c Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CommandErr != nil {
		return m.CommandErr
	}
	m.commands = append(m.commands, c)
	return nil
}

// SetSOC updates the reported SOC.
func (m *Mock) SetSOC(soc float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.soc = soc
}

// Commands returns a copy of every command issued so far.
func (m *Mock) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Command, len(m.commands))
	copy(out, m.commands)
	return out
}

// LastCommand returns the most recent command and whether one exists.
func (m *Mock) LastCommand() (Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.commands) == 0 {
		return Command{}, false
	}
	return m.commands[len(m.commands)-1], true
}
