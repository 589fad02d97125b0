package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/berry/internal/bus"
)

// State represents a session connection state.
type State string

const (
	Disconnected  State = "DISCONNECTED"
	Connecting    State = "CONNECTING"
	Connected     State = "CONNECTED" // transport up, not authenticated
	Authenticated State = "AUTHENTICATED"
	Degraded      State = "DEGRADED" // authenticated session dropped, reconnecting
	Closed        State = "CLOSED"   // user-initiated disconnect
)

// States lists every state in lifecycle order.
var States = []State{Disconnected, Connecting, Connected, Authenticated, Degraded, Closed}

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected:  {Connecting, Closed},
	Connecting:    {Connected, Disconnected, Closed},
	Connected:     {Authenticated, Disconnected, Closed},
	Authenticated: {Degraded, Closed},
	Degraded:      {Authenticated, Disconnected, Closed},
	Closed:        {Connecting},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in one of the given states.
func (m *Machine) Is(states ...State) bool {
	return slices.Contains(states, m.Current())
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.KindStatusChanged, StatusChange{
			From: from,
			To:   to,
		}))
	}
	return nil
}

// CanTransition reports whether moving to `to` is allowed from the current state.
func (m *Machine) CanTransition(to State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(validTransitions[m.current], to)
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
