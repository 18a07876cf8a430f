package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/chatup-app/chatup/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	// Booting is the initial state before the first connectivity probe.
	Booting State = "BOOTING"
	// Offline means the server is unreachable; reads serve the local cache
	// and writes queue in the outbox.
	Offline State = "OFFLINE"
	// Syncing means connectivity returned and the cache refresh plus outbox
	// drain are in flight.
	Syncing State = "SYNCING"
	// Ready means the cache is fresh and the outbox is empty.
	Ready State = "READY"
	// Degraded means the last drain left entries behind (a stuck head or a
	// rejected send); reads still work.
	Degraded State = "DEGRADED"
	Error    State = "ERROR"
)

var validTransitions = map[State][]State{
	Booting:  {Offline, Syncing, Error},
	Offline:  {Syncing, Error},
	Syncing:  {Ready, Degraded, Offline, Error},
	Ready:    {Offline, Syncing, Degraded, Error},
	Degraded: {Syncing, Ready, Offline, Error},
	Error:    {Booting},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Booting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid; transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.KindStatusChanged, Change{From: from, To: to}))
	}
	return nil
}

// Change is the payload for status change events.
type Change struct {
	From State
	To   State
}
