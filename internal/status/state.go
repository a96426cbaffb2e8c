package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/mfigueiredo/wamcp/internal/bus"
)

// State represents a connection lifecycle state.
type State string

const (
	Disconnected  State = "DISCONNECTED"
	Connecting    State = "CONNECTING"
	QrPending     State = "QR_PENDING"
	Connected     State = "CONNECTED"
	ReconnectWait State = "RECONNECT_WAIT"
	// Failed is terminal: explicit logout or the conflict-loop guard tripped.
	// Recovery requires a manual restart/relink.
	Failed State = "FAILED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected:  {Connecting},
	Connecting:    {QrPending, Connected, ReconnectWait, Failed, Disconnected},
	QrPending:     {Connecting, Connected, ReconnectWait, Failed, Disconnected},
	Connected:     {ReconnectWait, Failed, Disconnected},
	ReconnectWait: {Connecting, Failed, Disconnected},
	Failed:        {Connecting, Disconnected},
}

// Snapshot is the externally visible connection status. The latest snapshot
// always supersedes all previous ones.
type Snapshot struct {
	Connected   bool   `json:"connected"`
	QRCode      string `json:"qr_code,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Machine tracks connection state transitions and holds the latest status
// snapshot. Snapshots are broadcast on the bus as "session.status" events.
type Machine struct {
	mu       sync.RWMutex
	current  State
	snapshot Snapshot
	bus      *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
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

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed. Transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	m.current = to
	return nil
}

// Publish replaces the current snapshot and broadcasts it.
func (m *Machine) Publish(snap Snapshot) {
	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()
	if m.bus != nil {
		m.bus.Publish(bus.KindSessionStatus, snap)
	}
}

// Snapshot returns the latest published snapshot.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
