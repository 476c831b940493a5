package status

import (
	"sync"
	"time"

	"github.com/pchat/pchat/internal/bus"
)

// State represents daemon reachability as seen by the reconciler.
type State string

const (
	Connecting State = "CONNECTING"
	Online     State = "ONLINE"
	Offline    State = "OFFLINE"
	Error      State = "ERROR"
)

// Snapshot is a consistent read of the machine for UI-facing consumers.
type Snapshot struct {
	State       State
	ErrorMsg    string
	LastPollAt  time.Time
	Diagnostics map[string]string
}

// Machine tracks daemon reachability. Transitions are driven exclusively by
// poll-cycle outcomes: any prior state may move to ONLINE, OFFLINE or ERROR.
// The error message is present only while in ERROR and is cleared by every
// other transition.
type Machine struct {
	mu          sync.RWMutex
	current     State
	errMsg      string
	lastPollAt  time.Time
	diagnostics map[string]string
	bus         *bus.Bus
}

// NewMachine creates a new state machine starting in Connecting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Connecting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns a copy of the full machine state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	diag := make(map[string]string, len(m.diagnostics))
	for k, v := range m.diagnostics {
		diag[k] = v
	}
	return Snapshot{
		State:       m.current,
		ErrorMsg:    m.errMsg,
		LastPollAt:  m.lastPollAt,
		Diagnostics: diag,
	}
}

// MarkOnline records a successful poll: state becomes ONLINE, the poll
// timestamp advances and any error message is cleared.
func (m *Machine) MarkOnline(pollAt time.Time) {
	m.set(Online, "", &pollAt)
}

// MarkOffline records a failed reachability probe or transport error.
// lastPollAt is left untouched.
func (m *Machine) MarkOffline() {
	m.set(Offline, "", nil)
}

// MarkError records a poll that reached the daemon but failed afterwards,
// keeping the captured message for diagnostics.
func (m *Machine) MarkError(msg string) {
	m.set(Error, msg, nil)
}

// SetDiagnostics replaces the transport diagnostics map.
func (m *Machine) SetDiagnostics(diag map[string]string) {
	m.mu.Lock()
	m.diagnostics = diag
	m.mu.Unlock()
}

func (m *Machine) set(to State, errMsg string, pollAt *time.Time) {
	m.mu.Lock()
	from := m.current
	m.current = to
	m.errMsg = errMsg
	if pollAt != nil {
		m.lastPollAt = *pollAt
	}
	m.mu.Unlock()

	if m.bus != nil && from != to {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindDaemonStateChanged,
			Timestamp: time.Now(),
			Payload: StateChange{
				From: from,
				To:   to,
			},
		})
	}
}

// StateChange is the payload for daemon state change events.
type StateChange struct {
	From State
	To   State
}
