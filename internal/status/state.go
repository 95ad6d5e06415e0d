package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wppc/internal/bus"
)

// Phase is a step of the session bootstrap.
type Phase string

const (
	NoCredential  Phase = "NO_CREDENTIAL"
	AwaitingToken Phase = "AWAITING_TOKEN"
	AwaitingQR    Phase = "AWAITING_QR"
	Polling       Phase = "POLLING"
	Authenticated Phase = "AUTHENTICATED"
	Failed        Phase = "FAILED"
)

// validTransitions defines allowed phase transitions. Every phase may fall
// back to NoCredential, which is how a restart begins.
var validTransitions = map[Phase][]Phase{
	NoCredential:  {AwaitingToken, Authenticated, Failed},
	AwaitingToken: {AwaitingQR, Polling, Authenticated, Failed, NoCredential},
	AwaitingQR:    {Polling, Authenticated, Failed, NoCredential},
	Polling:       {Authenticated, Failed, NoCredential},
	Authenticated: {NoCredential},
	Failed:        {NoCredential},
}

// Machine tracks and enforces bootstrap phase transitions.
type Machine struct {
	mu      sync.RWMutex
	current Phase
	reason  error
	bus     *bus.Bus
}

// NewMachine creates a new machine starting in NoCredential.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: NoCredential,
		bus:     b,
	}
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reason returns the error recorded by the last Fail, if any.
func (m *Machine) Reason() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

// Transition attempts to move to a new phase. Returns error if transition is invalid.
func (m *Machine) Transition(to Phase) error {
	return m.transition(to, nil)
}

// Fail moves to Failed and records why.
func (m *Machine) Fail(reason error) error {
	return m.transition(Failed, reason)
}

// Reset moves back to NoCredential from any phase. It is a no-op when the
// machine is already there.
func (m *Machine) Reset() {
	if m.Current() == NoCredential {
		return
	}
	_ = m.transition(NoCredential, nil)
}

func (m *Machine) transition(to Phase, reason error) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.reason = reason
	m.mu.Unlock()

	m.bus.Emit(bus.KindPhaseChanged, PhaseChange{
		From:   from,
		To:     to,
		Reason: reason,
	})
	return nil
}

// PhaseChange is the payload for phase change events.
type PhaseChange struct {
	From   Phase
	To     Phase
	Reason error
}

// SessionReset is the payload of session.reset. ClearCache asks holders of
// server data to drop their local copies too.
type SessionReset struct {
	Session    string
	ClearCache bool
}
