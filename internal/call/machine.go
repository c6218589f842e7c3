package call

import (
	"errors"
	"fmt"
	"time"

	"github.com/peerline/backend/internal/models"
)

// ErrInvalidTransition is returned for a transition the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid call state transition")

var allowed = map[models.CallState][]models.CallState{
	models.CallStateConnecting: {models.CallStateConnected, models.CallStateFailed},
	models.CallStateConnected:  {models.CallStateEnded, models.CallStateFailed},
}

// CanTransition reports whether from -> to is a lifecycle edge.
func CanTransition(from, to models.CallState) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine is the lifecycle of one call attempt. It starts in Connecting.
// Not safe for concurrent use.
type Machine struct {
	state   models.CallState
	history []models.StateTransition
	now     func() time.Time
}

// NewMachine creates a machine in Connecting.
func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{state: models.CallStateConnecting, now: now}
}

// State returns the current state.
func (m *Machine) State() models.CallState { return m.state }

// Transition moves to the given state and records it.
func (m *Machine) Transition(to models.CallState) (models.StateTransition, error) {
	if !CanTransition(m.state, to) {
		return models.StateTransition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	t := models.StateTransition{From: m.state, To: to, At: m.now().UTC()}
	m.state = to
	m.history = append(m.history, t)
	return t, nil
}

// History returns a copy of the recorded transitions.
func (m *Machine) History() []models.StateTransition {
	return append([]models.StateTransition(nil), m.history...)
}
