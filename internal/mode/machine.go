// Package mode implements the FAB operating-mode state machine. The mode
// gates how aggressively the admission loop spends its budgets: FAB0 is
// dormant, FAB1 is engaged, FAB2 is fully adaptive.
package mode

import (
	"fmt"
)

// Mode is a FAB operating mode.
type Mode string

const (
	// FAB0 is the dormant baseline mode.
	FAB0 Mode = "FAB0"

	// FAB1 is the engaged mode entered when self presence is high.
	FAB1 Mode = "FAB1"

	// FAB2 is the fully adaptive mode reached after sustained low stress.
	FAB2 Mode = "FAB2"
)

// Thresholds gating mode transitions.
const (
	presenceEngageThreshold = 0.8
	stressEngageCeiling     = 0.7
	stressStableCeiling     = 0.5
	stressFaultFloor        = 0.7
	errorRateFaultFloor     = 0.05

	// stableTicksForFAB2 is how many consecutive calm ticks FAB1 needs
	// before promoting to FAB2.
	stableTicksForFAB2 = 3
)

// InvalidModeError reports an unrecognized external mode value. The machine
// state is unchanged when it is returned.
type InvalidModeError struct {
	Value string
}

func (e InvalidModeError) Error() string {
	return fmt.Sprintf("invalid mode %q", e.Value)
}

// Parse validates an external mode string.
func Parse(s string) (Mode, error) {
	switch Mode(s) {
	case FAB0, FAB1, FAB2:
		return Mode(s), nil
	default:
		return "", InvalidModeError{Value: s}
	}
}

// Signals are the per-tick inputs to the machine, each in [0,1].
type Signals struct {
	Stress       float64 `json:"stress"`
	SelfPresence float64 `json:"self_presence"`
	ErrorRate    float64 `json:"error_rate"`
}

// State is a snapshot of the machine.
type State struct {
	Mode         Mode `json:"mode"`
	StableTicks  int  `json:"stable_ticks"`
	PreviousMode Mode `json:"previous_mode"`
	Transitions  int  `json:"transitions"`
}

// Machine tracks the operating mode across ticks. It is not safe for
// concurrent use; one instance belongs to one FAB core.
type Machine struct {
	mode        Mode
	stableTicks int
	previous    Mode
	transitions int
}

// NewMachine starts a machine in FAB0.
func NewMachine() *Machine {
	return &Machine{mode: FAB0, previous: FAB0}
}

// Mode returns the current operating mode.
func (m *Machine) Mode() Mode { return m.mode }

// State returns a snapshot.
func (m *Machine) State() State {
	return State{
		Mode:         m.mode,
		StableTicks:  m.stableTicks,
		PreviousMode: m.previous,
		Transitions:  m.transitions,
	}
}

// Force sets the mode from an external value, resetting stability.
// Unrecognized values leave the machine untouched.
func (m *Machine) Force(value string) error {
	parsed, err := Parse(value)
	if err != nil {
		return err
	}
	if parsed != m.mode {
		m.transition(parsed)
		m.stableTicks = 0
	}
	return nil
}

// Step applies one tick of signals and returns the resulting state.
//
// The fault path always wins: high stress or error rate degrades FAB2 to
// FAB1 unconditionally, with no dwell, before any stabilization logic runs.
func (m *Machine) Step(sig Signals) State {
	switch m.mode {
	case FAB0:
		if sig.SelfPresence >= presenceEngageThreshold && sig.Stress < stressEngageCeiling {
			m.transition(FAB1)
			m.stableTicks = 0
		}

	case FAB1:
		if sig.Stress < stressStableCeiling {
			m.stableTicks++
			if m.stableTicks >= stableTicksForFAB2 {
				// Promotion retains the stability streak that earned it;
				// only degradations reset the counter.
				m.transition(FAB2)
			}
		} else {
			m.stableTicks = 0
		}

	case FAB2:
		if sig.Stress > stressFaultFloor || sig.ErrorRate > errorRateFaultFloor {
			m.transition(FAB1)
			m.stableTicks = 0
		} else if sig.Stress < stressStableCeiling {
			m.stableTicks++
		}
	}

	return m.State()
}

func (m *Machine) transition(to Mode) {
	m.previous = m.mode
	m.mode = to
	m.transitions++
}
