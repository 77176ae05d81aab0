package harness

import (
	"errors"
	"fmt"
)

// State is a phase of a single run.
type State string

const (
	StateStart      State = "start"
	StateLoading    State = "loading"
	StateLoadFailed State = "load_failed"
	StateLoaded     State = "loaded"
	StateEvaluating State = "evaluating"
	StateExited     State = "exited"
)

// ErrInvalidTransition is returned for an edge the run state machine lacks.
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State][]State{
	StateStart:      {StateLoading},
	StateLoading:    {StateLoadFailed, StateLoaded},
	StateLoaded:     {StateEvaluating},
	StateEvaluating: {StateExited},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// machine tracks the current state and the path taken to reach it.
type machine struct {
	current State
	trace   []State
}

func newMachine() *machine {
	return &machine{current: StateStart, trace: []State{StateStart}}
}

func (m *machine) to(next State) error {
	for _, allowed := range transitions[m.current] {
		if allowed == next {
			m.current = next
			m.trace = append(m.trace, next)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, next)
}

// mustTo is for edges the run loop itself guarantees.
func (m *machine) mustTo(next State) {
	if err := m.to(next); err != nil {
		panic(err)
	}
}
