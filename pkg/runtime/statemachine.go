package runtime

import (
	"fmt"

	"github.com/containust/containust/pkg/ctsterr"
	"github.com/containust/containust/pkg/state"
)

// event is the input to the container state machine (spec.md §4.7).
type event string

const (
	eventStart       event = "start"
	eventExitZero    event = "exit_zero"
	eventExitNonZero event = "exit_nonzero"
	eventUnhealthy   event = "unhealthy"
)

// transition is the closed set of valid (state, event) -> state edges
// from spec.md §4.7's diagram. Anything not listed here is invalid.
var transitions = map[state.ContainerState]map[event]state.ContainerState{
	state.StateCreated: {
		eventStart: state.StateRunning,
	},
	state.StateRunning: {
		eventExitZero:    state.StateStopped,
		eventExitNonZero: state.StateFailed,
		eventUnhealthy:   state.StateFailed,
	},
}

// nextState computes the state machine's total function over
// (state, event), returning R007 for a start event out of Stopped or
// Failed (Stopped→Running, Failed→Running) and R006 for any other
// pair the diagram doesn't define, such as an exit event on a Created
// container.
func nextState(current state.ContainerState, ev event) (state.ContainerState, error) {
	if current == state.StateStopped || current == state.StateFailed {
		if ev == eventStart {
			return "", ctsterr.New(ctsterr.KindInvalidState, "R007", fmt.Sprintf("invalid transition: %s cannot restart via the state machine's start event (%s→Running is disallowed)", current, current))
		}
	}
	byEvent, ok := transitions[current]
	if !ok {
		return "", ctsterr.New(ctsterr.KindInvalidState, "R006", fmt.Sprintf("no transitions are defined from state %s", current))
	}
	next, ok := byEvent[ev]
	if !ok {
		return "", ctsterr.New(ctsterr.KindInvalidState, "R006", fmt.Sprintf("event %q is not valid from state %s", ev, current))
	}
	return next, nil
}
