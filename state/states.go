package state

import (
	"errors"
	"fmt"

	"github.com/izavyalov-dev/delta-qa/analysis"
)

// RunState is the lifecycle state of one analysis run.
type RunState string

const (
	RunStateFetching      RunState = "FETCHING"
	RunStateStage1Running RunState = "STAGE1_RUNNING"
	RunStateStage2Running RunState = "STAGE2_RUNNING"
	RunStateStage3Running RunState = "STAGE3_RUNNING"
	RunStateCompleted     RunState = "COMPLETED"
	RunStatePartial       RunState = "PARTIAL"
	RunStateFailed        RunState = "FAILED"
)

// Stages run strictly in order. Completed is reachable early when a stage
// has nothing to hand on; Partial only after Stage 1 produced output.
var runTransitions = map[RunState][]RunState{
	RunStateFetching:      {RunStateFetching, RunStateStage1Running, RunStateFailed},
	RunStateStage1Running: {RunStateStage1Running, RunStateStage2Running, RunStateCompleted, RunStateFailed},
	RunStateStage2Running: {RunStateStage2Running, RunStateStage3Running, RunStateCompleted, RunStatePartial, RunStateFailed},
	RunStateStage3Running: {RunStateStage3Running, RunStateCompleted, RunStatePartial, RunStateFailed},
	RunStateCompleted:     {RunStateCompleted},
	RunStatePartial:       {RunStatePartial},
	RunStateFailed:        {RunStateFailed},
}

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateCompleted, RunStatePartial, RunStateFailed:
		return true
	default:
		return false
	}
}

// StateForStatus maps a report status to its terminal run state.
func StateForStatus(status analysis.Status) RunState {
	switch status {
	case analysis.StatusCompleted:
		return RunStateCompleted
	case analysis.StatusPartial:
		return RunStatePartial
	default:
		return RunStateFailed
	}
}

// TransitionError signals an illegal state transition.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("%s %s: invalid transition from %s to %s", e.Entity, e.ID, e.From, e.To)
}

// UnknownStateError signals a state value that is not part of the run state machine.
type UnknownStateError struct {
	Entity string
	State  string
}

func (e UnknownStateError) Error() string {
	return fmt.Sprintf("%s: unknown state %q", e.Entity, e.State)
}

// ValidateRunTransition checks a move against the run transition table.
func ValidateRunTransition(id string, from, to RunState) error {
	allowed, ok := runTransitions[from]
	if !ok {
		return UnknownStateError{Entity: "run", State: string(from)}
	}
	if _, ok := runTransitions[to]; !ok {
		return UnknownStateError{Entity: "run", State: string(to)}
	}
	for _, candidate := range allowed {
		if candidate == to {
			return nil
		}
	}
	return TransitionError{Entity: "run", ID: id, From: string(from), To: string(to)}
}

func IsTransitionError(err error) bool {
	var te TransitionError
	return errors.As(err, &te)
}

func IsUnknownStateError(err error) bool {
	var ue UnknownStateError
	return errors.As(err, &ue)
}
