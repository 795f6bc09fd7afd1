package state

import (
	"testing"

	"github.com/izavyalov-dev/delta-qa/analysis"
)

func TestValidateRunTransition(t *testing.T) {
	cases := []struct {
		from, to RunState
		ok       bool
	}{
		{RunStateFetching, RunStateStage1Running, true},
		{RunStateFetching, RunStateFailed, true},
		{RunStateFetching, RunStatePartial, false},
		{RunStateStage1Running, RunStateCompleted, true},
		{RunStateStage1Running, RunStatePartial, false},
		{RunStateStage1Running, RunStateStage3Running, false},
		{RunStateStage2Running, RunStatePartial, true},
		{RunStateStage3Running, RunStateCompleted, true},
		{RunStateCompleted, RunStateFailed, false},
		{RunStatePartial, RunStatePartial, true},
	}
	for _, tc := range cases {
		err := ValidateRunTransition("run-1", tc.from, tc.to)
		if tc.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && !IsTransitionError(err) {
			t.Errorf("%s -> %s: expected transition error, got %v", tc.from, tc.to, err)
		}
	}
}

func TestValidateRunTransitionUnknownState(t *testing.T) {
	if err := ValidateRunTransition("run-1", "QUEUED", RunStateFailed); !IsUnknownStateError(err) {
		t.Fatalf("expected unknown state error, got %v", err)
	}
	if err := ValidateRunTransition("run-1", RunStateFetching, "DONE"); !IsUnknownStateError(err) {
		t.Fatalf("expected unknown state error, got %v", err)
	}
}

func TestStateForStatus(t *testing.T) {
	if got := StateForStatus(analysis.StatusCompleted); got != RunStateCompleted {
		t.Fatalf("completed mapped to %s", got)
	}
	if got := StateForStatus(analysis.StatusPartial); got != RunStatePartial {
		t.Fatalf("partial mapped to %s", got)
	}
	if got := StateForStatus(analysis.StatusFailed); got != RunStateFailed {
		t.Fatalf("failed mapped to %s", got)
	}
	if !RunStatePartial.Terminal() || RunStateStage2Running.Terminal() {
		t.Fatalf("unexpected terminal classification")
	}
}
