package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/izavyalov-dev/delta-qa/state"
)

// RunRecorder persists run lifecycle transitions.
type RunRecorder interface {
	CreateRun(ctx context.Context, run state.Run) (state.Run, error)
	TransitionRunState(ctx context.Context, runID string, next state.RunState) error
}

// NoopRecorder ignores run transitions.
type NoopRecorder struct{}

func (NoopRecorder) CreateRun(ctx context.Context, run state.Run) (state.Run, error) {
	return run, nil
}

func (NoopRecorder) TransitionRunState(ctx context.Context, runID string, next state.RunState) error {
	return nil
}

// MemoryRecorder validates transitions against the run state machine and
// keeps the history of every run in memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	history map[string][]state.RunState
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{history: make(map[string][]state.RunState)}
}

func (m *MemoryRecorder) CreateRun(ctx context.Context, run state.Run) (state.Run, error) {
	if run.State == "" {
		run.State = state.RunStateFetching
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.history[run.ID]; exists {
		return state.Run{}, fmt.Errorf("run %s already exists", run.ID)
	}
	m.history[run.ID] = []state.RunState{run.State}
	return run, nil
}

func (m *MemoryRecorder) TransitionRunState(ctx context.Context, runID string, next state.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	states, ok := m.history[runID]
	if !ok {
		return fmt.Errorf("%w: run %s", state.ErrNotFound, runID)
	}
	if err := state.ValidateRunTransition(runID, states[len(states)-1], next); err != nil {
		return err
	}
	m.history[runID] = append(states, next)
	return nil
}

// History returns the states a run passed through.
func (m *MemoryRecorder) History(runID string) []state.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]state.RunState(nil), m.history[runID]...)
}
