package orchestrator

import (
	"github.com/google/uuid"
)

// IDGenerator produces opaque identifiers for runs.
type IDGenerator interface {
	RunID() string
}

// RandomIDGenerator produces random, prefixed identifiers.
type RandomIDGenerator struct{}

func (RandomIDGenerator) RunID() string { return "run_" + uuid.NewString() }
