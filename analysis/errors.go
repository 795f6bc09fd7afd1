package analysis

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSchemaValidation marks stage output that does not conform to its contract.
	ErrSchemaValidation = errors.New("schema validation failed")
	// ErrStageTimeout marks a stage that exceeded its deadline.
	ErrStageTimeout = errors.New("stage timed out")
	// ErrUpstream marks a failure in an external collaborator such as the VCS API.
	ErrUpstream = errors.New("upstream failure")
)

// StageName identifies a pipeline step in errors, logs, and metrics.
type StageName string

const (
	StageFetch          StageName = "fetch_diff"
	StageChangeAnalysis StageName = "change_analysis"
	StageCoverageGaps   StageName = "coverage_gaps"
	StageTestPlanning   StageName = "test_planning"
)

type ErrorKind string

const (
	KindSchema   ErrorKind = "schema"
	KindTimeout  ErrorKind = "timeout"
	KindUpstream ErrorKind = "upstream"
	KindInternal ErrorKind = "internal"
)

// StageError is the typed failure returned by a pipeline stage.
type StageError struct {
	Stage StageName
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is lets callers match on the kind sentinels without unwrapping.
func (e *StageError) Is(target error) bool {
	switch target {
	case ErrSchemaValidation:
		return e.Kind == KindSchema
	case ErrStageTimeout:
		return e.Kind == KindTimeout
	case ErrUpstream:
		return e.Kind == KindUpstream
	default:
		return false
	}
}

// NewStageError classifies err for the given stage. An existing StageError is
// returned with its stage filled in if missing.
func NewStageError(stage StageName, err error) *StageError {
	if err == nil {
		return nil
	}
	var existing *StageError
	if errors.As(err, &existing) {
		if existing.Stage == "" {
			existing.Stage = stage
		}
		return existing
	}
	return &StageError{Stage: stage, Kind: Classify(err), Err: err}
}

// Classify maps an arbitrary error onto an ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrStageTimeout):
		return KindTimeout
	case errors.Is(err, ErrSchemaValidation):
		return KindSchema
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	default:
		return KindInternal
	}
}

// SchemaErrorf builds an error wrapping ErrSchemaValidation.
func SchemaErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSchemaValidation, fmt.Sprintf(format, args...))
}
