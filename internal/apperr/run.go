package apperr

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindStageSetup ErrorKind = "stage_setup"
	KindSource     ErrorKind = "source"
	KindCancelled  ErrorKind = "cancelled"
	KindInternal   ErrorKind = "internal"
)

// RunError is a failure that terminated a whole ingestion run.
type RunError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *RunError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("run failed (%s at %s): %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("run failed (%s): %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func NewRun(kind ErrorKind, stage string, err error) *RunError {
	return &RunError{Kind: kind, Stage: stage, Err: err}
}

// KindOf classifies an error for failure notifications.
func KindOf(err error) ErrorKind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	var se *StageError
	if errors.As(err, &se) && se.Op == OpSetup {
		return KindStageSetup
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}
