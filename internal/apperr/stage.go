package apperr

import "fmt"

type StageOp string

const (
	OpSetup   StageOp = "setup"
	OpProcess StageOp = "process"
	OpCleanup StageOp = "cleanup"
)

// StageError wraps a failure raised by a processing stage hook.
type StageError struct {
	Stage string
	Op    StageOp
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s %s: %v", e.Stage, e.Op, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func NewStage(stage string, op StageOp, err error) *StageError {
	return &StageError{Stage: stage, Op: op, Err: err}
}
