package ingest

import "time"

// Observer receives operational measurements from the orchestrator.
type Observer interface {
	ChunkStarted()
	ChunkFinished(outcome string, d time.Duration)
	ChunkRetried()
	RecordsSettled(processed, failed int)
	RunFinished(status string)
}

const (
	OutcomeSucceeded = "succeeded"
	OutcomeExhausted = "exhausted"
)

type noopObserver struct{}

func (noopObserver) ChunkStarted()                       {}
func (noopObserver) ChunkFinished(string, time.Duration) {}
func (noopObserver) ChunkRetried()                       {}
func (noopObserver) RecordsSettled(int, int)             {}
func (noopObserver) RunFinished(string)                  {}
