package ingest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/google/uuid"
)

// RunContext is the shared state of one ingestion run. Counters are written
// only by the orchestrator's aggregator; every accessor is safe to call from
// stage goroutines.
type RunContext struct {
	RunID      uuid.UUID
	SourceKind string
	Filename   string
	ChunkSize  int
	StartedAt  time.Time

	totalRecords atomic.Int64
	dequeued     atomic.Int64
	chunkIndex   atomic.Int64
	processed    atomic.Int64
	failed       atomic.Int64
	status       atomic.Value

	mu            sync.RWMutex
	errors        []string
	errorLimit    int
	omittedErrors int
	metadata      map[string]any
}

func newRunContext(runID uuid.UUID, sourceKind string, chunkSize, errorLimit int, startedAt time.Time) *RunContext {
	rc := &RunContext{
		RunID:      runID,
		SourceKind: sourceKind,
		ChunkSize:  chunkSize,
		StartedAt:  startedAt,
		errorLimit: errorLimit,
		metadata:   make(map[string]any),
	}
	rc.status.Store(domain.BatchQueued)
	return rc
}

// NewRunContext builds a detached run context with default chunking.
func NewRunContext(runID uuid.UUID, sourceKind string) *RunContext {
	return newRunContext(runID, sourceKind, DefaultChunkSize, DefaultErrorLogLimit, time.Now())
}

func (rc *RunContext) TotalRecords() int64 { return rc.totalRecords.Load() }

func (rc *RunContext) Dequeued() int64 { return rc.dequeued.Load() }

// CurrentChunkIndex is the number of chunks admitted so far.
func (rc *RunContext) CurrentChunkIndex() int { return int(rc.chunkIndex.Load()) }

func (rc *RunContext) ProcessedCount() int64 { return rc.processed.Load() }

func (rc *RunContext) FailedCount() int64 { return rc.failed.Load() }

func (rc *RunContext) Status() domain.BatchStatus {
	return rc.status.Load().(domain.BatchStatus)
}

// ProgressPercent is processed / total, 0 while the total is unknown.
func (rc *RunContext) ProgressPercent() float64 {
	total := rc.TotalRecords()
	if total == 0 {
		return 0
	}
	return float64(rc.ProcessedCount()) / float64(total) * 100
}

// Errors returns the run's error log. When more errors occurred than the
// configured limit, the last entry summarises how many were omitted.
func (rc *RunContext) Errors() []string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]string, len(rc.errors), len(rc.errors)+1)
	copy(out, rc.errors)
	if rc.omittedErrors > 0 {
		out = append(out, fmt.Sprintf("... %d more errors omitted", rc.omittedErrors))
	}
	return out
}

func (rc *RunContext) SetMetadata(key string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.metadata[key] = value
}

func (rc *RunContext) Metadata(key string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.metadata[key]
	return v, ok
}

// Snapshot is a point-in-time copy of a run's progress.
type Snapshot struct {
	RunID             uuid.UUID          `json:"runId"`
	SourceKind        string             `json:"sourceKind"`
	Filename          string             `json:"filename,omitempty"`
	Status            domain.BatchStatus `json:"status"`
	TotalRecords      int64              `json:"totalRecords"`
	Dequeued          int64              `json:"dequeued"`
	ProcessedCount    int64              `json:"processedCount"`
	FailedCount       int64              `json:"failedCount"`
	ProgressPercent   float64            `json:"progressPercent"`
	CurrentChunkIndex int                `json:"currentChunkIndex"`
	StartedAt         time.Time          `json:"startedAt"`
}

func (rc *RunContext) Snapshot() Snapshot {
	return Snapshot{
		RunID:             rc.RunID,
		SourceKind:        rc.SourceKind,
		Filename:          rc.Filename,
		Status:            rc.Status(),
		TotalRecords:      rc.TotalRecords(),
		Dequeued:          rc.Dequeued(),
		ProcessedCount:    rc.ProcessedCount(),
		FailedCount:       rc.FailedCount(),
		ProgressPercent:   rc.ProgressPercent(),
		CurrentChunkIndex: rc.CurrentChunkIndex(),
		StartedAt:         rc.StartedAt,
	}
}

// The methods below are only called from the aggregator goroutine.

func (rc *RunContext) setStatus(s domain.BatchStatus) {
	rc.status.Store(s)
}

func (rc *RunContext) raiseTotal(n int64) {
	if n > rc.totalRecords.Load() {
		rc.totalRecords.Store(n)
	}
}

func (rc *RunContext) appendErrors(errs ...string) {
	if len(errs) == 0 {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for _, e := range errs {
		if rc.errorLimit > 0 && len(rc.errors) >= rc.errorLimit {
			rc.omittedErrors++
			continue
		}
		rc.errors = append(rc.errors, e)
	}
}
