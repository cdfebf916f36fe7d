package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/DjordjeVuckovic/retail-ingest/internal/events"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage/in_mem"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStage struct {
	setup   func(ctx context.Context, rc *RunContext) error
	process func(ctx context.Context, chunk *Chunk, rc *RunContext) (ChunkResult, error)
	cleanup func(ctx context.Context, rc *RunContext) error

	cleanups atomic.Int32
}

func (s *fakeStage) Setup(ctx context.Context, rc *RunContext) error {
	if s.setup != nil {
		return s.setup(ctx, rc)
	}
	return nil
}

func (s *fakeStage) ProcessChunk(ctx context.Context, chunk *Chunk, rc *RunContext) (ChunkResult, error) {
	if s.process != nil {
		return s.process(ctx, chunk, rc)
	}
	return NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil), nil
}

func (s *fakeStage) Cleanup(ctx context.Context, rc *RunContext) error {
	s.cleanups.Add(1)
	if s.cleanup != nil {
		return s.cleanup(ctx, rc)
	}
	return nil
}

func passStage() *fakeStage {
	return &fakeStage{}
}

// delaySleeper records requested retry delays without waiting.
type delaySleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (d *delaySleeper) sleep(ctx context.Context, delay time.Duration) error {
	d.mu.Lock()
	d.delays = append(d.delays, delay)
	d.mu.Unlock()
	return ctx.Err()
}

func (d *delaySleeper) recorded() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.delays)
}

func records(n int) []domain.RawRecord {
	out := make([]domain.RawRecord, n)
	for i := range out {
		out[i] = domain.RawRecord{"sku": fmt.Sprintf("SKU-%d", i)}
	}
	return out
}

func batches(total, size int) [][]domain.RawRecord {
	all := records(total)
	var out [][]domain.RawRecord
	for start := 0; start < total; start += size {
		out = append(out, all[start:min(start+size, total)])
	}
	return out
}

func newTestOrchestrator(t *testing.T, cfg Config, opts ...Option) (*Orchestrator, *events.Recorder, *delaySleeper) {
	t.Helper()
	rec := events.NewRecorder()
	sleeper := &delaySleeper{}
	opts = append([]Option{WithEventSink(rec), WithSleeper(sleeper.sleep)}, opts...)
	return New(cfg, opts...), rec, sleeper
}

func register(t *testing.T, o *Orchestrator, stages map[StageKind]Stage) {
	t.Helper()
	for kind, s := range stages {
		require.NoError(t, o.RegisterStage(kind, s))
	}
}

func TestRun_SplitsSourceIntoChunks(t *testing.T) {
	o, rec, _ := newTestOrchestrator(t, Config{ChunkSize: 1000, MaxConcurrentChunks: 2})

	var mu sync.Mutex
	var sizes []int
	persist := &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		mu.Lock()
		sizes = append(sizes, chunk.Len())
		mu.Unlock()
		return NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil), nil
	}}
	register(t, o, map[StageKind]Stage{StageParsing: passStage(), StagePersistence: persist})

	rc, err := o.Run(t.Context(), uuid.New(), FromBatches(batches(2500, 1000)...), "csv", WithTotalRecords(2500))
	require.NoError(t, err)

	slices.Sort(sizes)
	assert.Equal(t, []int{500, 1000, 1000}, sizes)
	assert.Equal(t, int64(2500), rc.TotalRecords())
	assert.Equal(t, int64(2500), rc.ProcessedCount())
	assert.Equal(t, int64(0), rc.FailedCount())
	assert.Equal(t, 3, rc.CurrentChunkIndex())
	assert.Equal(t, domain.BatchCompleted, rc.Status())
	assert.Equal(t, float64(100), rc.ProgressPercent())

	completed := events.OfType[events.RunCompleted](rec)
	require.Len(t, completed, 1)
	assert.True(t, completed[0].Success)
	assert.Equal(t, int64(2500), completed[0].TotalProcessed)
	assert.Len(t, events.OfType[events.RunCreated](rec), 1)
}

func TestRun_EveryYieldedRecordIsCounted(t *testing.T) {
	for _, chunkSize := range []int{1, 3, 7, 50} {
		t.Run(fmt.Sprintf("chunk_%d", chunkSize), func(t *testing.T) {
			o, _, _ := newTestOrchestrator(t, Config{ChunkSize: chunkSize, MaxConcurrentChunks: 3})

			dropOdd := &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
				var kept []*Record
				var errs []string
				for _, r := range chunk.Records {
					if r.Index%2 == 1 {
						errs = append(errs, fmt.Sprintf("Record %d: rejected", r.Index))
						continue
					}
					kept = append(kept, r)
				}
				chunk.Records = kept
				return NewChunkResult(chunk.Index, len(kept), len(errs), errs, nil), nil
			}}
			register(t, o, map[StageKind]Stage{StageValidation: dropOdd, StagePersistence: passStage()})

			rc, err := o.Run(t.Context(), uuid.New(), FromBatches(batches(101, chunkSize)...), "jsonl")
			require.NoError(t, err)

			assert.Equal(t, int64(101), rc.ProcessedCount()+rc.FailedCount())
			assert.Equal(t, int64(101), rc.Dequeued())
			assert.Len(t, rc.Errors(), int(rc.FailedCount()))
			assert.Equal(t, int64(101), rc.TotalRecords(), "unknown total grows to what was read")
		})
	}
}

func TestRun_SilentlyDroppedRecordsBecomeFailures(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{ChunkSize: 10})

	lossy := &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		chunk.Records = chunk.Records[:len(chunk.Records)-2]
		return NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil), nil
	}}
	register(t, o, map[StageKind]Stage{StageParsing: lossy, StagePersistence: passStage()})

	rc, err := o.Run(t.Context(), uuid.New(), FromBatches(records(10)), "csv")
	require.NoError(t, err)

	assert.Equal(t, int64(8), rc.ProcessedCount())
	assert.Equal(t, int64(2), rc.FailedCount())
	assert.Contains(t, rc.Errors(), "Chunk 0: 2 records dropped without an error")
}

func TestRun_RetriesTransientPersistenceFailure(t *testing.T) {
	o, _, sleeper := newTestOrchestrator(t, Config{ChunkSize: 100, MaxAttempts: 3, RetryDelay: 2 * time.Second})

	var calls atomic.Int32
	var lastResult atomic.Value
	persist := &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		if calls.Add(1) <= 2 {
			return ChunkResult{}, errors.New("connection reset")
		}
		res := NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil)
		lastResult.Store(res)
		return res, nil
	}}
	register(t, o, map[StageKind]Stage{
		StageParsing:     passStage(),
		StageValidation:  passStage(),
		StagePersistence: persist,
	})

	rc, err := o.Run(t.Context(), uuid.New(), FromBatches(records(100)), "csv")
	require.NoError(t, err)

	res := lastResult.Load().(ChunkResult)
	assert.Equal(t, 100, res.RecordsProcessed)
	assert.Equal(t, 0, res.RecordsFailed)
	assert.Equal(t, int64(100), rc.ProcessedCount())
	assert.Equal(t, int64(0), rc.FailedCount())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.recorded())
	assert.Equal(t, int32(3), calls.Load())
}

func TestRun_RetryDoesNotDoubleCountRecordFailures(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{ChunkSize: 10, MaxAttempts: 3})

	dropFirst := &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		chunk.Records = chunk.Records[1:]
		return NewChunkResult(chunk.Index, chunk.Len(), 1, []string{"Record 0: missing sku"}, nil), nil
	}}
	var calls atomic.Int32
	flaky := &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		if calls.Add(1) == 1 {
			return ChunkResult{}, errors.New("deadlock detected")
		}
		return NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil), nil
	}}
	register(t, o, map[StageKind]Stage{StageParsing: dropFirst, StagePersistence: flaky})

	rc, err := o.Run(t.Context(), uuid.New(), FromBatches(records(10)), "csv")
	require.NoError(t, err)

	assert.Equal(t, int64(9), rc.ProcessedCount())
	assert.Equal(t, int64(1), rc.FailedCount())
	assert.Equal(t, []string{"Record 0: missing sku"}, rc.Errors())
}

// dropOnAttempt rejects the record at position idx only on the given call.
func dropOnAttempt(call int32, idx int) *fakeStage {
	var calls atomic.Int32
	return &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		if calls.Add(1) != call {
			return NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil), nil
		}
		var kept []*Record
		var errs []string
		for _, r := range chunk.Records {
			if r.Index == idx {
				errs = append(errs, fmt.Sprintf("Record %d: transient", r.Index))
				continue
			}
			kept = append(kept, r)
		}
		chunk.Records = kept
		return NewChunkResult(chunk.Index, len(kept), len(errs), errs, nil), nil
	}}
}

func failFirstCall() *fakeStage {
	var calls atomic.Int32
	return &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		if calls.Add(1) == 1 {
			return ChunkResult{}, errors.New("connection reset")
		}
		return NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil), nil
	}}
}

func TestRun_RetryDiscardsEarlierAttemptFailures(t *testing.T) {
	o, rec, _ := newTestOrchestrator(t, Config{ChunkSize: 10, MaxAttempts: 3})
	register(t, o, map[StageKind]Stage{
		StageParsing:        passStage(),
		StageTransformation: dropOnAttempt(1, 0),
		StagePersistence:    failFirstCall(),
	})

	rc, err := o.Run(t.Context(), uuid.New(), FromBatches(records(10)), "csv")
	require.NoError(t, err)

	assert.Equal(t, int64(10), rc.ProcessedCount())
	assert.Equal(t, int64(0), rc.FailedCount())
	assert.Empty(t, rc.Errors())

	completed := events.OfType[events.RunCompleted](rec)
	require.Len(t, completed, 1)
	assert.True(t, completed[0].Success)
}

func TestRun_RetryKeepsOnlyFinalAttemptRejections(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{ChunkSize: 10, MaxAttempts: 3})
	register(t, o, map[StageKind]Stage{
		StageValidation:     dropOnAttempt(1, 0),
		StageTransformation: dropOnAttempt(2, 1),
		StagePersistence:    failFirstCall(),
	})

	rc, err := o.Run(t.Context(), uuid.New(), FromBatches(records(10)), "csv")
	require.NoError(t, err)

	assert.Equal(t, int64(9), rc.ProcessedCount())
	assert.Equal(t, int64(1), rc.FailedCount())
	assert.Equal(t, []string{"Record 1: transient"}, rc.Errors())
}

func TestRun_ExhaustedChunkDoesNotFailRun(t *testing.T) {
	o, rec, sleeper := newTestOrchestrator(t, Config{ChunkSize: 10, MaxAttempts: 3, RetryDelay: time.Second})

	persist := &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		if chunk.Index == 1 {
			return ChunkResult{}, errors.New("constraint violation")
		}
		return NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil), nil
	}}
	register(t, o, map[StageKind]Stage{StageParsing: passStage(), StagePersistence: persist})

	rc, err := o.Run(t.Context(), uuid.New(), FromBatches(batches(30, 10)...), "csv")
	require.NoError(t, err)

	assert.Equal(t, domain.BatchCompleted, rc.Status())
	assert.Equal(t, int64(20), rc.ProcessedCount())
	assert.Equal(t, int64(10), rc.FailedCount())
	require.Len(t, rc.Errors(), 1)
	assert.Contains(t, rc.Errors()[0], "Chunk 1 failed after 3 attempts")
	assert.Contains(t, rc.Errors()[0], "constraint violation")
	assert.Len(t, sleeper.recorded(), 2)

	completed := events.OfType[events.RunCompleted](rec)
	require.Len(t, completed, 1)
	assert.False(t, completed[0].Success)
}

func TestRun_PanicIsRetriedLikeAnError(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{ChunkSize: 5, MaxAttempts: 2})

	var calls atomic.Int32
	persist := &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		if calls.Add(1) == 1 {
			panic("nil map")
		}
		return NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil), nil
	}}
	register(t, o, map[StageKind]Stage{StagePersistence: persist})

	rc, err := o.Run(t.Context(), uuid.New(), FromBatches(records(5)), "csv")
	require.NoError(t, err)
	assert.Equal(t, int64(5), rc.ProcessedCount())
}

func TestRun_RespectsConcurrencyLimit(t *testing.T) {
	const limit = 2
	o, _, _ := newTestOrchestrator(t, Config{ChunkSize: 1, MaxConcurrentChunks: limit})

	var inFlight, peak atomic.Int32
	enter := &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil), nil
	}}
	leave := &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil), nil
	}}
	register(t, o, map[StageKind]Stage{StageParsing: enter, StagePersistence: leave})

	rc, err := o.Run(t.Context(), uuid.New(), FromBatches(batches(20, 1)...), "csv")
	require.NoError(t, err)

	assert.Equal(t, int64(20), rc.ProcessedCount())
	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestRun_ProgressNeverDecreases(t *testing.T) {
	o, rec, _ := newTestOrchestrator(t, Config{ChunkSize: 10, MaxConcurrentChunks: 4})

	flaky := &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		kept := chunk.Records[:len(chunk.Records)/2]
		failed := chunk.Len() - len(kept)
		chunk.Records = kept
		errs := make([]string, failed)
		for i := range errs {
			errs[i] = "Record: invalid"
		}
		return NewChunkResult(chunk.Index, len(kept), failed, errs, nil), nil
	}}
	register(t, o, map[StageKind]Stage{
		StageParsing:        passStage(),
		StageValidation:     flaky,
		StageTransformation: passStage(),
		StagePersistence:    passStage(),
	})

	// The estimate is low on purpose so that the total has to grow.
	_, err := o.Run(t.Context(), uuid.New(), FromBatches(batches(200, 10)...), "csv", WithTotalRecords(50))
	require.NoError(t, err)

	progress := events.OfType[events.RunProgress](rec)
	require.NotEmpty(t, progress)
	assert.GreaterOrEqual(t, len(progress), 20*4)

	var lastPct float64
	var lastProcessed, lastFailed int64
	for _, p := range progress {
		assert.GreaterOrEqual(t, p.ProgressPercent, lastPct)
		assert.LessOrEqual(t, p.ProgressPercent, float64(100))
		assert.GreaterOrEqual(t, p.ProcessedCount, lastProcessed)
		assert.GreaterOrEqual(t, p.FailedCount, lastFailed)
		lastPct, lastProcessed, lastFailed = p.ProgressPercent, p.ProcessedCount, p.FailedCount
	}
	assert.Equal(t, int64(100), lastProcessed)
	assert.Equal(t, int64(100), lastFailed)
}

func TestRun_StageProgressFollowsPipelineOrder(t *testing.T) {
	o, rec, _ := newTestOrchestrator(t, Config{ChunkSize: 5, MaxConcurrentChunks: 1})
	register(t, o, map[StageKind]Stage{
		StagePersistence: passStage(),
		StageParsing:     passStage(),
		StageValidation:  passStage(),
	})

	_, err := o.Run(t.Context(), uuid.New(), FromBatches(records(5)), "csv")
	require.NoError(t, err)

	var labels []string
	for _, p := range events.OfType[events.RunProgress](rec) {
		labels = append(labels, p.Stage)
	}
	assert.Equal(t, []string{"parsing", "validation", "persistence", "completed"}, labels)
}

func TestCancel_StopsAdmission(t *testing.T) {
	o, rec, _ := newTestOrchestrator(t, Config{ChunkSize: 10, MaxConcurrentChunks: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		if chunk.Index == 0 {
			close(started)
			<-release
		}
		return NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil), nil
	}}
	register(t, o, map[StageKind]Stage{StagePersistence: blocking})

	runID := uuid.New()
	type outcome struct {
		rc  *RunContext
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		rc, err := o.Run(t.Context(), runID, FromBatches(batches(100, 10)...), "csv", WithTotalRecords(100))
		done <- outcome{rc, err}
	}()

	<-started
	snap, ok := o.Snapshot(runID)
	require.True(t, ok)
	assert.Equal(t, domain.BatchProcessing, snap.Status)
	require.Len(t, o.Active(), 1)

	assert.True(t, o.Cancel(runID))
	close(release)

	var res outcome
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled run did not finish")
	}
	require.NoError(t, res.err)

	assert.Equal(t, domain.BatchCancelled, res.rc.Status())
	assert.Equal(t, 1, res.rc.CurrentChunkIndex())
	assert.Equal(t, int64(10), res.rc.ProcessedCount())
	assert.Equal(t, res.rc.Dequeued(), res.rc.ProcessedCount()+res.rc.FailedCount())
	assert.Len(t, events.OfType[events.RunCancelled](rec), 1)
	assert.Empty(t, events.OfType[events.RunCompleted](rec))

	assert.False(t, o.Cancel(runID), "finished runs are no longer active")
	assert.Empty(t, o.Active())
}

func TestCancel_UnknownRun(t *testing.T) {
	o := New(DefaultConfig())
	assert.False(t, o.Cancel(uuid.New()))
}

func TestRun_ContextCancelled(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{ChunkSize: 10})
	register(t, o, map[StageKind]Stage{StagePersistence: passStage()})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	rc, err := o.Run(ctx, uuid.New(), FromBatches(records(10)), "csv")
	require.Error(t, err)
	assert.Equal(t, apperr.KindCancelled, apperr.KindOf(err))
	assert.Equal(t, domain.BatchCancelled, rc.Status())
	assert.Equal(t, int64(0), rc.Dequeued())
}

func TestRun_SetupFailureAbortsRun(t *testing.T) {
	batchStore := in_mem.NewBatchStore()
	o, rec, _ := newTestOrchestrator(t, DefaultConfig(), WithBatchStore(batchStore))

	parsing := passStage()
	var processed atomic.Int32
	validation := &fakeStage{
		setup: func(context.Context, *RunContext) error { return errors.New("schema missing") },
		process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
			processed.Add(1)
			return NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil), nil
		},
	}
	persistence := passStage()
	register(t, o, map[StageKind]Stage{
		StageParsing:     parsing,
		StageValidation:  validation,
		StagePersistence: persistence,
	})

	runID := uuid.New()
	rc, err := o.Run(t.Context(), runID, FromBatches(records(10)), "csv")
	require.Error(t, err)

	var runErr *apperr.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, apperr.KindStageSetup, runErr.Kind)
	assert.Equal(t, "validation", runErr.Stage)

	assert.Equal(t, domain.BatchFailed, rc.Status())
	assert.Equal(t, int32(0), processed.Load())
	assert.Equal(t, int32(1), parsing.cleanups.Load(), "stages set up before the failure are cleaned up")
	assert.Equal(t, int32(0), persistence.cleanups.Load())

	failed := events.OfType[events.RunFailed](rec)
	require.Len(t, failed, 1)
	assert.Equal(t, "validation", failed[0].FailedAtStage)
	assert.Equal(t, string(apperr.KindStageSetup), failed[0].ErrorKind)
	assert.Contains(t, failed[0].ErrorMessage, "schema missing")

	batch, err := batchStore.Get(t.Context(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchFailed, batch.Status)
	assert.NotNil(t, batch.CompletedAt)
}

type failingSource struct {
	served bool
}

func (s *failingSource) Next(context.Context) ([]domain.RawRecord, error) {
	if !s.served {
		s.served = true
		return records(5), nil
	}
	return nil, errors.New("unexpected EOF in quoted field")
}

func TestRun_SourceErrorFailsRun(t *testing.T) {
	o, rec, _ := newTestOrchestrator(t, Config{ChunkSize: 5})
	persistence := passStage()
	register(t, o, map[StageKind]Stage{StagePersistence: persistence})

	rc, err := o.Run(t.Context(), uuid.New(), &failingSource{}, "csv")
	require.Error(t, err)
	assert.Equal(t, apperr.KindSource, apperr.KindOf(err))
	assert.Equal(t, domain.BatchFailed, rc.Status())
	assert.Equal(t, int64(5), rc.ProcessedCount(), "chunks admitted before the failure still finish")
	assert.Equal(t, int32(1), persistence.cleanups.Load())
	assert.Len(t, events.OfType[events.RunFailed](rec), 1)
}

type closingSource struct {
	ChunkSource
	closed   bool
	estimate int64
}

func (s *closingSource) Close() error {
	s.closed = true
	return nil
}

func (s *closingSource) EstimatedTotal() int64 {
	return s.estimate
}

func TestRun_UsesSourceEstimateAndClosesSource(t *testing.T) {
	o, rec, _ := newTestOrchestrator(t, Config{ChunkSize: 10})
	register(t, o, map[StageKind]Stage{StagePersistence: passStage()})

	src := &closingSource{ChunkSource: FromBatches(batches(25, 10)...), estimate: 40}
	rc, err := o.Run(t.Context(), uuid.New(), src, "jsonl")
	require.NoError(t, err)

	assert.True(t, src.closed)
	assert.Equal(t, int64(40), rc.TotalRecords(), "the total never shrinks below the estimate")
	created := events.OfType[events.RunCreated](rec)
	require.Len(t, created, 1)
	assert.Equal(t, int64(40), created[0].TotalRecords)
}

func TestRun_BatchStatusTransitions(t *testing.T) {
	store := in_mem.NewBatchStore()
	o, _, _ := newTestOrchestrator(t, Config{ChunkSize: 10}, WithBatchStore(store))
	register(t, o, map[StageKind]Stage{StagePersistence: passStage()})

	runID := uuid.New()
	require.NoError(t, store.Save(t.Context(), domain.ImportBatch{ID: runID, ImportName: "spring-catalog", Status: domain.BatchQueued}))

	_, err := o.Run(t.Context(), runID, FromBatches(records(10)), "csv", WithFilename("catalog.csv"))
	require.NoError(t, err)

	assert.Equal(t, []domain.BatchStatus{domain.BatchQueued, domain.BatchProcessing, domain.BatchCompleted}, store.History(runID))
	batch, err := store.Get(t.Context(), runID)
	require.NoError(t, err)
	assert.Equal(t, "spring-catalog", batch.ImportName)
	assert.Equal(t, int64(10), batch.ProcessedRecords)
	assert.NotNil(t, batch.CompletedAt)
}

func TestRun_ErrorLogIsBounded(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{ChunkSize: 10, ErrorLogLimit: 3})

	rejectAll := &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		errs := make([]string, chunk.Len())
		for i, r := range chunk.Records {
			errs[i] = fmt.Sprintf("Record %d: invalid", r.Index)
		}
		chunk.Records = nil
		return NewChunkResult(chunk.Index, 0, len(errs), errs, nil), nil
	}}
	register(t, o, map[StageKind]Stage{StageParsing: rejectAll, StagePersistence: passStage()})

	rc, err := o.Run(t.Context(), uuid.New(), FromBatches(records(10)), "csv")
	require.NoError(t, err)

	errs := rc.Errors()
	require.Len(t, errs, 4)
	assert.Equal(t, "... 7 more errors omitted", errs[3])
	assert.Equal(t, int64(10), rc.FailedCount())
}

func TestRun_NoStagesRegistered(t *testing.T) {
	o := New(DefaultConfig())

	_, err := o.Run(t.Context(), uuid.New(), FromBatches(records(1)), "csv")
	var verr *apperr.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRegisterStage_RejectsNonPipelineKinds(t *testing.T) {
	o := New(DefaultConfig())

	for _, kind := range []StageKind{StageQueued, StageCompleted, StageFailed, StageKind(42)} {
		assert.Error(t, o.RegisterStage(kind, passStage()), kind.String())
	}
	assert.Error(t, o.RegisterStage(StageParsing, nil))
}

func TestRegisterStage_LastRegistrationWins(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{ChunkSize: 5})

	var first, second atomic.Int32
	count := func(n *atomic.Int32) *fakeStage {
		return &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
			n.Add(1)
			return NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil), nil
		}}
	}
	require.NoError(t, o.RegisterStage(StagePersistence, count(&first)))
	require.NoError(t, o.RegisterStage(StagePersistence, count(&second)))

	_, err := o.Run(t.Context(), uuid.New(), FromBatches(records(5)), "csv")
	require.NoError(t, err)
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestRegisterStage_RejectedWhileRunning(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{ChunkSize: 5})

	started := make(chan struct{})
	release := make(chan struct{})
	register(t, o, map[StageKind]Stage{StagePersistence: &fakeStage{process: func(_ context.Context, chunk *Chunk, _ *RunContext) (ChunkResult, error) {
		close(started)
		<-release
		return NewChunkResult(chunk.Index, chunk.Len(), 0, nil, nil), nil
	}}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Run(t.Context(), uuid.New(), FromBatches(records(5)), "csv")
	}()

	<-started
	assert.ErrorIs(t, o.RegisterStage(StageParsing, passStage()), ErrRunActive)
	close(release)
	<-done
}

func TestCreditStage(t *testing.T) {
	stage := passStage()
	reg := func(kinds ...StageKind) []registeredStage {
		out := make([]registeredStage, len(kinds))
		for i, k := range kinds {
			out[i] = registeredStage{kind: k, stage: stage}
		}
		return out
	}

	assert.Equal(t, StagePersistence, creditStage(reg(StageParsing, StagePersistence, StageIndexing)))
	assert.Equal(t, StageTransformation, creditStage(reg(StageParsing, StageTransformation, StageIndexing)))
	assert.Equal(t, StageIndexing, creditStage(reg(StageIndexing)))
}

func TestFromBatches_EndsWithEOF(t *testing.T) {
	src := FromBatches(records(2))

	got, err := src.Next(t.Context())
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = src.Next(t.Context())
	assert.ErrorIs(t, err, io.EOF)
}
