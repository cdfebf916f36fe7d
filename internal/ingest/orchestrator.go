package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/DjordjeVuckovic/retail-ingest/internal/events"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var ErrRunActive = errors.New("a run is active")

// Orchestrator drives chunks from a source through the registered stages.
// One value can serve many runs, sequential or concurrent, as long as the
// stage set is left alone while any of them is active.
type Orchestrator struct {
	cfg      Config
	sink     events.Sink
	batches  storage.BatchStore
	observer Observer
	sleep    Sleeper
	now      func() time.Time

	mu     sync.Mutex
	stages map[StageKind]Stage
	active map[uuid.UUID]*activeRun
}

type activeRun struct {
	rc        *RunContext
	stopAdmit context.CancelFunc
	cancelled atomic.Bool
}

type registeredStage struct {
	kind  StageKind
	stage Stage
}

type Option func(*Orchestrator)

func WithEventSink(sink events.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

func WithBatchStore(store storage.BatchStore) Option {
	return func(o *Orchestrator) {
		o.batches = store
	}
}

func WithMetrics(observer Observer) Option {
	return func(o *Orchestrator) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithSleeper replaces the retry delay implementation.
func WithSleeper(sleep Sleeper) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New builds an orchestrator. Zero config fields fall back to defaults,
// except RetryDelay and ErrorLogLimit where zero means no delay and no cap.
func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      withDefaults(cfg),
		observer: noopObserver{},
		sleep:    sleepContext,
		now:      time.Now,
		stages:   make(map[StageKind]Stage),
		active:   make(map[uuid.UUID]*activeRun),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxConcurrentChunks <= 0 {
		cfg.MaxConcurrentChunks = def.MaxConcurrentChunks
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}
	if cfg.ErrorLogLimit < 0 {
		cfg.ErrorLogLimit = def.ErrorLogLimit
	}
	return cfg
}

func (o *Orchestrator) Config() Config {
	return o.cfg
}

// RegisterStage binds a stage to its pipeline position. A later registration
// for the same kind replaces the earlier one.
func (o *Orchestrator) RegisterStage(kind StageKind, stage Stage) error {
	if !kind.registrable() {
		return apperr.NewValidation(fmt.Sprintf("stage kind %s cannot be registered", kind))
	}
	if stage == nil {
		return apperr.NewValidation(fmt.Sprintf("stage %s is nil", kind))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.active) > 0 {
		return fmt.Errorf("register stage %s: %w", kind, ErrRunActive)
	}
	o.stages[kind] = stage
	return nil
}

type runOptions struct {
	totalRecords int64
	filename     string
}

type RunOption func(*runOptions)

// WithTotalRecords seeds the run total when the caller knows it.
func WithTotalRecords(n int64) RunOption {
	return func(r *runOptions) {
		r.totalRecords = n
	}
}

func WithFilename(name string) RunOption {
	return func(r *runOptions) {
		r.filename = name
	}
}

// Run processes src to exhaustion, cancellation or a fatal error and returns
// the final run state. Chunk and record failures are absorbed into the
// counters; only stage setup and source failures are returned as errors,
// together with a cancelled ctx.
func (o *Orchestrator) Run(ctx context.Context, runID uuid.UUID, src ChunkSource, sourceKind string, opts ...RunOption) (*RunContext, error) {
	ro := runOptions{}
	for _, opt := range opts {
		opt(&ro)
	}

	rc := newRunContext(runID, sourceKind, o.cfg.ChunkSize, o.cfg.ErrorLogLimit, o.now())
	rc.Filename = ro.filename
	total := ro.totalRecords
	if total <= 0 {
		if est, ok := src.(interface{ EstimatedTotal() int64 }); ok {
			total = est.EstimatedTotal()
		}
	}
	rc.raiseTotal(total)

	admitCtx, stopAdmit := context.WithCancel(ctx)
	defer stopAdmit()

	run := &activeRun{rc: rc, stopAdmit: stopAdmit}
	stages, err := o.begin(run)
	if err != nil {
		return rc, err
	}
	defer o.end(runID)

	// Bookkeeping after this point must survive a cancelled ctx.
	bgCtx := context.WithoutCancel(ctx)

	o.publish(bgCtx, events.RunCreated{
		RunID:        runID,
		SourceKind:   sourceKind,
		Filename:     rc.Filename,
		TotalRecords: rc.TotalRecords(),
		OccurredAt:   rc.StartedAt,
	})
	rc.setStatus(domain.BatchProcessing)
	o.saveBatch(bgCtx, rc, "")
	slog.Info("Run started", "run_id", runID, "source_kind", sourceKind, "stages", len(stages), "total_records", rc.TotalRecords(), "chunk_size", rc.ChunkSize)

	ready, err := o.setup(ctx, rc, stages)
	if err != nil {
		o.cleanup(bgCtx, rc, ready)
		o.closeSource(src)
		o.fail(bgCtx, rc, err)
		return rc, err
	}

	agg := newAggregator(o, rc, creditStage(stages), o.cfg.MaxConcurrentChunks*(len(stages)+1))
	go agg.run(bgCtx)

	srcErr := o.admit(ctx, admitCtx, run, agg, src, stages)
	o.closeSource(src)
	agg.close()
	o.cleanup(bgCtx, rc, stages)

	switch {
	case srcErr != nil:
		err := apperr.NewRun(apperr.KindSource, "source", srcErr)
		o.fail(bgCtx, rc, err)
		return rc, err
	case run.cancelled.Load() || ctx.Err() != nil:
		o.finishCancelled(bgCtx, rc)
		if ctx.Err() != nil {
			return rc, apperr.NewRun(apperr.KindCancelled, "", ctx.Err())
		}
		return rc, nil
	default:
		o.finishCompleted(bgCtx, rc)
		return rc, nil
	}
}

// admit pulls chunks from src and hands each to a worker. A slot is taken
// before the next chunk is read so that a cancel arriving while the pool is
// full keeps that chunk out.
func (o *Orchestrator) admit(ctx, admitCtx context.Context, run *activeRun, agg *aggregator, src ChunkSource, stages []registeredStage) error {
	sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrentChunks))
	var g errgroup.Group
	defer func() { _ = g.Wait() }()

	index := 0
	for {
		if err := sem.Acquire(admitCtx, 1); err != nil {
			return nil
		}
		if run.cancelled.Load() {
			sem.Release(1)
			return nil
		}

		raw, err := src.Next(admitCtx)
		if err != nil {
			sem.Release(1)
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case admitCtx.Err() != nil:
				return nil
			default:
				return err
			}
		}
		if run.cancelled.Load() {
			sem.Release(1)
			slog.Warn("Chunk read after cancellation not admitted", "run_id", run.rc.RunID, "records", len(raw))
			return nil
		}
		if len(raw) == 0 {
			sem.Release(1)
			continue
		}

		chunkIndex := index
		index++
		agg.admit(chunkIndex, len(raw))
		g.Go(func() error {
			defer sem.Release(1)
			o.processChunk(ctx, run.rc, agg, stages, chunkIndex, raw)
			return nil
		})
	}
}

// Cancel stops admission of new chunks for an active run. Chunks already in
// flight finish normally.
func (o *Orchestrator) Cancel(runID uuid.UUID) bool {
	o.mu.Lock()
	run, ok := o.active[runID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	if !run.cancelled.Swap(true) {
		slog.Info("Run cancellation requested", "run_id", runID)
	}
	run.stopAdmit()
	return true
}

// Active returns snapshots of the runs in progress, oldest first.
func (o *Orchestrator) Active() []Snapshot {
	o.mu.Lock()
	out := make([]Snapshot, 0, len(o.active))
	for _, run := range o.active {
		out = append(out, run.rc.Snapshot())
	}
	o.mu.Unlock()

	slices.SortFunc(out, func(a, b Snapshot) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}

func (o *Orchestrator) Snapshot(runID uuid.UUID) (Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.active[runID]
	if !ok {
		return Snapshot{}, false
	}
	return run.rc.Snapshot(), true
}

func (o *Orchestrator) begin(run *activeRun) ([]registeredStage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.active[run.rc.RunID]; ok {
		return nil, apperr.NewRun(apperr.KindInternal, "", fmt.Errorf("run %s: %w", run.rc.RunID, ErrRunActive))
	}

	var stages []registeredStage
	for _, kind := range pipelineOrder {
		if s, ok := o.stages[kind]; ok {
			stages = append(stages, registeredStage{kind: kind, stage: s})
		}
	}
	if len(stages) == 0 {
		return nil, apperr.NewValidation("no stages registered")
	}

	o.active[run.rc.RunID] = run
	return stages, nil
}

func (o *Orchestrator) end(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, runID)
}

// creditStage is where a record counts as processed: Persistence when it is
// registered, otherwise the last stage that is not Indexing.
func creditStage(stages []registeredStage) StageKind {
	credit := stages[len(stages)-1].kind
	for _, s := range stages {
		if s.kind == StagePersistence {
			return StagePersistence
		}
		if s.kind != StageIndexing {
			credit = s.kind
		}
	}
	return credit
}

// setup runs every Setup hook in order. It returns the stages that were set
// up successfully so the caller can release them.
func (o *Orchestrator) setup(ctx context.Context, rc *RunContext, stages []registeredStage) ([]registeredStage, error) {
	for i, s := range stages {
		if err := s.stage.Setup(ctx, rc); err != nil {
			stageErr := apperr.NewStage(s.kind.String(), apperr.OpSetup, err)
			return stages[:i], apperr.NewRun(apperr.KindStageSetup, s.kind.String(), stageErr)
		}
	}
	return stages, nil
}

func (o *Orchestrator) cleanup(ctx context.Context, rc *RunContext, stages []registeredStage) {
	for _, s := range stages {
		if err := s.stage.Cleanup(ctx, rc); err != nil {
			slog.Error("Stage cleanup failed",
				"run_id", rc.RunID,
				"error", apperr.NewStage(s.kind.String(), apperr.OpCleanup, err),
			)
		}
	}
}

func (o *Orchestrator) closeSource(src ChunkSource) {
	if c, ok := src.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("Closing chunk source failed", "error", err)
		}
	}
}

// processChunk runs one chunk with retries and reports the outcome to the
// aggregator exactly once.
func (o *Orchestrator) processChunk(ctx context.Context, rc *RunContext, agg *aggregator, stages []registeredStage, index int, raw []domain.RawRecord) {
	start := o.now()
	o.observer.ChunkStarted()

	b := newRetryBackOff(o.cfg.RetryDelay, o.cfg.MaxRetryDelay)
	var (
		lastErr  error
		lastErrs []string
		attempts int
	)
	for attempts < o.cfg.MaxAttempts {
		attempts++
		errs, err := o.attempt(ctx, rc, agg, stages, index, attempts, raw)
		if err == nil {
			agg.settle(index, attempts, errs)
			o.observer.ChunkFinished(OutcomeSucceeded, o.now().Sub(start))
			if attempts > 1 {
				slog.Info("Chunk recovered after retry", "run_id", rc.RunID, "chunk_index", index, "attempts", attempts)
			}
			return
		}
		lastErr, lastErrs = err, errs
		if attempts == o.cfg.MaxAttempts {
			break
		}

		delay := b.NextBackOff()
		slog.Warn("Chunk attempt failed, retrying",
			"run_id", rc.RunID,
			"chunk_index", index,
			"attempt", attempts,
			"delay", delay,
			"error", err,
		)
		o.observer.ChunkRetried()
		if err := o.sleep(ctx, delay); err != nil {
			lastErr = fmt.Errorf("%w (retry interrupted: %v)", lastErr, err)
			break
		}
	}

	reason := fmt.Sprintf("Chunk %d failed after %d attempts: %v", index, attempts, lastErr)
	slog.Error("Chunk exhausted", "run_id", rc.RunID, "chunk_index", index, "attempts", attempts, "error", lastErr)
	agg.exhaust(index, append(lastErrs, reason))
	o.observer.ChunkFinished(OutcomeExhausted, o.now().Sub(start))
}

// attempt runs every stage over a fresh copy of the raw records and returns
// the record errors collected along the way.
func (o *Orchestrator) attempt(ctx context.Context, rc *RunContext, agg *aggregator, stages []registeredStage, index, attempt int, raw []domain.RawRecord) ([]string, error) {
	chunk := newChunk(index, raw)
	var errs []string
	for _, s := range stages {
		if chunk.Len() == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return errs, err
		}

		start := o.now()
		res, err := runStage(ctx, s.stage, chunk, rc)
		if err != nil {
			return errs, apperr.NewStage(s.kind.String(), apperr.OpProcess, err)
		}
		res.ChunkIndex = index
		res = res.withTiming(o.now().Sub(start))

		errs = append(errs, res.Errors...)
		if len(res.Warnings) > 0 {
			slog.Warn("Stage reported warnings",
				"run_id", rc.RunID,
				"chunk_index", index,
				"stage", s.kind.String(),
				"count", len(res.Warnings),
				"first", res.Warnings[0],
			)
		}
		agg.stageDone(index, attempt, s.kind, res)
	}
	return errs, nil
}

func runStage(ctx context.Context, s Stage, chunk *Chunk, rc *RunContext) (res ChunkResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Stage panicked", "run_id", rc.RunID, "chunk_index", chunk.Index, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.ProcessChunk(ctx, chunk, rc)
}

func (o *Orchestrator) finishCompleted(ctx context.Context, rc *RunContext) {
	rc.setStatus(domain.BatchCompleted)
	o.saveBatch(ctx, rc, "")
	o.observer.RunFinished(string(domain.BatchCompleted))

	duration := o.now().Sub(rc.StartedAt)
	o.publish(ctx, events.RunCompleted{
		RunID:           rc.RunID,
		TotalProcessed:  rc.ProcessedCount(),
		TotalFailed:     rc.FailedCount(),
		DurationSeconds: duration.Seconds(),
		Success:         rc.FailedCount() == 0,
		OccurredAt:      o.now(),
	})
	slog.Info("Run completed",
		"run_id", rc.RunID,
		"processed", rc.ProcessedCount(),
		"failed", rc.FailedCount(),
		"chunks", rc.CurrentChunkIndex(),
		"duration", duration,
	)
}

func (o *Orchestrator) finishCancelled(ctx context.Context, rc *RunContext) {
	rc.setStatus(domain.BatchCancelled)
	o.saveBatch(ctx, rc, "cancelled")
	o.observer.RunFinished(string(domain.BatchCancelled))

	o.publish(ctx, events.RunCancelled{
		RunID:          rc.RunID,
		TotalProcessed: rc.ProcessedCount(),
		TotalFailed:    rc.FailedCount(),
		OccurredAt:     o.now(),
	})
	slog.Info("Run cancelled",
		"run_id", rc.RunID,
		"processed", rc.ProcessedCount(),
		"failed", rc.FailedCount(),
		"chunks", rc.CurrentChunkIndex(),
	)
}

func (o *Orchestrator) fail(ctx context.Context, rc *RunContext, err error) {
	rc.setStatus(domain.BatchFailed)
	o.saveBatch(ctx, rc, err.Error())
	o.observer.RunFinished(string(domain.BatchFailed))

	var stage string
	var re *apperr.RunError
	if errors.As(err, &re) {
		stage = re.Stage
	}
	o.publish(ctx, events.RunFailed{
		RunID:         rc.RunID,
		ErrorMessage:  err.Error(),
		ErrorKind:     string(apperr.KindOf(err)),
		FailedAtStage: stage,
		OccurredAt:    o.now(),
	})
	slog.Error("Run failed", "run_id", rc.RunID, "error", err, "stage", stage)
}

// saveBatch mirrors the run state into the batch store. Store failures are
// logged; they never change the run outcome.
func (o *Orchestrator) saveBatch(ctx context.Context, rc *RunContext, errMsg string) {
	if o.batches == nil {
		return
	}

	batch, err := o.batches.Get(ctx, rc.RunID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			slog.Warn("Loading import batch failed", "run_id", rc.RunID, "error", err)
		}
		batch = domain.ImportBatch{
			ID:         rc.RunID,
			SourceType: rc.SourceKind,
			Filename:   rc.Filename,
			CreatedAt:  rc.StartedAt,
		}
	}

	batch.Status = rc.Status()
	batch.TotalRecords = rc.TotalRecords()
	batch.ProcessedRecords = rc.ProcessedCount()
	batch.ErrorRecords = rc.FailedCount()
	if errMsg != "" {
		batch.ErrorMessage = errMsg
	}
	if batch.Status.Terminal() {
		completed := o.now()
		batch.CompletedAt = &completed
	}

	if err := o.batches.Save(ctx, batch); err != nil {
		slog.Error("Saving import batch failed", "run_id", rc.RunID, "status", batch.Status, "error", err)
	}
}

// publish hands an event to the sink without letting delivery problems
// reach the run.
func (o *Orchestrator) publish(ctx context.Context, e events.Event) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Publish(ctx, e); err != nil {
		slog.Warn("Event delivery failed", "type", e.Type(), "aggregate_id", e.AggregateID(), "error", err)
	}
}
