package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/DjordjeVuckovic/retail-ingest/internal/events"
)

type msgKind int

const (
	msgAdmit msgKind = iota
	msgStage
	msgSettle
	msgExhaust
)

type aggMsg struct {
	kind    msgKind
	chunk   int
	size    int
	attempt int
	stage   StageKind
	result  ChunkResult
	errs    []string
}

// chunkLedger holds the stage results of a chunk's current attempt. Nothing
// reaches the run totals until the chunk settles or is exhausted, so an
// abandoned attempt leaves no trace in the counts.
type chunkLedger struct {
	size      int
	attempt   int
	failed    map[StageKind]int
	processed int
}

func (l *chunkLedger) record(attempt int, stage StageKind, res ChunkResult, credit bool) {
	l.begin(attempt)
	l.failed[stage] = res.RecordsFailed
	if credit {
		l.processed = res.RecordsProcessed
	}
}

func (l *chunkLedger) begin(attempt int) {
	if attempt != l.attempt {
		l.attempt = attempt
		clear(l.failed)
		l.processed = 0
	}
}

// totals returns the attempt's counts clamped to the chunk size.
func (l *chunkLedger) totals() (processed, failed int) {
	for _, n := range l.failed {
		failed += n
	}
	failed = min(failed, l.size)
	processed = max(0, min(l.processed, l.size-failed))
	return processed, failed
}

// aggregator is the single owner of a run's counters. Workers send it
// messages; it applies them in arrival order and emits progress.
type aggregator struct {
	o           *Orchestrator
	rc          *RunContext
	creditStage StageKind
	msgs        chan aggMsg
	done        chan struct{}

	ledgers     map[int]*chunkLedger
	lastPercent float64
}

func newAggregator(o *Orchestrator, rc *RunContext, creditStage StageKind, buffer int) *aggregator {
	return &aggregator{
		o:           o,
		rc:          rc,
		creditStage: creditStage,
		msgs:        make(chan aggMsg, buffer),
		done:        make(chan struct{}),
		ledgers:     make(map[int]*chunkLedger),
	}
}

func (a *aggregator) admit(chunk, size int) {
	a.msgs <- aggMsg{kind: msgAdmit, chunk: chunk, size: size}
}

func (a *aggregator) stageDone(chunk, attempt int, stage StageKind, res ChunkResult) {
	a.msgs <- aggMsg{kind: msgStage, chunk: chunk, attempt: attempt, stage: stage, result: res}
}

func (a *aggregator) settle(chunk, attempt int, errs []string) {
	a.msgs <- aggMsg{kind: msgSettle, chunk: chunk, attempt: attempt, errs: errs}
}

func (a *aggregator) exhaust(chunk int, errs []string) {
	a.msgs <- aggMsg{kind: msgExhaust, chunk: chunk, errs: errs}
}

// close must be called once every worker has returned.
func (a *aggregator) close() {
	close(a.msgs)
	<-a.done
}

func (a *aggregator) run(ctx context.Context) {
	defer close(a.done)
	for m := range a.msgs {
		a.apply(ctx, m)
	}
}

func (a *aggregator) apply(ctx context.Context, m aggMsg) {
	switch m.kind {
	case msgAdmit:
		a.ledgers[m.chunk] = &chunkLedger{size: m.size, failed: make(map[StageKind]int)}
		dequeued := a.rc.dequeued.Add(int64(m.size))
		a.rc.chunkIndex.Add(1)
		a.rc.raiseTotal(dequeued)

	case msgStage:
		a.ledgers[m.chunk].record(m.attempt, m.stage, m.result, m.stage == a.creditStage)
		a.progress(ctx, m.chunk, m.stage)

	case msgSettle:
		l := a.ledgers[m.chunk]
		l.begin(m.attempt)
		processed, failed := l.totals()
		a.rc.appendErrors(m.errs...)
		if lost := l.size - processed - failed; lost > 0 {
			a.rc.appendErrors(fmt.Sprintf("Chunk %d: %d records dropped without an error", m.chunk, lost))
			failed += lost
		}
		a.add(processed, failed)
		a.progress(ctx, m.chunk, StageCompleted)
		a.o.observer.RecordsSettled(processed, failed)
		delete(a.ledgers, m.chunk)

	case msgExhaust:
		l := a.ledgers[m.chunk]
		a.rc.appendErrors(m.errs...)
		a.add(0, l.size)
		a.progress(ctx, m.chunk, StageFailed)
		a.o.observer.RecordsSettled(0, l.size)
		delete(a.ledgers, m.chunk)
	}
}

func (a *aggregator) add(processed, failed int) {
	if processed > 0 {
		a.rc.processed.Add(int64(processed))
	}
	if failed > 0 {
		a.rc.failed.Add(int64(failed))
	}
}

// progress publishes the current totals. The percentage never goes down,
// even when a growing total would make the raw ratio drop.
func (a *aggregator) progress(ctx context.Context, chunk int, stage StageKind) {
	pct := math.Min(100, math.Max(a.lastPercent, a.rc.ProgressPercent()))
	a.lastPercent = pct

	a.o.publish(ctx, events.RunProgress{
		RunID:           a.rc.RunID,
		ProcessedCount:  a.rc.ProcessedCount(),
		FailedCount:     a.rc.FailedCount(),
		ProgressPercent: pct,
		Stage:           stage.String(),
		ChunkIndex:      chunk,
		OccurredAt:      a.o.now(),
	})
	slog.Debug("Chunk stage merged",
		"run_id", a.rc.RunID,
		"chunk_index", chunk,
		"stage", stage.String(),
		"processed", a.rc.ProcessedCount(),
		"failed", a.rc.FailedCount(),
	)
}
