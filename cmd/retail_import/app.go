package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/DjordjeVuckovic/retail-ingest/internal/events"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest/source"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest/stages"
	"github.com/DjordjeVuckovic/retail-ingest/internal/metrics"
	"github.com/DjordjeVuckovic/retail-ingest/internal/router"
	"github.com/DjordjeVuckovic/retail-ingest/internal/server"
	"github.com/DjordjeVuckovic/retail-ingest/internal/service"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage/factory"
	"github.com/DjordjeVuckovic/retail-ingest/pkg/logging"
)

const (
	exitOK        = 0
	exitError     = 1
	exitRunFailed = 2
	exitCancelled = 130
)

type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *codedError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitError
}

type app struct {
	cfg        *ImportConfig
	backend    *factory.Backend
	dispatcher *events.Dispatcher
	metrics    *metrics.Ingest
	importer   *service.Importer
	monitor    *server.Server

	closeLog func() error
}

func newApp(ctx context.Context, cfg *ImportConfig) (*app, error) {
	logger, closeLog := logging.Setup(cfg.Logging)

	backend, err := factory.New(ctx, cfg.Storage)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		backend:    backend,
		dispatcher: events.NewDispatcher([]events.Sink{events.NewLogSink(logger)}),
		metrics:    metrics.New(),
		closeLog:   closeLog,
	}

	orch := ingest.New(cfg.Pipeline,
		ingest.WithBatchStore(backend.Batches),
		ingest.WithEventSink(a.dispatcher),
		ingest.WithMetrics(a.metrics),
	)
	if err := stages.Register(orch, stages.Deps{
		Sink:    backend.Sink,
		Events:  a.dispatcher,
		Mapping: cfg.Mapping,
		Indexer: backend.Indexer,
	}); err != nil {
		a.close()
		return nil, err
	}

	srcOpts := source.Options{
		ChunkSize: cfg.Pipeline.ChunkSize,
		Encoding:  cfg.Encoding,
	}
	if cfg.MemoryLimitMB > 0 {
		srcOpts.Guard = source.NewMemoryGuard(cfg.MemoryLimitMB)
	}
	a.importer = service.NewImporter(orch, backend.Batches, service.WithSourceOptions(srcOpts))

	if cfg.Monitor != nil {
		a.monitor = server.New(cfg.Monitor, backend.Health).
			SetupMiddlewares().
			SetupHealthChecks()
		router.NewRunsRouter(a.monitor.Echo, a.importer, a.metrics.Handler()).Bind()
	}
	return a, nil
}

func (a *app) close() {
	a.dispatcher.Close()
	a.backend.Close()
	if err := a.closeLog(); err != nil {
		fmt.Fprintln(os.Stderr, "closing log file:", err)
	}
}

// run executes one import. The first interrupt cancels active runs so that
// in-flight chunks settle; a second one aborts them.
func (a *app) run(ctx context.Context, start func(context.Context, *service.Importer) (*ingest.RunContext, error)) error {
	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	stopSignals := a.watchSignals(runCtx, abort)
	defer stopSignals()

	monitorDone := make(chan struct{})
	monitorCtx, stopMonitor := context.WithCancel(context.WithoutCancel(ctx))
	if a.monitor != nil {
		go func() {
			defer close(monitorDone)
			if err := a.monitor.Start(monitorCtx); err != nil {
				slog.Error("Monitor API failed", "error", err)
			}
		}()
	} else {
		close(monitorDone)
	}
	defer func() {
		stopMonitor()
		<-monitorDone
	}()

	rc, err := start(runCtx, a.importer)
	if rc == nil {
		if err == nil {
			err = errors.New("import did not start")
		}
		return &codedError{code: exitError, err: err}
	}

	slog.Info("Import finished",
		"batch_id", rc.RunID,
		"status", rc.Status(),
		"total_records", rc.TotalRecords(),
		"processed_records", rc.ProcessedCount(),
		"error_records", rc.FailedCount(),
		"duration", time.Since(rc.StartedAt).Round(time.Millisecond),
	)
	for _, msg := range firstN(rc.Errors(), 20) {
		slog.Warn("Import error", "batch_id", rc.RunID, "message", msg)
	}

	switch rc.Status() {
	case domain.BatchCompleted:
		return nil
	case domain.BatchCancelled:
		if err == nil || apperr.KindOf(err) == apperr.KindCancelled {
			err = errors.New("import cancelled")
		}
		return &codedError{code: exitCancelled, err: err}
	default:
		if err == nil {
			err = errors.New("import failed")
		}
		return &codedError{code: exitRunFailed, err: err}
	}
}

func (a *app) watchSignals(ctx context.Context, abort context.CancelFunc) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-sigs:
		}
		slog.Warn("Interrupt received, cancelling active imports; interrupt again to abort")
		for _, snap := range a.importer.Active() {
			if _, err := a.importer.Cancel(ctx, snap.RunID); err != nil {
				slog.Error("Cancelling import failed", "batch_id", snap.RunID, "error", err)
			}
		}
		select {
		case <-ctx.Done():
		case <-done:
		case <-sigs:
			slog.Warn("Second interrupt, aborting in-flight chunks")
			abort()
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
