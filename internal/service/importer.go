// Package service creates import batches and drives them through the
// ingestion orchestrator.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest/source"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage"
	"github.com/DjordjeVuckovic/retail-ingest/pkg/utils"
	"github.com/google/uuid"
)

const progressDecimals = 2

type FileImport struct {
	Path       string
	Retailer   string
	ImportName string
	Kind       source.Kind
	// Encoding overrides the importer's default for delimited text.
	Encoding string
}

type APIImport struct {
	Fetcher          source.PageFetcher
	Retailer         string
	ImportName       string
	EstimatedRecords int64
}

// Status is the externally visible state of an import. Live is set while
// the run is still active.
type Status struct {
	ID               uuid.UUID          `json:"id"`
	SourceType       string             `json:"sourceType"`
	Filename         string             `json:"filename,omitempty"`
	ImportName       string             `json:"importName,omitempty"`
	Status           domain.BatchStatus `json:"status"`
	TotalRecords     int64              `json:"totalRecords"`
	ProcessedRecords int64              `json:"processedRecords"`
	ErrorRecords     int64              `json:"errorRecords"`
	ProgressPercent  float64            `json:"progressPercent"`
	ErrorMessage     string             `json:"errorMessage,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	CompletedAt      *time.Time         `json:"completedAt,omitempty"`
	Live             bool               `json:"live"`
}

type Importer struct {
	orch    *ingest.Orchestrator
	batches storage.BatchStore
	opts    source.Options
	now     func() time.Time
}

type Option func(*Importer)

// WithSourceOptions sets the defaults used when opening sources.
func WithSourceOptions(opts source.Options) Option {
	return func(i *Importer) {
		i.opts = opts
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Importer) {
		i.now = now
	}
}

func NewImporter(orch *ingest.Orchestrator, batches storage.BatchStore, opts ...Option) *Importer {
	i := &Importer{
		orch:    orch,
		batches: batches,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.opts.ChunkSize <= 0 {
		i.opts.ChunkSize = orch.Config().ChunkSize
	}
	return i
}

// ImportFile runs a file import to completion and returns the final run
// state. The batch is created before the file is opened, so an unreadable
// file still leaves a failed batch behind.
func (i *Importer) ImportFile(ctx context.Context, req FileImport) (*ingest.RunContext, error) {
	if strings.TrimSpace(req.Path) == "" {
		return nil, apperr.NewValidation("file path is required")
	}
	if strings.TrimSpace(req.Retailer) == "" {
		return nil, apperr.NewValidation("retailer is required")
	}

	filename := filepath.Base(req.Path)
	batch, err := i.createBatch(ctx, SourceType(req.Retailer, false), filename, req.ImportName)
	if err != nil {
		return nil, err
	}

	opts := i.opts
	if req.Encoding != "" {
		opts.Encoding = req.Encoding
	}
	stream, err := source.Open(ctx, source.Locator{Path: req.Path, Kind: req.Kind}, opts)
	if err != nil {
		i.failBatch(ctx, batch, err)
		return nil, fmt.Errorf("open %s: %w", req.Path, err)
	}

	slog.Info("Starting file import", "batch_id", batch.ID, "file", filename, "source_type", batch.SourceType)
	return i.run(ctx, batch, stream, ingest.WithFilename(filename))
}

// ImportAPI runs an import over a paginated listing.
func (i *Importer) ImportAPI(ctx context.Context, req APIImport) (*ingest.RunContext, error) {
	if req.Fetcher == nil {
		return nil, apperr.NewValidation("page fetcher is required")
	}
	if strings.TrimSpace(req.Retailer) == "" {
		return nil, apperr.NewValidation("retailer is required")
	}

	batch, err := i.createBatch(ctx, SourceType(req.Retailer, true), "", req.ImportName)
	if err != nil {
		return nil, err
	}
	stream := source.FromPages(ctx, req.Fetcher, req.EstimatedRecords, i.opts)

	slog.Info("Starting API import", "batch_id", batch.ID, "source_type", batch.SourceType, "estimated_records", req.EstimatedRecords)
	return i.run(ctx, batch, stream, ingest.WithTotalRecords(req.EstimatedRecords))
}

// Status prefers the live run and falls back to the stored batch.
func (i *Importer) Status(ctx context.Context, id uuid.UUID) (Status, error) {
	batch, err := i.batches.Get(ctx, id)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return Status{}, fmt.Errorf("load import batch: %w", err)
	}
	found := err == nil

	if snap, ok := i.orch.Snapshot(id); ok {
		st := statusFromBatch(batch)
		st.ID = snap.RunID
		st.SourceType = snap.SourceKind
		st.Filename = snap.Filename
		st.Status = snap.Status
		st.TotalRecords = snap.TotalRecords
		st.ProcessedRecords = snap.ProcessedCount
		st.ErrorRecords = snap.FailedCount
		st.ProgressPercent = utils.RoundDecimal(snap.ProgressPercent, progressDecimals)
		if !found {
			st.CreatedAt = snap.StartedAt
		}
		st.Live = true
		return st, nil
	}
	if !found {
		return Status{}, fmt.Errorf("import %s: %w", id, apperr.ErrNotFound)
	}
	return statusFromBatch(batch), nil
}

// Cancel asks an active import to stop. It reports false when the import
// exists but is no longer running.
func (i *Importer) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	if i.orch.Cancel(id) {
		slog.Info("Import cancellation requested", "batch_id", id)
		return true, nil
	}
	if _, err := i.batches.Get(ctx, id); err != nil {
		return false, fmt.Errorf("import %s: %w", id, err)
	}
	return false, nil
}

// SourceType names the origin recorded on a batch.
func SourceType(retailer string, api bool) string {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(retailer)), " ", "_")
	if api {
		return "retailer_" + name + "_api"
	}
	return "retailer_" + name
}

func (i *Importer) createBatch(ctx context.Context, sourceType, filename, name string) (domain.ImportBatch, error) {
	now := i.now()
	if name == "" {
		name = fmt.Sprintf("%s %s", sourceType, now.UTC().Format(time.RFC3339))
	}
	batch := domain.ImportBatch{
		ID:         uuid.New(),
		SourceType: sourceType,
		Filename:   filename,
		ImportName: name,
		Status:     domain.BatchQueued,
		CreatedAt:  now,
	}
	if err := i.batches.Save(ctx, batch); err != nil {
		return domain.ImportBatch{}, fmt.Errorf("create import batch: %w", err)
	}
	return batch, nil
}

func (i *Importer) run(ctx context.Context, batch domain.ImportBatch, src ingest.ChunkSource, opts ...ingest.RunOption) (*ingest.RunContext, error) {
	rc, err := i.orch.Run(ctx, batch.ID, src, batch.SourceType, opts...)
	if err != nil && rc.Status() == domain.BatchQueued {
		// The orchestrator refused the run before touching the batch or
		// the source.
		if c, ok := src.(io.Closer); ok {
			_ = c.Close()
		}
		i.failBatch(ctx, batch, err)
	}
	return rc, err
}

func (i *Importer) failBatch(ctx context.Context, batch domain.ImportBatch, cause error) {
	completed := i.now()
	batch.Status = domain.BatchFailed
	batch.ErrorMessage = cause.Error()
	batch.CompletedAt = &completed
	if err := i.batches.Save(context.WithoutCancel(ctx), batch); err != nil {
		slog.Error("Saving failed import batch failed", "batch_id", batch.ID, "error", err)
	}
}

func statusFromBatch(b domain.ImportBatch) Status {
	return Status{
		ID:               b.ID,
		SourceType:       b.SourceType,
		Filename:         b.Filename,
		ImportName:       b.ImportName,
		Status:           b.Status,
		TotalRecords:     b.TotalRecords,
		ProcessedRecords: b.ProcessedRecords,
		ErrorRecords:     b.ErrorRecords,
		ProgressPercent:  utils.RoundDecimal(b.ProgressPercent(), progressDecimals),
		ErrorMessage:     b.ErrorMessage,
		CreatedAt:        b.CreatedAt,
		CompletedAt:      b.CompletedAt,
	}
}

// Active lists the imports currently running.
func (i *Importer) Active() []ingest.Snapshot {
	return i.orch.Active()
}
