package stages

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
	"github.com/DjordjeVuckovic/retail-ingest/internal/events"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage"
)

// Persistence upserts every draft by SKU and announces newly created
// products.
type Persistence struct {
	sink   storage.PersistenceSink
	events events.Sink
	now    func() time.Time
}

func NewPersistence(sink storage.PersistenceSink, publisher events.Sink) *Persistence {
	return &Persistence{sink: sink, events: publisher, now: time.Now}
}

func (s *Persistence) Setup(_ context.Context, rc *ingest.RunContext) error {
	slog.Info("Setting up persistence stage", "run_id", rc.RunID)
	return nil
}

func (s *Persistence) Cleanup(_ context.Context, rc *ingest.RunContext) error {
	slog.Debug("Cleaning up persistence stage", "run_id", rc.RunID)
	return nil
}

func (s *Persistence) ProcessChunk(ctx context.Context, chunk *ingest.Chunk, rc *ingest.RunContext) (ingest.ChunkResult, error) {
	kept := chunk.Records[:0]
	var errs []string
	created := 0
	for _, r := range chunk.Records {
		if r.Draft == nil {
			errs = append(errs, fmt.Sprintf("Record %d: not transformed", r.Index))
			continue
		}
		id, isNew, err := s.sink.UpsertEntity(ctx, r.Draft.SKU, *r.Draft)
		if err != nil {
			if apperr.IsRecordError(err) {
				errs = append(errs, fmt.Sprintf("Record %d: %v", r.Index, err))
				continue
			}
			return ingest.ChunkResult{}, fmt.Errorf("upsert product %s: %w", r.Draft.SKU, err)
		}
		r.EntityID = id
		r.Created = isNew
		kept = append(kept, r)
		if isNew {
			created++
			s.announce(ctx, rc, r)
		}
	}
	chunk.Records = kept

	slog.Debug("Chunk persisted",
		"run_id", rc.RunID,
		"chunk", chunk.Index,
		"persisted", len(kept),
		"created", created,
		"failed", len(errs),
	)
	return ingest.NewChunkResult(chunk.Index, len(kept), len(errs), errs, nil), nil
}

func (s *Persistence) announce(ctx context.Context, rc *ingest.RunContext, r *ingest.Record) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, events.ProductCreated{
		RunID:      rc.RunID,
		ProductID:  r.EntityID,
		SKU:        r.Draft.SKU,
		Name:       r.Draft.Name,
		Brand:      r.Draft.BrandName,
		Category:   r.Draft.CategoryName,
		Source:     r.Draft.SourceSystem,
		OccurredAt: s.now(),
	})
	if err != nil {
		slog.Warn("Failed to publish product event", "sku", r.Draft.SKU, "error", err)
	}
}
