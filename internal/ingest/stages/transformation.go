package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest"
	"github.com/google/uuid"
)

// Transformation resolves brand and category references and builds the
// drafts handed to persistence.
type Transformation struct {
	resolver *Resolver
}

func NewTransformation(resolver *Resolver) *Transformation {
	return &Transformation{resolver: resolver}
}

func (s *Transformation) Setup(ctx context.Context, rc *ingest.RunContext) error {
	if err := s.resolver.Warm(ctx, domain.RefBrand, domain.RefCategory); err != nil {
		return err
	}
	rc.SetMetadata("brands_cached", s.resolver.Len(domain.RefBrand))
	rc.SetMetadata("categories_cached", s.resolver.Len(domain.RefCategory))
	slog.Info("Setting up transformation stage",
		"run_id", rc.RunID,
		"brands", s.resolver.Len(domain.RefBrand),
		"categories", s.resolver.Len(domain.RefCategory),
	)
	return nil
}

func (s *Transformation) Cleanup(_ context.Context, rc *ingest.RunContext) error {
	s.resolver.Clear()
	slog.Debug("Cleaning up transformation stage", "run_id", rc.RunID)
	return nil
}

// ProcessChunk fails a record when the sink rejects its reference name and
// fails the whole attempt on any other resolver error.
func (s *Transformation) ProcessChunk(ctx context.Context, chunk *ingest.Chunk, _ *ingest.RunContext) (ingest.ChunkResult, error) {
	kept := chunk.Records[:0]
	var errs []string
	for _, r := range chunk.Records {
		if r.Product == nil {
			errs = append(errs, fmt.Sprintf("Record %d: not parsed", r.Index))
			continue
		}
		draft, err := s.transform(ctx, r.Product)
		if err != nil {
			if apperr.IsRecordError(err) {
				errs = append(errs, fmt.Sprintf("Record %d: %v", r.Index, err))
				continue
			}
			return ingest.ChunkResult{}, err
		}
		r.Draft = draft
		kept = append(kept, r)
	}
	chunk.Records = kept
	return ingest.NewChunkResult(chunk.Index, len(kept), len(errs), errs, nil), nil
}

func (s *Transformation) transform(ctx context.Context, p *domain.Product) (*domain.ProductDraft, error) {
	brandID, err := s.resolver.Resolve(ctx, domain.RefBrand, p.Brand)
	if err != nil {
		return nil, err
	}

	var categoryID uuid.NullUUID
	if p.Category != "" {
		id, err := s.resolver.Resolve(ctx, domain.RefCategory, p.Category)
		if err != nil {
			return nil, err
		}
		categoryID = uuid.NullUUID{UUID: id, Valid: true}
	}

	draft := &domain.ProductDraft{
		Name:         p.Name,
		SKU:          p.SKU,
		BrandID:      brandID,
		BrandName:    p.Brand,
		CategoryID:   categoryID,
		CategoryName: p.Category,
		Description:  p.Description,
		Size:         p.Size,
		Color:        p.Color,
		Material:     p.Material,
		BasePrice:    p.Price,
		Cost:         p.Cost,
		SourceSystem: p.SourceType,
		IsActive:     true,
	}
	if p.StockQuantity != nil {
		draft.Inventory = domain.NewInventoryDraft(*p.StockQuantity, p.SourceType)
	}
	return draft, nil
}
