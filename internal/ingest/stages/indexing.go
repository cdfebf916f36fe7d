package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage"
)

// Indexing pushes persisted products to the search index. Indexing problems
// never fail a record: the product is already stored.
type Indexing struct {
	indexer storage.ProductIndexer
}

func NewIndexing(indexer storage.ProductIndexer) *Indexing {
	return &Indexing{indexer: indexer}
}

func (s *Indexing) Setup(_ context.Context, rc *ingest.RunContext) error {
	slog.Info("Setting up indexing stage", "run_id", rc.RunID)
	return nil
}

func (s *Indexing) Cleanup(_ context.Context, rc *ingest.RunContext) error {
	slog.Debug("Cleaning up indexing stage", "run_id", rc.RunID)
	return nil
}

func (s *Indexing) ProcessChunk(ctx context.Context, chunk *ingest.Chunk, rc *ingest.RunContext) (ingest.ChunkResult, error) {
	products := make([]domain.PersistedProduct, 0, len(chunk.Records))
	for _, r := range chunk.Records {
		if r.Draft == nil {
			continue
		}
		products = append(products, domain.PersistedProduct{ID: r.EntityID, ProductDraft: *r.Draft})
	}
	if len(products) == 0 {
		return ingest.NewChunkResult(chunk.Index, len(chunk.Records), 0, nil, nil), nil
	}

	var warnings []string
	failures, err := s.indexer.IndexProducts(ctx, products)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("Chunk %d: indexing failed: %v", chunk.Index, err))
		slog.Warn("Chunk indexing failed", "run_id", rc.RunID, "chunk", chunk.Index, "error", err)
	}
	for _, f := range failures {
		warnings = append(warnings, fmt.Sprintf("Product %s: not indexed: %s", f.ID, f.Reason))
	}
	return ingest.NewChunkResult(chunk.Index, len(chunk.Records), 0, nil, warnings), nil
}
