package factory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DjordjeVuckovic/retail-ingest/internal/storage"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage/es"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage/in_mem"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage/pg"
	"github.com/DjordjeVuckovic/retail-ingest/pkg/server"
)

// Backend bundles the collaborators the pipeline persists through.
type Backend struct {
	Sink    storage.PersistenceSink
	Batches storage.BatchStore
	// Indexer is nil when search indexing is not configured.
	Indexer storage.ProductIndexer
	Health  server.HealthChecker

	closers []func()
}

func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// New connects the configured backend.
func New(ctx context.Context, cfg *StorageConfig) (*Backend, error) {
	b := &Backend{}

	switch cfg.Type {
	case storage.PG:
		if cfg.Pg == nil {
			return nil, fmt.Errorf("missing PostgreSQL configuration")
		}
		pool, err := pg.NewConnectionPool(ctx, *cfg.Pg)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
		}
		b.Sink = pg.NewSink(pool)
		b.Batches = pg.NewBatchStore(pool)
		b.Health = pg.NewHealthChecker(pool)
		b.closers = append(b.closers, pool.Close)

	case storage.InMem:
		b.Sink = in_mem.NewSink()
		b.Batches = in_mem.NewBatchStore()
		b.Health = server.NewOkHealthChecker()

	default:
		return nil, fmt.Errorf("%w: %s", storage.ErrUnsupportedStorer, cfg.Type)
	}

	if cfg.Es != nil {
		indexer, err := es.NewIndexer(ctx, *cfg.Es)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to create Elasticsearch indexer: %w", err)
		}
		b.Indexer = indexer
	}

	slog.Info("Storage backend ready", "type", cfg.Type, "indexing", b.Indexer != nil)
	return b, nil
}
