package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/google/uuid"
)

type Indexer struct {
	client       *elasticsearch.TypedClient
	indexName    string
	indexBuilder *IndexBuilder
}

func NewIndexer(ctx context.Context, config ClientConfig) (*Indexer, error) {
	client, err := newClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}
	indexer := &Indexer{
		client:       client,
		indexName:    config.IndexName,
		indexBuilder: NewIndexBuilder(),
	}

	if err := indexer.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure index exists: %w", err)
	}

	return indexer, nil
}

// IndexProducts bulk-indexes one chunk worth of products, keyed by product
// id so re-imports overwrite earlier documents.
func (e *Indexer) IndexProducts(ctx context.Context, products []domain.PersistedProduct) ([]storage.IndexFailure, error) {
	if len(products) == 0 {
		return nil, nil
	}

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:      e.indexName,
		Client:     e.client,
		NumWorkers: 2,
		FlushBytes: 5e+6, // 5MB
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	var (
		mu       sync.Mutex
		failures []storage.IndexFailure
	)
	fail := func(id uuid.UUID, reason string) {
		mu.Lock()
		failures = append(failures, storage.IndexFailure{ID: id, Reason: reason})
		mu.Unlock()
	}

	for _, p := range products {
		doc := e.indexBuilder.mapToESDocument(p)
		docBytes, err := json.Marshal(doc)
		if err != nil {
			fail(p.ID, err.Error())
			continue
		}

		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: doc.ID,
			Body:       bytes.NewReader(docBytes),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					fail(p.ID, err.Error())
					return
				}
				fail(p.ID, fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Reason))
			},
		})
		if err != nil {
			fail(p.ID, err.Error())
		}
	}

	if err := bi.Close(ctx); err != nil {
		return failures, fmt.Errorf("failed to close bulk indexer: %w", err)
	}

	stats := bi.Stats()
	slog.Debug("Bulk indexing completed",
		"indexed", stats.NumIndexed,
		"failed", stats.NumFailed,
		"total", len(products),
		"index", e.indexName)

	return failures, nil
}

func (e *Indexer) EnsureIndex(ctx context.Context) error {
	existsRes, err := e.client.Indices.Exists(e.indexName).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check if index exists: %w", err)
	}

	if existsRes {
		slog.Info("Index already exists", "index", e.indexName)
		return nil
	}

	settings := e.indexBuilder.buildSettings()
	mappings := e.indexBuilder.buildMapping()

	createRes, err := e.client.Indices.Create(e.indexName).
		Settings(&settings).
		Mappings(&mappings).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if !createRes.Acknowledged {
		return fmt.Errorf("index creation was not acknowledged")
	}

	slog.Info("Index created successfully", "index", e.indexName)
	return nil
}

var _ storage.ProductIndexer = (*Indexer)(nil)
