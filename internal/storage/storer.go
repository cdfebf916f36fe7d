package storage

import (
	"context"
	"fmt"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/google/uuid"
)

// PersistenceSink stores products and their reference entities. Every method
// must be safe to call concurrently with the same key.
type PersistenceSink interface {
	// UpsertEntity creates the product identified by naturalKey or updates it
	// when it already exists. created reports which of the two happened.
	UpsertEntity(ctx context.Context, naturalKey string, draft domain.ProductDraft) (id uuid.UUID, created bool, err error)
	// UpsertRelatedEntity returns the id of the reference named name,
	// creating it on first sight. Names are matched case-insensitively.
	UpsertRelatedEntity(ctx context.Context, kind domain.RefKind, name string) (uuid.UUID, error)
	ListRelated(ctx context.Context, kind domain.RefKind) ([]domain.Reference, error)
}

// BatchStore persists the status of import batches.
type BatchStore interface {
	Save(ctx context.Context, batch domain.ImportBatch) error
	Get(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error)
}

// ProductIndexer makes persisted products searchable. Failures of single
// documents are returned, not raised; err is reserved for the whole request.
type ProductIndexer interface {
	IndexProducts(ctx context.Context, products []domain.PersistedProduct) ([]IndexFailure, error)
}

type IndexFailure struct {
	ID     uuid.UUID
	Reason string
}

type Type string

const (
	PG    Type = "pg"
	InMem Type = "in_mem"
)

func ParseType(s string) (Type, error) {
	switch Type(s) {
	case PG, InMem:
		return Type(s), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedStorer, s)
	}
}

type StorerError string

const (
	ErrUnsupportedStorer StorerError = "unsupported storage type"
)

func (e StorerError) Error() string {
	return string(e)
}
