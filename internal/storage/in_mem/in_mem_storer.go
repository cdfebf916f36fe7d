package in_mem

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/google/uuid"
)

type Product struct {
	ID    uuid.UUID
	Draft domain.ProductDraft
}

// Sink is a map-backed storage.PersistenceSink for tests and dry runs.
type Sink struct {
	storageLock sync.RWMutex
	products    map[string]Product
	refs        map[domain.RefKind]map[string]domain.Reference
}

func NewSink() *Sink {
	return &Sink{
		products: make(map[string]Product),
		refs:     make(map[domain.RefKind]map[string]domain.Reference),
	}
}

func (s *Sink) UpsertEntity(ctx context.Context, naturalKey string, draft domain.ProductDraft) (uuid.UUID, bool, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, false, err
	}
	key := strings.TrimSpace(naturalKey)
	if key == "" {
		return uuid.Nil, false, apperr.NewRecord(naturalKey, apperr.NewValidation("natural key is empty"))
	}

	s.storageLock.Lock()
	defer s.storageLock.Unlock()

	if existing, ok := s.products[key]; ok {
		s.products[key] = Product{ID: existing.ID, Draft: draft}
		return existing.ID, false, nil
	}
	id := uuid.New()
	s.products[key] = Product{ID: id, Draft: draft}
	slog.Debug("Product stored in memory", "sku", key, "id", id)
	return id, true, nil
}

func (s *Sink) UpsertRelatedEntity(ctx context.Context, kind domain.RefKind, name string) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	key := domain.RefKey(name)
	if key == "" {
		return uuid.Nil, apperr.NewRecord(name, apperr.NewValidation("reference name is empty"))
	}

	s.storageLock.Lock()
	defer s.storageLock.Unlock()

	byKey, ok := s.refs[kind]
	if !ok {
		byKey = make(map[string]domain.Reference)
		s.refs[kind] = byKey
	}
	if ref, ok := byKey[key]; ok {
		return ref.ID, nil
	}
	ref := domain.Reference{
		ID:   uuid.New(),
		Kind: kind,
		Name: strings.TrimSpace(name),
		Slug: domain.Slugify(name),
	}
	byKey[key] = ref
	return ref.ID, nil
}

func (s *Sink) ListRelated(ctx context.Context, kind domain.RefKind) ([]domain.Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.storageLock.RLock()
	defer s.storageLock.RUnlock()

	out := make([]domain.Reference, 0, len(s.refs[kind]))
	for _, ref := range s.refs[kind] {
		out = append(out, ref)
	}
	slices.SortFunc(out, func(a, b domain.Reference) int {
		return strings.Compare(a.Slug, b.Slug)
	})
	return out, nil
}

func (s *Sink) Product(sku string) (Product, bool) {
	s.storageLock.RLock()
	defer s.storageLock.RUnlock()
	p, ok := s.products[sku]
	return p, ok
}

func (s *Sink) ProductCount() int {
	s.storageLock.RLock()
	defer s.storageLock.RUnlock()
	return len(s.products)
}
