package stages

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Resolver maps brand and category names to ids. Lookups hit an in-memory
// cache first; misses for the same key are collapsed into a single
// UpsertRelatedEntity call, so concurrent chunks never create a reference
// twice.
type Resolver struct {
	sink  storage.PersistenceSink
	group singleflight.Group

	mu    sync.RWMutex
	cache map[domain.RefKind]map[string]uuid.UUID
}

func NewResolver(sink storage.PersistenceSink) *Resolver {
	return &Resolver{
		sink:  sink,
		cache: make(map[domain.RefKind]map[string]uuid.UUID),
	}
}

// Warm loads every known reference of the given kinds.
func (r *Resolver) Warm(ctx context.Context, kinds ...domain.RefKind) error {
	for _, kind := range kinds {
		refs, err := r.sink.ListRelated(ctx, kind)
		if err != nil {
			return fmt.Errorf("list %s references: %w", kind, err)
		}
		r.mu.Lock()
		byKey := make(map[string]uuid.UUID, len(refs))
		for _, ref := range refs {
			byKey[domain.RefKey(ref.Name)] = ref.ID
		}
		r.cache[kind] = byKey
		r.mu.Unlock()
		slog.Debug("Reference cache warmed", "kind", kind, "count", len(refs))
	}
	return nil
}

func (r *Resolver) Resolve(ctx context.Context, kind domain.RefKind, name string) (uuid.UUID, error) {
	key := domain.RefKey(name)
	if id, ok := r.cached(kind, key); ok {
		return id, nil
	}

	v, err, _ := r.group.Do(string(kind)+"\x00"+key, func() (any, error) {
		if id, ok := r.cached(kind, key); ok {
			return id, nil
		}
		id, err := r.sink.UpsertRelatedEntity(ctx, kind, name)
		if err != nil {
			return uuid.Nil, err
		}
		r.store(kind, key, id)
		slog.Debug("Reference resolved", "kind", kind, "name", name, "id", id)
		return id, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve %s %q: %w", kind, name, err)
	}
	return v.(uuid.UUID), nil
}

// Clear drops every cached reference.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[domain.RefKind]map[string]uuid.UUID)
}

func (r *Resolver) Len(kind domain.RefKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache[kind])
}

func (r *Resolver) cached(kind domain.RefKind, key string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.cache[kind][key]
	return id, ok
}

func (r *Resolver) store(kind domain.RefKind, key string, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKey, ok := r.cache[kind]
	if !ok {
		byKey = make(map[string]uuid.UUID)
		r.cache[kind] = byKey
	}
	byKey[key] = id
}
