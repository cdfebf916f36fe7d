package pg

import (
	"context"
	"fmt"
	"strings"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var refTables = map[domain.RefKind]string{
	domain.RefBrand:    "brands",
	domain.RefCategory: "categories",
}

// Sink is the Postgres storage.PersistenceSink. Upserts rely on unique
// constraints, so concurrent writers of the same key converge on one row.
type Sink struct {
	db *pgxpool.Pool
}

func NewSink(pool *ConnectionPool) *Sink {
	return &Sink{db: pool.GetConn()}
}

const upsertProduct = `
	INSERT INTO products (id, sku, name, brand_id, category_id, description, size, color, material,
	                      base_price, cost, source_system, is_active)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (sku) DO UPDATE SET
		name          = EXCLUDED.name,
		brand_id      = EXCLUDED.brand_id,
		category_id   = EXCLUDED.category_id,
		description   = EXCLUDED.description,
		size          = EXCLUDED.size,
		color         = EXCLUDED.color,
		material      = EXCLUDED.material,
		base_price    = EXCLUDED.base_price,
		cost          = EXCLUDED.cost,
		source_system = EXCLUDED.source_system,
		is_active     = EXCLUDED.is_active,
		updated_at    = now()
	RETURNING id, (xmax = 0) AS created;
`

const upsertInventory = `
	INSERT INTO inventory_items (product_id, quantity_available, quantity_reserved, reorder_point, source_system)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (product_id) DO UPDATE SET
		quantity_available = EXCLUDED.quantity_available,
		reorder_point      = EXCLUDED.reorder_point,
		source_system      = EXCLUDED.source_system,
		updated_at         = now();
`

func (s *Sink) UpsertEntity(ctx context.Context, naturalKey string, draft domain.ProductDraft) (uuid.UUID, bool, error) {
	key := strings.TrimSpace(naturalKey)
	if key == "" {
		return uuid.Nil, false, apperr.NewRecord(naturalKey, apperr.NewValidation("natural key is empty"))
	}
	price, err := numeric(draft.BasePrice)
	if err != nil {
		return uuid.Nil, false, apperr.NewRecord(key, err)
	}
	cost, err := numeric(draft.Cost)
	if err != nil {
		return uuid.Nil, false, apperr.NewRecord(key, err)
	}

	var (
		id      uuid.UUID
		created bool
	)
	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, upsertProduct,
			uuid.New(),
			key,
			draft.Name,
			draft.BrandID,
			draft.CategoryID,
			nullText(draft.Description),
			nullText(draft.Size),
			nullText(draft.Color),
			nullText(draft.Material),
			price,
			cost,
			draft.SourceSystem,
			draft.IsActive,
		).Scan(&id, &created)
		if err != nil {
			return fmt.Errorf("upsert product: %w", err)
		}

		if inv := draft.Inventory; inv != nil {
			_, err := tx.Exec(ctx, upsertInventory,
				id,
				inv.QuantityAvailable,
				inv.QuantityReserved,
				inv.ReorderPoint,
				inv.SourceSystem,
			)
			if err != nil {
				return fmt.Errorf("upsert inventory: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, false, classify(key, err)
	}
	return id, created, nil
}

func (s *Sink) UpsertRelatedEntity(ctx context.Context, kind domain.RefKind, name string) (uuid.UUID, error) {
	table, ok := refTables[kind]
	if !ok {
		return uuid.Nil, fmt.Errorf("unknown reference kind %q", kind)
	}
	key := domain.RefKey(name)
	if key == "" {
		return uuid.Nil, apperr.NewRecord(name, apperr.NewValidation("reference name is empty"))
	}

	// The no-op update makes RETURNING yield the existing row on conflict.
	cmd := fmt.Sprintf(`
		INSERT INTO %s (id, name, name_key, slug)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name_key) DO UPDATE SET name_key = EXCLUDED.name_key
		RETURNING id;
	`, table)

	var id uuid.UUID
	err := s.db.QueryRow(ctx, cmd, uuid.New(), strings.TrimSpace(name), key, domain.Slugify(name)).Scan(&id)
	if err != nil {
		return uuid.Nil, classify(name, fmt.Errorf("upsert %s: %w", kind, err))
	}
	return id, nil
}

func (s *Sink) ListRelated(ctx context.Context, kind domain.RefKind) ([]domain.Reference, error) {
	table, ok := refTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown reference kind %q", kind)
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT id, name, slug FROM %s WHERE is_active ORDER BY slug`, table))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Reference, error) {
		ref := domain.Reference{Kind: kind}
		err := row.Scan(&ref.ID, &ref.Name, &ref.Slug)
		return ref, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", kind, err)
	}
	return refs, nil
}

var _ storage.PersistenceSink = (*Sink)(nil)
