package es

import (
	"testing"
	"time"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIndexBuilder_MapToESDocument(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b := &IndexBuilder{now: func() time.Time { return at }}
	id, brandID, categoryID := uuid.New(), uuid.New(), uuid.New()

	doc := b.mapToESDocument(domain.PersistedProduct{
		ID: id,
		ProductDraft: domain.ProductDraft{
			Name:         "Trail Runner",
			SKU:          "SKU-1",
			BrandID:      brandID,
			BrandName:    "Acme",
			CategoryID:   uuid.NullUUID{UUID: categoryID, Valid: true},
			CategoryName: "Shoes",
			BasePrice:    domain.MustParsePrice("49.9"),
			SourceSystem: "retailer_acme",
			IsActive:     true,
			Inventory:    domain.NewInventoryDraft(3, "retailer_acme"),
		},
	})

	assert.Equal(t, id.String(), doc.ID)
	assert.Equal(t, brandID.String(), doc.BrandID)
	assert.Equal(t, categoryID.String(), doc.CategoryID)
	assert.Equal(t, "49.90", doc.Price)
	assert.True(t, doc.InStock)
	assert.Equal(t, 3, doc.Quantity)
	assert.Equal(t, at, doc.IndexedAt)
}

func TestIndexBuilder_NoCategoryNoInventory(t *testing.T) {
	doc := NewIndexBuilder().mapToESDocument(domain.PersistedProduct{
		ID:           uuid.New(),
		ProductDraft: domain.ProductDraft{SKU: "SKU-2", Name: "Plain"},
	})

	assert.Empty(t, doc.CategoryID)
	assert.Empty(t, doc.Price)
	assert.False(t, doc.InStock)
}

func TestIndexBuilder_MappingCoversDocumentFields(t *testing.T) {
	mapping := NewIndexBuilder().buildMapping()
	for _, field := range []string{"id", "sku", "name", "brand", "category", "price", "quantity", "indexed_at"} {
		assert.Contains(t, mapping.Properties, field)
	}
}
