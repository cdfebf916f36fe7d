package domain

import "github.com/google/uuid"

// RawRecord is a single untyped row or object as produced by a source adapter.
type RawRecord map[string]any

// String returns the trimmed string form of a field, or "" when absent.
func (r RawRecord) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

// Has reports whether the field is present with a non-empty value.
func (r RawRecord) Has(field string) bool {
	return r.String(field) != ""
}

// Product is a parsed and normalised retailer record.
type Product struct {
	Name          string    `json:"name"`
	SKU           string    `json:"sku"`
	Brand         string    `json:"brand"`
	Description   string    `json:"description,omitempty"`
	Category      string    `json:"category,omitempty"`
	Size          string    `json:"size,omitempty"`
	Color         string    `json:"color,omitempty"`
	Material      string    `json:"material,omitempty"`
	Price         *Price    `json:"price,omitempty"`
	Cost          *Price    `json:"cost,omitempty"`
	StockQuantity *int      `json:"stockQuantity,omitempty"`
	SourceType    string    `json:"sourceType"`
	Raw           RawRecord `json:"-"`
}

// ProductDraft is the shape handed to the persistence sink.
type ProductDraft struct {
	Name         string          `json:"name"`
	SKU          string          `json:"sku"`
	BrandID      uuid.UUID       `json:"brandId"`
	BrandName    string          `json:"brandName"`
	CategoryID   uuid.NullUUID   `json:"categoryId"`
	CategoryName string          `json:"categoryName,omitempty"`
	Description  string          `json:"description,omitempty"`
	Size         string          `json:"size,omitempty"`
	Color        string          `json:"color,omitempty"`
	Material     string          `json:"material,omitempty"`
	BasePrice    *Price          `json:"basePrice,omitempty"`
	Cost         *Price          `json:"cost,omitempty"`
	SourceSystem string          `json:"sourceSystem"`
	IsActive     bool            `json:"isActive"`
	Inventory    *InventoryDraft `json:"inventory,omitempty"`
}

type InventoryDraft struct {
	QuantityAvailable int    `json:"quantityAvailable"`
	QuantityReserved  int    `json:"quantityReserved"`
	ReorderPoint      int    `json:"reorderPoint"`
	SourceSystem      string `json:"sourceSystem"`
}

const minReorderPoint = 5

// NewInventoryDraft derives the stock record for a product: the reorder point
// is a tenth of the available quantity but never below five.
func NewInventoryDraft(quantity int, sourceSystem string) *InventoryDraft {
	return &InventoryDraft{
		QuantityAvailable: quantity,
		QuantityReserved:  0,
		ReorderPoint:      max(minReorderPoint, quantity/10),
		SourceSystem:      sourceSystem,
	}
}

// PersistedProduct is a draft together with the id the sink assigned to it.
type PersistedProduct struct {
	ID uuid.UUID `json:"id"`
	ProductDraft
}
