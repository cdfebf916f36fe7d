package es

import (
	"time"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
)

const productAnalyzer = "product_analyzer"

// ProductDocument is the search representation of a persisted product.
type ProductDocument struct {
	ID           string    `json:"id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	BrandID      string    `json:"brand_id"`
	Brand        string    `json:"brand"`
	CategoryID   string    `json:"category_id,omitempty"`
	Category     string    `json:"category,omitempty"`
	Size         string    `json:"size,omitempty"`
	Color        string    `json:"color,omitempty"`
	Material     string    `json:"material,omitempty"`
	Price        string    `json:"price,omitempty"`
	InStock      bool      `json:"in_stock"`
	Quantity     int       `json:"quantity"`
	SourceSystem string    `json:"source_system"`
	IsActive     bool      `json:"is_active"`
	IndexedAt    time.Time `json:"indexed_at"`
}

type IndexBuilder struct {
	now func() time.Time
}

func NewIndexBuilder() *IndexBuilder {
	return &IndexBuilder{now: time.Now}
}

func (b *IndexBuilder) mapToESDocument(p domain.PersistedProduct) ProductDocument {
	doc := ProductDocument{
		ID:           p.ID.String(),
		SKU:          p.SKU,
		Name:         p.Name,
		Description:  p.Description,
		BrandID:      p.BrandID.String(),
		Brand:        p.BrandName,
		Category:     p.CategoryName,
		Size:         p.Size,
		Color:        p.Color,
		Material:     p.Material,
		Price:        p.BasePrice.String(),
		SourceSystem: p.SourceSystem,
		IsActive:     p.IsActive,
		IndexedAt:    b.now(),
	}
	if p.CategoryID.Valid {
		doc.CategoryID = p.CategoryID.UUID.String()
	}
	if p.Inventory != nil {
		doc.Quantity = p.Inventory.QuantityAvailable
		doc.InStock = p.Inventory.QuantityAvailable > 0
	}
	return doc
}

func (b *IndexBuilder) buildSettings() types.IndexSettings {
	return types.IndexSettings{
		Analysis: &types.IndexSettingsAnalysis{
			Analyzer: map[string]types.Analyzer{
				productAnalyzer: types.StandardAnalyzer{
					Stopwords: []string{"_english_"},
				},
			},
		},
	}
}

func (b *IndexBuilder) buildMapping() types.TypeMapping {
	return types.TypeMapping{
		Properties: map[string]types.Property{
			"id":            types.NewKeywordProperty(),
			"sku":           types.NewKeywordProperty(),
			"name":          b.createTextPropertyWithKeyword(productAnalyzer),
			"description":   b.createTextProperty(productAnalyzer),
			"brand_id":      types.NewKeywordProperty(),
			"brand":         b.createTextPropertyWithKeyword(""),
			"category_id":   types.NewKeywordProperty(),
			"category":      b.createTextPropertyWithKeyword(""),
			"size":          types.NewKeywordProperty(),
			"color":         types.NewKeywordProperty(),
			"material":      types.NewKeywordProperty(),
			"price":         types.NewDoubleNumberProperty(),
			"in_stock":      types.NewBooleanProperty(),
			"quantity":      types.NewIntegerNumberProperty(),
			"source_system": types.NewKeywordProperty(),
			"is_active":     types.NewBooleanProperty(),
			"indexed_at":    types.NewDateProperty(),
		},
	}
}

func (b *IndexBuilder) createTextProperty(analyzer string) types.Property {
	textProp := types.NewTextProperty()
	if analyzer != "" {
		textProp.Analyzer = &analyzer
	}
	return textProp
}

func (b *IndexBuilder) createTextPropertyWithKeyword(analyzer string) types.Property {
	textProp := types.NewTextProperty()
	if analyzer != "" {
		textProp.Analyzer = &analyzer
	}
	textProp.Fields = map[string]types.Property{
		"keyword": types.NewKeywordProperty(),
	}
	return textProp
}
