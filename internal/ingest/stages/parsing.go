// Package stages holds the retailer product stages: parsing, validation,
// transformation, persistence and search indexing.
package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest/mapping"
)

// Parsing maps raw records onto products and normalises their fields.
// Records missing a required field, or with a non-positive price or a
// negative quantity, are dropped.
type Parsing struct {
	mapping  *mapping.DataMapping
	required []string
}

func NewParsing(m *mapping.DataMapping) *Parsing {
	if m == nil {
		m = mapping.Default()
	}
	required := m.Required()
	if len(required) == 0 {
		required = []string{mapping.FieldName, mapping.FieldSKU, mapping.FieldBrand, mapping.FieldPrice}
	}
	return &Parsing{mapping: m, required: required}
}

func (s *Parsing) Setup(_ context.Context, rc *ingest.RunContext) error {
	slog.Info("Setting up parsing stage", "run_id", rc.RunID, "source_kind", rc.SourceKind, "mapping", s.mapping.Metadata.Name)
	return nil
}

func (s *Parsing) Cleanup(_ context.Context, rc *ingest.RunContext) error {
	slog.Debug("Cleaning up parsing stage", "run_id", rc.RunID)
	return nil
}

func (s *Parsing) ProcessChunk(ctx context.Context, chunk *ingest.Chunk, rc *ingest.RunContext) (ingest.ChunkResult, error) {
	kept := chunk.Records[:0]
	var errs []string
	for _, r := range chunk.Records {
		if err := ctx.Err(); err != nil {
			return ingest.ChunkResult{}, err
		}
		product, reason := s.parse(r.Raw, rc.SourceKind)
		if reason != "" {
			errs = append(errs, fmt.Sprintf("Record %d: %s", r.Index, reason))
			continue
		}
		r.Product = product
		kept = append(kept, r)
	}
	chunk.Records = kept
	return ingest.NewChunkResult(chunk.Index, len(kept), len(errs), errs, nil), nil
}

// parse returns the product or the reason it was rejected.
func (s *Parsing) parse(raw domain.RawRecord, sourceKind string) (*domain.Product, string) {
	rec := s.mapping.Apply(raw)

	var missing []string
	for _, f := range s.required {
		if !rec.Has(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, "missing required fields: " + strings.Join(missing, ", ")
	}

	p := &domain.Product{
		Name:        cleanText(rec.String(mapping.FieldName)),
		SKU:         cleanSKU(rec.String(mapping.FieldSKU)),
		Brand:       cleanText(rec.String(mapping.FieldBrand)),
		Description: cleanText(rec.String(mapping.FieldDescription)),
		Category:    cleanText(rec.String(mapping.FieldCategory)),
		Size:        normalizeSize(rec.String(mapping.FieldSize)),
		Color:       cleanText(rec.String(mapping.FieldColor)),
		Material:    cleanText(rec.String(mapping.FieldMaterial)),
		SourceType:  sourceKind,
		Raw:         raw,
	}
	if p.Name == "" || p.SKU == "" || p.Brand == "" {
		return nil, "name, sku and brand must not be empty after cleaning"
	}

	if v := rec.String(mapping.FieldPrice); v != "" {
		price, ok := priceValue(rec[mapping.FieldPrice], v)
		if !ok {
			return nil, fmt.Sprintf("unparseable price %q", v)
		}
		if price.Sign() <= 0 {
			return nil, "price must be positive"
		}
		p.Price = price
	}
	if v := rec.String(mapping.FieldCost); v != "" {
		if cost, ok := priceValue(rec[mapping.FieldCost], v); ok {
			p.Cost = cost
		}
	}
	if v := rec.String(mapping.FieldStockQuantity); v != "" {
		if qty, ok := parseInteger(v); ok {
			if qty < 0 {
				return nil, "stock quantity must not be negative"
			}
			p.StockQuantity = &qty
		}
	}
	return p, ""
}
