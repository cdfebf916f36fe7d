package stages

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"unicode/utf8"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest"
)

const (
	maxNameRunes  = 255
	maxBrandRunes = 100
	maxStock      = 999_999
)

var (
	skuFormat = regexp.MustCompile(`^[A-Z0-9\-_]{2,50}$`)
	maxPrice  = domain.MustParsePrice("99999.99")
)

// Validation enforces business rules on parsed products. A SKU seen
// earlier in the same chunk is a duplicate.
type Validation struct{}

func NewValidation() *Validation {
	return &Validation{}
}

func (s *Validation) Setup(_ context.Context, rc *ingest.RunContext) error {
	slog.Info("Setting up validation stage", "run_id", rc.RunID)
	return nil
}

func (s *Validation) Cleanup(context.Context, *ingest.RunContext) error {
	return nil
}

func (s *Validation) ProcessChunk(_ context.Context, chunk *ingest.Chunk, _ *ingest.RunContext) (ingest.ChunkResult, error) {
	seen := make(map[string]struct{}, chunk.Len())
	kept := chunk.Records[:0]
	var errs []string
	failed := 0
	for _, r := range chunk.Records {
		if r.Product == nil {
			failed++
			errs = append(errs, fmt.Sprintf("Record %d: not parsed", r.Index))
			continue
		}
		violations := validateProduct(r.Product, seen)
		if len(violations) > 0 {
			failed++
			for _, v := range violations {
				errs = append(errs, fmt.Sprintf("Record %d: %s", r.Index, v))
			}
			continue
		}
		seen[r.Product.SKU] = struct{}{}
		kept = append(kept, r)
	}
	chunk.Records = kept
	return ingest.NewChunkResult(chunk.Index, len(kept), failed, errs, nil), nil
}

func validateProduct(p *domain.Product, seen map[string]struct{}) []string {
	var out []string
	if _, dup := seen[p.SKU]; dup {
		out = append(out, "duplicate SKU in chunk: "+p.SKU)
	}
	if !skuFormat.MatchString(p.SKU) {
		out = append(out, "invalid SKU format: "+p.SKU)
	}
	if utf8.RuneCountInString(p.Name) > maxNameRunes {
		out = append(out, fmt.Sprintf("product name too long (max %d characters)", maxNameRunes))
	}
	if utf8.RuneCountInString(p.Brand) > maxBrandRunes {
		out = append(out, fmt.Sprintf("brand name too long (max %d characters)", maxBrandRunes))
	}
	if p.Price != nil {
		if p.Price.Sign() <= 0 {
			out = append(out, "price must be positive")
		}
		if p.Price.Cmp(maxPrice) > 0 {
			out = append(out, "price too high (max "+maxPrice.String()+")")
		}
	}
	if p.StockQuantity != nil {
		if *p.StockQuantity < 0 {
			out = append(out, "stock quantity cannot be negative")
		}
		if *p.StockQuantity > maxStock {
			out = append(out, fmt.Sprintf("stock quantity too high (max %d)", maxStock))
		}
	}
	return out
}
