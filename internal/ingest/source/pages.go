package source

import (
	"context"
	"fmt"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
)

// Page is one response of a paginated listing.
type Page struct {
	Records []domain.RawRecord
	HasMore bool
}

// PageFetcher returns page number page, starting at 1.
type PageFetcher func(ctx context.Context, page int) (Page, error)

// FromPages streams a paginated listing re-chunked to opts.ChunkSize. An
// empty page or HasMore=false ends the stream; a fetch error fails it.
func FromPages(ctx context.Context, fetch PageFetcher, estimate int64, opts Options) *Stream {
	opts = opts.withDefaults()
	produce := func(ctx context.Context, emit func(domain.RawRecord) error, skip func(string, ...any)) error {
		for page := 1; ; page++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := fetch(ctx, page)
			if err != nil {
				return fmt.Errorf("fetch page %d: %w", page, err)
			}
			for i, r := range p.Records {
				if r == nil {
					skip("Skipping empty API record", "page", page, "index", i)
					continue
				}
				if err := emit(r); err != nil {
					return err
				}
			}
			if len(p.Records) == 0 || !p.HasMore {
				return nil
			}
		}
	}
	return newStream(ctx, "api", opts, produce, nil, estimate)
}
