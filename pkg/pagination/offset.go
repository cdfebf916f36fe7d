// Package pagination slices in-memory listings into offset pages.
package pagination

const (
	PageDefaultSize = 50
	PageMaxSize     = 1_000
)

// OffsetRequest represents an offset-based pagination request
type OffsetRequest struct {
	Page int `json:"page" query:"page"`
	Size int `json:"size" query:"size"`
}

// Normalize clamps the request to a valid page.
func (r *OffsetRequest) Normalize() {
	if r.Page <= 0 {
		r.Page = 1
	}
	if r.Size <= 0 {
		r.Size = PageDefaultSize
	}
	if r.Size > PageMaxSize {
		r.Size = PageMaxSize
	}
}

type OffsetResult[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Page    int   `json:"page"`
	Size    int   `json:"size"`
	HasMore bool  `json:"has_more"`
}

// Paginate returns the page of items selected by req.
func Paginate[T any](items []T, req OffsetRequest) *OffsetResult[T] {
	req.Normalize()

	total := len(items)
	start := min((req.Page-1)*req.Size, total)
	end := min(start+req.Size, total)

	page := make([]T, end-start)
	copy(page, items[start:end])

	return &OffsetResult[T]{
		Items:   page,
		Total:   int64(total),
		Page:    req.Page,
		Size:    req.Size,
		HasMore: end < total,
	}
}
