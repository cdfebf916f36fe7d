package ingest

import (
	"context"
	"io"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
)

// ChunkSource yields successive record batches and io.EOF once exhausted.
// Sources that also implement io.Closer are closed when the run stops
// admitting chunks; sources with an EstimatedTotal() int64 method seed the
// run's total when the caller does not know it.
type ChunkSource interface {
	Next(ctx context.Context) ([]domain.RawRecord, error)
}

type sliceSource struct {
	batches [][]domain.RawRecord
	pos     int
}

// FromBatches returns a ChunkSource over in-memory batches.
func FromBatches(batches ...[]domain.RawRecord) ChunkSource {
	return &sliceSource{batches: batches}
}

func (s *sliceSource) Next(ctx context.Context) ([]domain.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.batches) {
		return nil, io.EOF
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}
