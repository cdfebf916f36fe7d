package source

import "github.com/DjordjeVuckovic/retail-ingest/internal/domain"

// Chunker groups records into batches of a fixed size.
type Chunker struct {
	size int
	buf  []domain.RawRecord
}

func NewChunker(size int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Chunker{size: size, buf: make([]domain.RawRecord, 0, size)}
}

// Add appends r and returns a full batch once size records are buffered.
func (c *Chunker) Add(r domain.RawRecord) ([]domain.RawRecord, bool) {
	c.buf = append(c.buf, r)
	if len(c.buf) < c.size {
		return nil, false
	}
	return c.take(), true
}

// Flush returns the buffered partial batch, if any.
func (c *Chunker) Flush() ([]domain.RawRecord, bool) {
	if len(c.buf) == 0 {
		return nil, false
	}
	return c.take(), true
}

func (c *Chunker) take() []domain.RawRecord {
	batch := c.buf
	c.buf = make([]domain.RawRecord, 0, c.size)
	return batch
}
