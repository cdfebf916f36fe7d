package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
)

// csvProducer reads a header row and turns every following row into a
// record keyed by header. Values are trimmed and empty cells left out. A
// short row leaves its missing trailing columns absent; a row with more
// fields than the header is skipped.
func csvProducer(r io.Reader, comma rune) producer {
	return func(ctx context.Context, emit func(domain.RawRecord) error, skip func(string, ...any)) error {
		reader := csv.NewReader(r)
		reader.Comma = comma
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		header, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read csv header: %w", err)
		}
		for i, h := range header {
			header[i] = strings.TrimSpace(h)
		}

		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			row, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				var perr *csv.ParseError
				if errors.As(err, &perr) {
					skip("Skipping malformed CSV row", "line", perr.Line, "error", err)
					continue
				}
				return fmt.Errorf("read csv: %w", err)
			}
			if len(row) > len(header) {
				line, _ := reader.FieldPos(0)
				skip("Skipping CSV row with too many fields", "line", line, "fields", len(row), "expected", len(header))
				continue
			}

			record := make(domain.RawRecord, len(header))
			for i, v := range row {
				if v, h := strings.TrimSpace(v), header[i]; v != "" && h != "" {
					record[h] = v
				}
			}
			if err := emit(record); err != nil {
				return err
			}
		}
	}
}
