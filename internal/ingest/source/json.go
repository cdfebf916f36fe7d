package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
)

// jsonlProducer decodes one object per line. Blank lines are ignored;
// lines that are not a JSON object are skipped.
func jsonlProducer(r io.Reader, maxLineBytes int) producer {
	return func(ctx context.Context, emit func(domain.RawRecord) error, skip func(string, ...any)) error {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		line := 0
		for scanner.Scan() {
			line++
			if err := ctx.Err(); err != nil {
				return err
			}
			raw := bytes.TrimSpace(scanner.Bytes())
			if len(raw) == 0 {
				continue
			}
			record, err := decodeObject(raw)
			if err != nil {
				skip("Skipping invalid JSON line", "line", line, "error", err)
				continue
			}
			if err := emit(record); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read jsonl line %d: %w", line+1, err)
		}
		return nil
	}
}

// jsonArrayProducer decodes a whole top-level array. Elements that are not
// objects are skipped.
func jsonArrayProducer(r io.Reader) producer {
	return func(ctx context.Context, emit func(domain.RawRecord) error, skip func(string, ...any)) error {
		dec := json.NewDecoder(bufio.NewReader(r))
		dec.UseNumber()

		var items []json.RawMessage
		if err := dec.Decode(&items); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode json array: %w", err)
		}

		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			record, err := decodeObject(item)
			if err != nil {
				skip("Skipping invalid JSON array element", "index", i, "error", err)
				continue
			}
			items[i] = nil
			if err := emit(record); err != nil {
				return err
			}
		}
		return nil
	}
}

var errNotObject = errors.New("not a JSON object")

func decodeObject(raw []byte) (domain.RawRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, errNotObject
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var record map[string]any
	if err := dec.Decode(&record); err != nil {
		return nil, err
	}
	return domain.RawRecord(record), nil
}
