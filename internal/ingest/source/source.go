// Package source turns files and remote listings into lazy streams of
// chunk-sized record batches.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
)

type Kind string

const (
	KindAuto  Kind = "auto"
	KindCSV   Kind = "csv"
	KindJSONL Kind = "jsonl"
	KindJSON  Kind = "json"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindAuto:
		return KindAuto, nil
	case KindCSV, KindJSONL, KindJSON:
		return k, nil
	case "ndjson":
		return KindJSONL, nil
	default:
		return "", apperr.NewValidation(fmt.Sprintf("unsupported source kind %q", s))
	}
}

// Locator identifies a file input.
type Locator struct {
	Path string
	Kind Kind
}

const (
	DefaultChunkSize      = 1000
	DefaultBufferedChunks = 2
	DefaultMaxLineBytes   = 16 << 20
	DefaultEncoding       = "utf-8-sig"
)

type Options struct {
	ChunkSize int
	// Encoding applies to delimited text only. Any WHATWG or IANA name is
	// accepted; a byte-order mark is always tolerated.
	Encoding string
	// Comma is the CSV field delimiter, ',' when zero.
	Comma rune
	// BufferedChunks is how many full batches the producer may run ahead
	// of the consumer.
	BufferedChunks int
	MaxLineBytes   int
	// Guard, when set, is consulted after every batch.
	Guard *MemoryGuard
	// SkipEstimate disables up-front record counting.
	SkipEstimate bool
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Encoding == "" {
		o.Encoding = DefaultEncoding
	}
	if o.Comma == 0 {
		o.Comma = ','
	}
	if o.BufferedChunks <= 0 {
		o.BufferedChunks = DefaultBufferedChunks
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = DefaultMaxLineBytes
	}
	return o
}

// Open starts streaming the file named by loc. The returned stream must be
// closed; closing it also closes the file.
func Open(ctx context.Context, loc Locator, opts Options) (*Stream, error) {
	if opts.Comma == 0 && strings.EqualFold(filepath.Ext(loc.Path), ".tsv") {
		opts.Comma = '\t'
	}
	opts = opts.withDefaults()

	kind := loc.Kind
	if kind == "" || kind == KindAuto {
		detected, err := DetectKind(loc.Path)
		if err != nil {
			return nil, err
		}
		kind = detected
	}

	f, err := os.Open(loc.Path)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", loc.Path, err)
	}

	var (
		produce  producer
		estimate int64
	)
	switch kind {
	case KindCSV:
		r, err := decodeReader(f, opts.Encoding)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		produce = csvProducer(r, opts.Comma)
		if !opts.SkipEstimate {
			estimate = estimateRecords(loc.Path, true, opts.MaxLineBytes)
		}
	case KindJSONL:
		r, _ := decodeReader(f, "utf-8")
		produce = jsonlProducer(r, opts.MaxLineBytes)
		if !opts.SkipEstimate {
			estimate = estimateRecords(loc.Path, false, opts.MaxLineBytes)
		}
	case KindJSON:
		slog.Warn("JSON array sources are decoded whole; prefer JSONL for very large inputs", "path", loc.Path)
		r, _ := decodeReader(f, "utf-8")
		produce = jsonArrayProducer(r)
	default:
		_ = f.Close()
		return nil, apperr.NewValidation(fmt.Sprintf("unsupported source kind %q", kind))
	}

	slog.Info("Source opened",
		"path", loc.Path,
		"kind", kind,
		"chunk_size", opts.ChunkSize,
		"estimated_records", estimate,
	)
	return newStream(ctx, string(kind), opts, produce, f, estimate), nil
}

// DetectKind picks a kind from the file extension. A .json file starting
// with an object is treated as line-delimited.
func DetectKind(path string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		return KindCSV, nil
	case ".jsonl", ".ndjson":
		return KindJSONL, nil
	case ".json":
		return sniffJSON(path)
	default:
		return "", apperr.NewValidation(fmt.Sprintf("cannot detect source kind of %s", path))
	}
}

func sniffJSON(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		b, err := r.ReadByte()
		if err == io.EOF {
			return KindJSON, nil
		}
		if err != nil {
			return "", fmt.Errorf("read source %s: %w", path, err)
		}
		switch b {
		case ' ', '\t', '\r', '\n', 0xEF, 0xBB, 0xBF:
			continue
		}
		if b == '{' {
			return KindJSONL, nil
		}
		return KindJSON, nil
	}
}
