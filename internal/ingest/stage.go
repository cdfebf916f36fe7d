package ingest

import (
	"context"
	"fmt"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/google/uuid"
)

type StageKind int

const (
	StageQueued StageKind = iota
	StageParsing
	StageValidation
	StageTransformation
	StagePersistence
	StageIndexing
	StageCompleted
	StageFailed
)

var stageNames = map[StageKind]string{
	StageQueued:         "queued",
	StageParsing:        "parsing",
	StageValidation:     "validation",
	StageTransformation: "transformation",
	StagePersistence:    "persistence",
	StageIndexing:       "indexing",
	StageCompleted:      "completed",
	StageFailed:         "failed",
}

func (k StageKind) String() string {
	if name, ok := stageNames[k]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(k))
}

func ParseStageKind(s string) (StageKind, error) {
	for k, name := range stageNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown stage kind %q", s)
}

// pipelineOrder is the fixed order chunk records travel through.
var pipelineOrder = []StageKind{
	StageParsing,
	StageValidation,
	StageTransformation,
	StagePersistence,
	StageIndexing,
}

func (k StageKind) registrable() bool {
	for _, p := range pipelineOrder {
		if p == k {
			return true
		}
	}
	return false
}

// Stage is one step of the per-chunk pipeline.
//
// ProcessChunk narrows chunk.Records to the records that survive the stage.
// Record-level problems are reported through the returned ChunkResult; a
// non-nil error fails the whole attempt and triggers a retry of the chunk.
type Stage interface {
	Setup(ctx context.Context, rc *RunContext) error
	ProcessChunk(ctx context.Context, chunk *Chunk, rc *RunContext) (ChunkResult, error)
	Cleanup(ctx context.Context, rc *RunContext) error
}

// Record carries one source record through the stages. Each stage fills in
// its own part.
type Record struct {
	// Index is the record's position in the chunk as read from the source.
	Index    int
	Raw      domain.RawRecord
	Product  *domain.Product
	Draft    *domain.ProductDraft
	EntityID uuid.UUID
	Created  bool
}

type Chunk struct {
	Index   int
	Records []*Record
}

func newChunk(index int, raw []domain.RawRecord) *Chunk {
	records := make([]*Record, len(raw))
	for i, r := range raw {
		records[i] = &Record{Index: i, Raw: r}
	}
	return &Chunk{Index: index, Records: records}
}

func (c *Chunk) Len() int {
	return len(c.Records)
}

// NewChunk wraps raw source records for a stage outside a run, such as a
// stage under test.
func NewChunk(index int, raw []domain.RawRecord) *Chunk {
	return newChunk(index, raw)
}
