package ingest

import (
	"slices"
	"time"
)

// ChunkResult is the outcome of one stage (or one whole attempt) over a chunk.
type ChunkResult struct {
	ChunkIndex       int
	RecordsProcessed int
	RecordsFailed    int
	ProcessingTime   time.Duration
	Errors           []string
	Warnings         []string
}

func NewChunkResult(index, processed, failed int, errs, warnings []string) ChunkResult {
	return ChunkResult{
		ChunkIndex:       index,
		RecordsProcessed: processed,
		RecordsFailed:    failed,
		Errors:           slices.Clone(errs),
		Warnings:         slices.Clone(warnings),
	}
}

func (r ChunkResult) ProcessingTimeMs() float64 {
	return float64(r.ProcessingTime) / float64(time.Millisecond)
}

func (r ChunkResult) withTiming(d time.Duration) ChunkResult {
	r.ProcessingTime = d
	return r
}
