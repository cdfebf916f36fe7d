package domain

import (
	"time"

	"github.com/google/uuid"
)

type BatchStatus string

const (
	BatchQueued     BatchStatus = "queued"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchCancelled  BatchStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchCancelled
}

// ImportBatch is the externally persisted record of one ingestion run.
type ImportBatch struct {
	ID               uuid.UUID   `json:"id"`
	SourceType       string      `json:"sourceType"`
	Filename         string      `json:"filename,omitempty"`
	ImportName       string      `json:"importName,omitempty"`
	Status           BatchStatus `json:"status"`
	TotalRecords     int64       `json:"totalRecords"`
	ProcessedRecords int64       `json:"processedRecords"`
	ErrorRecords     int64       `json:"errorRecords"`
	ErrorMessage     string      `json:"errorMessage,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	CompletedAt      *time.Time  `json:"completedAt,omitempty"`
}

// ProgressPercent mirrors the run-level progress for a stored batch. A
// completed batch without a known total reports 100.
func (b ImportBatch) ProgressPercent() float64 {
	if b.TotalRecords > 0 {
		return float64(b.ProcessedRecords) / float64(b.TotalRecords) * 100
	}
	if b.Status == BatchCompleted {
		return 100
	}
	return 0
}
