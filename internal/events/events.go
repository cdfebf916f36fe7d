// Package events defines the ingestion lifecycle notifications and the sinks
// that deliver them.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeRunCreated     Type = "import_batch.created"
	TypeRunProgress    Type = "import_batch.progress"
	TypeRunCompleted   Type = "import_batch.completed"
	TypeRunFailed      Type = "import_batch.failed"
	TypeRunCancelled   Type = "import_batch.cancelled"
	TypeProductCreated Type = "product.created"
)

type Event interface {
	Type() Type
	AggregateID() uuid.UUID
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error {
	return f(ctx, e)
}

type RunCreated struct {
	RunID        uuid.UUID `json:"runId"`
	SourceKind   string    `json:"sourceKind"`
	Filename     string    `json:"filename,omitempty"`
	TotalRecords int64     `json:"totalRecords,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

type RunProgress struct {
	RunID           uuid.UUID `json:"runId"`
	ProcessedCount  int64     `json:"processedCount"`
	FailedCount     int64     `json:"failedCount"`
	ProgressPercent float64   `json:"progressPercent"`
	Stage           string    `json:"stage"`
	ChunkIndex      int       `json:"chunkIndex"`
	OccurredAt      time.Time `json:"occurredAt"`
}

type RunCompleted struct {
	RunID           uuid.UUID `json:"runId"`
	TotalProcessed  int64     `json:"totalProcessed"`
	TotalFailed     int64     `json:"totalFailed"`
	DurationSeconds float64   `json:"durationSeconds"`
	Success         bool      `json:"success"`
	OccurredAt      time.Time `json:"occurredAt"`
}

type RunFailed struct {
	RunID         uuid.UUID `json:"runId"`
	ErrorMessage  string    `json:"errorMessage"`
	ErrorKind     string    `json:"errorKind"`
	FailedAtStage string    `json:"failedAtStage"`
	OccurredAt    time.Time `json:"occurredAt"`
}

type RunCancelled struct {
	RunID          uuid.UUID `json:"runId"`
	TotalProcessed int64     `json:"totalProcessed"`
	TotalFailed    int64     `json:"totalFailed"`
	OccurredAt     time.Time `json:"occurredAt"`
}

type ProductCreated struct {
	RunID      uuid.UUID `json:"runId"`
	ProductID  uuid.UUID `json:"productId"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	Brand      string    `json:"brand"`
	Category   string    `json:"category,omitempty"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (RunCreated) Type() Type     { return TypeRunCreated }
func (RunProgress) Type() Type    { return TypeRunProgress }
func (RunCompleted) Type() Type   { return TypeRunCompleted }
func (RunFailed) Type() Type      { return TypeRunFailed }
func (RunCancelled) Type() Type   { return TypeRunCancelled }
func (ProductCreated) Type() Type { return TypeProductCreated }

func (e RunCreated) AggregateID() uuid.UUID     { return e.RunID }
func (e RunProgress) AggregateID() uuid.UUID    { return e.RunID }
func (e RunCompleted) AggregateID() uuid.UUID   { return e.RunID }
func (e RunFailed) AggregateID() uuid.UUID      { return e.RunID }
func (e RunCancelled) AggregateID() uuid.UUID   { return e.RunID }
func (e ProductCreated) AggregateID() uuid.UUID { return e.ProductID }
