package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BatchStore struct {
	db *pgxpool.Pool
}

func NewBatchStore(pool *ConnectionPool) *BatchStore {
	return &BatchStore{db: pool.GetConn()}
}

const saveBatch = `
	INSERT INTO import_batches (id, source_type, filename, import_name, status, total_records,
	                            processed_records, error_records, error_message, created_at, completed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO UPDATE SET
		status            = EXCLUDED.status,
		total_records     = EXCLUDED.total_records,
		processed_records = EXCLUDED.processed_records,
		error_records     = EXCLUDED.error_records,
		error_message     = EXCLUDED.error_message,
		completed_at      = EXCLUDED.completed_at;
`

func (s *BatchStore) Save(ctx context.Context, b domain.ImportBatch) error {
	_, err := s.db.Exec(ctx, saveBatch,
		b.ID,
		b.SourceType,
		nullText(b.Filename),
		nullText(b.ImportName),
		string(b.Status),
		b.TotalRecords,
		b.ProcessedRecords,
		b.ErrorRecords,
		nullText(b.ErrorMessage),
		b.CreatedAt,
		b.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save import batch %s: %w", b.ID, err)
	}
	return nil
}

const getBatch = `
	SELECT id, source_type, filename, import_name, status, total_records, processed_records,
	       error_records, error_message, created_at, completed_at
	FROM import_batches
	WHERE id = $1;
`

func (s *BatchStore) Get(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	var (
		b                            domain.ImportBatch
		status                       string
		filename, name, errorMessage pgtype.Text
	)
	err := s.db.QueryRow(ctx, getBatch, id).Scan(
		&b.ID,
		&b.SourceType,
		&filename,
		&name,
		&status,
		&b.TotalRecords,
		&b.ProcessedRecords,
		&b.ErrorRecords,
		&errorMessage,
		&b.CreatedAt,
		&b.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ImportBatch{}, fmt.Errorf("import batch %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return domain.ImportBatch{}, fmt.Errorf("get import batch %s: %w", id, err)
	}
	b.Status = domain.BatchStatus(status)
	b.Filename = filename.String
	b.ImportName = name.String
	b.ErrorMessage = errorMessage.String
	return b, nil
}

var _ storage.BatchStore = (*BatchStore)(nil)
