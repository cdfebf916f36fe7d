package pg

import (
	"errors"
	"fmt"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// SQLSTATE codes caused by the data of a single row rather than by the
// connection or the schema.
var recordCodes = map[string]string{
	"23505": "unique violation",
	"23514": "check violation",
	"23502": "not null violation",
	"23503": "foreign key violation",
	"22001": "value too long",
	"22003": "numeric value out of range",
	"22P02": "invalid text representation",
}

// classify turns row-level constraint errors into apperr.RecordError so
// the stage fails the record instead of retrying the chunk.
func classify(key string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if reason, ok := recordCodes[pgErr.Code]; ok {
			return apperr.NewRecord(key, fmt.Errorf("%s: %s: %w", reason, pgErr.ConstraintName, err))
		}
	}
	return err
}

func numeric(p *domain.Price) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if p == nil {
		return n, nil
	}
	if err := n.Scan(p.String()); err != nil {
		return n, fmt.Errorf("encode price %s: %w", p, err)
	}
	return n, nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
