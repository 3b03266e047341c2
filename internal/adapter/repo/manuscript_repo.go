package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bookforge/internal/domain"
)

// ManuscriptRepositoryPG reads and updates manuscript records in PostgreSQL.
// Rows are inserted by the upload service; this service only looks them up
// and moves their status.
type ManuscriptRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewManuscriptRepository creates a manuscript repository backed by PostgreSQL.
func NewManuscriptRepository(pool *pgxpool.Pool) *ManuscriptRepositoryPG {
	return &ManuscriptRepositoryPG{pool: pool}
}

// UpdateStatusByKey moves the manuscript identified by storage key to the
// given status. Illegal transitions are filtered in SQL: analyzing only from
// uploaded or a re-run of a finished manuscript, terminal states only from
// analyzing. An update that matches no row is not an error; the progress
// record is the canonical run state and the column is advisory.
func (r *ManuscriptRepositoryPG) UpdateStatusByKey(ctx context.Context, storageKey string, status domain.ManuscriptStatus) error {
	query := `
UPDATE manuscripts
SET status = $2,
    updated_at = NOW()
WHERE storage_key = $1
  AND (
    ($2 = 'analyzing' AND status IN ('uploaded', 'complete', 'failed'))
    OR ($2 IN ('complete', 'failed') AND status = 'analyzing')
  );
`
	_, err := r.pool.Exec(ctx, query, storageKey, status)
	return err
}

// GetByKey fetches a manuscript by its storage key.
func (r *ManuscriptRepositoryPG) GetByKey(ctx context.Context, storageKey string) (*domain.Manuscript, error) {
	query := `
SELECT id, user_id, title, genre, storage_key, size_bytes, status, created_at, updated_at
FROM manuscripts
WHERE storage_key = $1;
`
	row := r.pool.QueryRow(ctx, query, storageKey)
	var m domain.Manuscript
	if err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.Title,
		&m.Genre,
		&m.StorageKey,
		&m.SizeBytes,
		&m.Status,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}
