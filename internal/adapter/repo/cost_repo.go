package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"bookforge/internal/domain"
)

// CostRepositoryPG stores the append-only usage ledger. It satisfies the
// llm.CostSink contract.
type CostRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCostRepository creates a cost repository backed by PostgreSQL.
func NewCostRepository(pool *pgxpool.Pool) *CostRepositoryPG {
	return &CostRepositoryPG{pool: pool}
}

// Record appends one usage ledger entry.
func (r *CostRepositoryPG) Record(ctx context.Context, rec domain.CostRecord) error {
	query := `
INSERT INTO cost_records (user_id, manuscript_id, operation_group, operation, agent, model, input_tokens, output_tokens, cost_usd, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	_, err := r.pool.Exec(ctx, query,
		rec.UserID,
		rec.ManuscriptID,
		rec.OperationGroup,
		rec.Operation,
		rec.Agent,
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		rec.CostUSD,
		rec.CreatedAt,
	)
	return err
}

// TotalCostByUser rolls the ledger up for one user.
func (r *CostRepositoryPG) TotalCostByUser(ctx context.Context, userID string) (*domain.UsageSummary, error) {
	query := `
SELECT COUNT(*),
       COALESCE(SUM(input_tokens), 0),
       COALESCE(SUM(output_tokens), 0),
       COALESCE(SUM(cost_usd), 0)
FROM cost_records
WHERE user_id = $1;
`
	row := r.pool.QueryRow(ctx, query, userID)
	summary := domain.UsageSummary{UserID: userID}
	if err := row.Scan(
		&summary.Calls,
		&summary.InputTokens,
		&summary.OutputTokens,
		&summary.TotalCostUSD,
	); err != nil {
		return nil, err
	}
	return &summary, nil
}
