package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farmaflow/farmaflow-backend/pkg/database"
	"github.com/farmaflow/farmaflow-backend/pkg/errors"
)

// SyncOutcome is the closed set of per-envelope reconciliation results.
type SyncOutcome string

const (
	SyncSuccess   SyncOutcome = "SUCCESS"
	SyncConflict  SyncOutcome = "CONFLICT"
	SyncDuplicate SyncOutcome = "DUPLICATE"
	SyncError     SyncOutcome = "ERROR"

	// SyncResolved marks a conflicted sale an operator has dealt with
	// manually; it then counts as processed for the duplicate check.
	SyncResolved SyncOutcome = "RESOLVED"
)

// ProcessedSale is the idempotency record for a replayed offline sale.
// SUCCESS and RESOLVED entries short-circuit as DUPLICATE on replay;
// CONFLICT entries stay visible for retry and are attempted fresh.
type ProcessedSale struct {
	SaleID          string          `db:"sale_id" json:"sale_id"`
	Status          SyncOutcome     `db:"status" json:"status"`
	Detail          *string         `db:"detail" json:"detail,omitempty"`
	Total           decimal.Decimal `db:"total" json:"total"`
	ClientTimestamp time.Time       `db:"client_timestamp" json:"client_timestamp"`
	ActorID         string          `db:"actor_id" json:"actor_id"`
	Attempts        int             `db:"attempts" json:"attempts"`
	ProcessedAt     time.Time       `db:"processed_at" json:"processed_at"`
}

// SyncRepository persists offline-sale idempotency records
type SyncRepository struct {
	db *database.DB
}

// NewSyncRepository creates a new sync repository
func NewSyncRepository(db *database.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// Get fetches the processing record for a sale id, nil if never seen.
func (r *SyncRepository) Get(ctx context.Context, saleID string) (*ProcessedSale, error) {
	var ps ProcessedSale
	query := `SELECT * FROM processed_sales WHERE sale_id = $1`
	if err := r.db.GetContext(ctx, &ps, query, saleID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &ps, nil
}

// Record upserts the processing record for a sale id, bumping the
// attempt counter on retries.
func (r *SyncRepository) Record(ctx context.Context, ps *ProcessedSale) error {
	query := `
		INSERT INTO processed_sales (sale_id, status, detail, total, client_timestamp, actor_id, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT (sale_id) DO UPDATE SET
			status = EXCLUDED.status,
			detail = EXCLUDED.detail,
			attempts = processed_sales.attempts + 1,
			processed_at = NOW()
		RETURNING attempts, processed_at
	`
	return r.db.QueryRowxContext(ctx, query,
		ps.SaleID, ps.Status, ps.Detail, ps.Total, ps.ClientTimestamp, ps.ActorID,
	).Scan(&ps.Attempts, &ps.ProcessedAt)
}

// ListPending lists conflicted sales awaiting retry or manual resolution
func (r *SyncRepository) ListPending(ctx context.Context) ([]*ProcessedSale, error) {
	var sales []*ProcessedSale
	query := `
		SELECT * FROM processed_sales
		WHERE status = $1
		ORDER BY client_timestamp, sale_id
	`
	if err := r.db.SelectContext(ctx, &sales, query, SyncConflict); err != nil {
		return nil, err
	}
	return sales, nil
}

// MarkResolved marks a conflicted sale as manually resolved
func (r *SyncRepository) MarkResolved(ctx context.Context, saleID string) error {
	query := `
		UPDATE processed_sales SET status = $2, processed_at = NOW()
		WHERE sale_id = $1 AND status = $3
	`
	result, err := r.db.ExecContext(ctx, query, saleID, SyncResolved, SyncConflict)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("pending sale")
	}
	return nil
}
