package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/farmaflow/farmaflow-backend/pkg/database"
)

// MovementKind is the closed set of stock movement types.
type MovementKind string

const (
	MovementEntry   MovementKind = "ENTRY"
	MovementReserve MovementKind = "RESERVE"
	MovementRelease MovementKind = "RELEASE"
	MovementSale    MovementKind = "SALE"
	MovementAdjust  MovementKind = "ADJUST"
	MovementExpire  MovementKind = "EXPIRE"
	MovementReturn  MovementKind = "RETURN"
)

// Movement is an immutable ledger entry. Every quantity change on a lot
// has exactly one movement written in the same transaction; the ledger
// is append-only.
type Movement struct {
	ID        string       `db:"id" json:"id"`
	LotID     string       `db:"lot_id" json:"lot_id"`
	Kind      MovementKind `db:"kind" json:"kind"`
	Quantity  int          `db:"quantity" json:"quantity"`
	Reason    *string      `db:"reason" json:"reason,omitempty"`
	ActorID   string       `db:"actor_id" json:"actor_id"`
	SaleRef   *string      `db:"sale_ref" json:"sale_ref,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// MovementRepository handles ledger persistence
type MovementRepository struct {
	db *database.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *database.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// AppendTx appends a movement within an existing transaction. Callers
// pair this with the quantity update so both commit or roll back together.
func (r *MovementRepository) AppendTx(ctx context.Context, tx *sqlx.Tx, m *Movement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_movements (id, lot_id, kind, quantity, reason, actor_id, sale_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	return tx.QueryRowxContext(ctx, query,
		m.ID, m.LotID, m.Kind, m.Quantity, m.Reason, m.ActorID, m.SaleRef,
	).Scan(&m.CreatedAt)
}

// ListByLot lists movements for a lot, newest first
func (r *MovementRepository) ListByLot(ctx context.Context, lotID string) ([]*Movement, error) {
	var movements []*Movement
	query := `
		SELECT * FROM stock_movements
		WHERE lot_id = $1
		ORDER BY created_at DESC, id
	`
	if err := r.db.SelectContext(ctx, &movements, query, lotID); err != nil {
		return nil, err
	}
	return movements, nil
}

// ListByDateRange lists movements between from and to (inclusive)
func (r *MovementRepository) ListByDateRange(ctx context.Context, from, to time.Time) ([]*Movement, error) {
	var movements []*Movement
	query := `
		SELECT * FROM stock_movements
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at, id
	`
	if err := r.db.SelectContext(ctx, &movements, query, from, to); err != nil {
		return nil, err
	}
	return movements, nil
}

// ListBySale lists movements that reference an originating sale.
// Used when diagnosing reconciliation conflicts.
func (r *MovementRepository) ListBySale(ctx context.Context, saleRef string) ([]*Movement, error) {
	var movements []*Movement
	query := `
		SELECT * FROM stock_movements
		WHERE sale_ref = $1
		ORDER BY created_at, id
	`
	if err := r.db.SelectContext(ctx, &movements, query, saleRef); err != nil {
		return nil, err
	}
	return movements, nil
}
