package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/farmaflow/farmaflow-backend/pkg/database"
	"github.com/farmaflow/farmaflow-backend/pkg/errors"
)

// LotStatus is derived from the expiration date, never stored.
type LotStatus string

const (
	LotStatusValid      LotStatus = "VALID"
	LotStatusNearExpiry LotStatus = "NEAR_EXPIRY"
	LotStatusExpired    LotStatus = "EXPIRED"
)

// Lot represents a physical batch of one product.
//
// Invariant: 0 <= reserved_quantity <= current_quantity <= initial_quantity.
// Quantities are only ever changed through the conditional-update methods
// below, each paired with a movement in the same transaction.
type Lot struct {
	ID               string          `db:"id" json:"id"`
	ProductID        string          `db:"product_id" json:"product_id"`
	LotNumber        string          `db:"lot_number" json:"lot_number"`
	Barcode          *string         `db:"barcode" json:"barcode,omitempty"`
	ManufactureDate  time.Time       `db:"manufacture_date" json:"manufacture_date"`
	ExpiryDate       time.Time       `db:"expiry_date" json:"expiry_date"`
	InitialQuantity  int             `db:"initial_quantity" json:"initial_quantity"`
	CurrentQuantity  int             `db:"current_quantity" json:"current_quantity"`
	ReservedQuantity int             `db:"reserved_quantity" json:"reserved_quantity"`
	UnitCost         decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	SupplierID       *string         `db:"supplier_id" json:"supplier_id,omitempty"`
	Notes            *string         `db:"notes" json:"notes,omitempty"`
	IsActive         bool            `db:"is_active" json:"is_active"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`

	// Computed fields
	AvailableQuantity int       `db:"-" json:"available_quantity"`
	ExpiryStatus      LotStatus `db:"-" json:"expiry_status,omitempty"`
}

// Available returns the quantity not yet earmarked by a reservation.
func (l *Lot) Available() int {
	return l.CurrentQuantity - l.ReservedQuantity
}

// Status derives the lot's expiry status for the given alert window.
func (l *Lot) Status(now time.Time, nearExpiryDays int) LotStatus {
	if !l.ExpiryDate.After(now) {
		return LotStatusExpired
	}
	if !l.ExpiryDate.After(now.AddDate(0, 0, nearExpiryDays)) {
		return LotStatusNearExpiry
	}
	return LotStatusValid
}

func (l *Lot) finalize() {
	l.AvailableQuantity = l.Available()
}

// LotFilter narrows List results.
type LotFilter struct {
	ProductID      string
	SupplierID     string
	Active         *bool
	ExpiringBefore *time.Time
	SortBy         string // expiry_date (default), created_at, lot_number
}

// LotRepository handles lot persistence. All quantity mutations are
// single conditional UPDATE statements, never read-then-write pairs, so
// concurrent callers against the same lot cannot oversell.
type LotRepository struct {
	db        *database.DB
	movements *MovementRepository
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *database.DB, movements *MovementRepository) *LotRepository {
	return &LotRepository{db: db, movements: movements}
}

// Create inserts a lot and its initial ENTRY movement in one transaction.
// Fails with CONFLICT if (product_id, lot_number) already exists.
func (r *LotRepository) Create(ctx context.Context, lot *Lot, actorID string) error {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	lot.CurrentQuantity = lot.InitialQuantity
	lot.ReservedQuantity = 0
	lot.IsActive = true

	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO lots (
				id, product_id, lot_number, barcode, manufacture_date, expiry_date,
				initial_quantity, current_quantity, reserved_quantity, unit_cost,
				supplier_id, notes, is_active
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING created_at, updated_at
		`
		if err := tx.QueryRowxContext(ctx, query,
			lot.ID, lot.ProductID, lot.LotNumber, lot.Barcode, lot.ManufactureDate,
			lot.ExpiryDate, lot.InitialQuantity, lot.CurrentQuantity, lot.ReservedQuantity,
			lot.UnitCost, lot.SupplierID, lot.Notes, lot.IsActive,
		).Scan(&lot.CreatedAt, &lot.UpdatedAt); err != nil {
			return err
		}

		return r.movements.AppendTx(ctx, tx, &Movement{
			LotID:    lot.ID,
			Kind:     MovementEntry,
			Quantity: lot.InitialQuantity,
			ActorID:  actorID,
		})
	})
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	lot.finalize()
	return nil
}

// GetByID gets a lot by ID
func (r *LotRepository) GetByID(ctx context.Context, id string) (*Lot, error) {
	var lot Lot
	query := `SELECT * FROM lots WHERE id = $1`
	if err := r.db.GetContext(ctx, &lot, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	lot.finalize()
	return &lot, nil
}

// GetByBarcode gets an active lot by its scannable barcode
func (r *LotRepository) GetByBarcode(ctx context.Context, barcode string) (*Lot, error) {
	var lot Lot
	query := `SELECT * FROM lots WHERE barcode = $1 AND is_active = true`
	if err := r.db.GetContext(ctx, &lot, query, barcode); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	lot.finalize()
	return &lot, nil
}

// ListByProduct lists active lots for a product in FEFO order
func (r *LotRepository) ListByProduct(ctx context.Context, productID string) ([]*Lot, error) {
	var lots []*Lot
	query := `
		SELECT * FROM lots
		WHERE product_id = $1 AND is_active = true
		ORDER BY expiry_date, manufacture_date, id
	`
	if err := r.db.SelectContext(ctx, &lots, query, productID); err != nil {
		return nil, err
	}
	finalizeAll(lots)
	return lots, nil
}

// ListAllocatable lists active lots of a product with available stock,
// in FEFO order. Input for the allocation engine.
func (r *LotRepository) ListAllocatable(ctx context.Context, productID string) ([]*Lot, error) {
	var lots []*Lot
	query := `
		SELECT * FROM lots
		WHERE product_id = $1 AND is_active = true
		AND current_quantity - reserved_quantity > 0
		ORDER BY expiry_date, manufacture_date, id
	`
	if err := r.db.SelectContext(ctx, &lots, query, productID); err != nil {
		return nil, err
	}
	finalizeAll(lots)
	return lots, nil
}

// List lists lots matching the filter
func (r *LotRepository) List(ctx context.Context, filter LotFilter) ([]*Lot, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		conditions = append(conditions, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.SupplierID != "" {
		args = append(args, filter.SupplierID)
		conditions = append(conditions, fmt.Sprintf("supplier_id = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if filter.ExpiringBefore != nil {
		args = append(args, *filter.ExpiringBefore)
		conditions = append(conditions, fmt.Sprintf("expiry_date <= $%d", len(args)))
	}

	sortBy := "expiry_date"
	switch filter.SortBy {
	case "created_at", "lot_number":
		sortBy = filter.SortBy
	}

	query := fmt.Sprintf(
		`SELECT * FROM lots WHERE %s ORDER BY %s, id`,
		strings.Join(conditions, " AND "), sortBy,
	)

	var lots []*Lot
	if err := r.db.SelectContext(ctx, &lots, query, args...); err != nil {
		return nil, err
	}
	finalizeAll(lots)
	return lots, nil
}

// ListNearExpiry lists active lots with remaining stock expiring within days
func (r *LotRepository) ListNearExpiry(ctx context.Context, withinDays int) ([]*Lot, error) {
	var lots []*Lot
	query := `
		SELECT * FROM lots
		WHERE is_active = true AND current_quantity > 0
		AND expiry_date <= NOW() + INTERVAL '1 day' * $1
		ORDER BY expiry_date, manufacture_date, id
	`
	if err := r.db.SelectContext(ctx, &lots, query, withinDays); err != nil {
		return nil, err
	}
	finalizeAll(lots)
	return lots, nil
}

// Update updates the mutable fields of a lot. Quantities are never
// touched here.
func (r *LotRepository) Update(ctx context.Context, lot *Lot) error {
	query := `
		UPDATE lots SET
			lot_number = $2, barcode = $3, manufacture_date = $4, expiry_date = $5,
			unit_cost = $6, supplier_id = $7, notes = $8, updated_at = NOW()
		WHERE id = $1 AND is_active = true
	`
	result, err := r.db.ExecContext(ctx, query,
		lot.ID, lot.LotNumber, lot.Barcode, lot.ManufactureDate, lot.ExpiryDate,
		lot.UnitCost, lot.SupplierID, lot.Notes,
	)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("lot")
	}
	return nil
}

// SoftDelete deactivates a lot. Terminal: lots are never physically deleted.
func (r *LotRepository) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE lots SET is_active = false, updated_at = NOW() WHERE id = $1 AND is_active = true`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("lot")
	}
	return nil
}

// Reserve earmarks qty on a lot if, and only if, enough unreserved stock
// is present. The availability check and the increment are one statement.
func (r *LotRepository) Reserve(ctx context.Context, lotID string, qty int, actorID string, reason *string) (*Movement, error) {
	movement := &Movement{
		LotID:    lotID,
		Kind:     MovementReserve,
		Quantity: qty,
		Reason:   reason,
		ActorID:  actorID,
	}

	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE lots
			SET reserved_quantity = reserved_quantity + $2, updated_at = NOW()
			WHERE id = $1 AND is_active = true
			AND current_quantity - reserved_quantity >= $2
		`
		result, err := tx.ExecContext(ctx, query, lotID, qty)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return r.explainQuantityFailure(ctx, tx, lotID, qty)
		}

		return r.movements.AppendTx(ctx, tx, movement)
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// Release returns up to qty of a lot's reserved quantity to availability.
// The decrement is clamped at the reserved amount, so releasing more than
// is reserved (e.g. a retried rollback) is safe. Returns nil when there
// was nothing left to release.
func (r *LotRepository) Release(ctx context.Context, lotID string, qty int, actorID string, reason *string) (*Movement, error) {
	var movement *Movement

	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			WITH target AS (
				SELECT id, LEAST(reserved_quantity, $2::int) AS release_qty
				FROM lots
				WHERE id = $1 AND is_active = true
				FOR UPDATE
			)
			UPDATE lots l
			SET reserved_quantity = l.reserved_quantity - target.release_qty, updated_at = NOW()
			FROM target
			WHERE l.id = target.id
			RETURNING target.release_qty
		`
		var released int
		if err := tx.QueryRowxContext(ctx, query, lotID, qty).Scan(&released); err != nil {
			if err == sql.ErrNoRows {
				return errors.NotFound("lot")
			}
			return err
		}
		if released == 0 {
			return nil
		}

		movement = &Movement{
			LotID:    lotID,
			Kind:     MovementRelease,
			Quantity: released,
			Reason:   reason,
			ActorID:  actorID,
		}
		return r.movements.AppendTx(ctx, tx, movement)
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// Consume permanently removes qty previously reserved stock from a lot
// and records the SALE movement. The only path that reduces stock for a sale.
func (r *LotRepository) Consume(ctx context.Context, lotID string, qty int, saleRef string, actorID string) (*Movement, error) {
	movement := &Movement{
		LotID:    lotID,
		Kind:     MovementSale,
		Quantity: qty,
		ActorID:  actorID,
		SaleRef:  &saleRef,
	}

	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE lots
			SET current_quantity = current_quantity - $2,
				reserved_quantity = reserved_quantity - $2,
				updated_at = NOW()
			WHERE id = $1 AND is_active = true AND reserved_quantity >= $2
		`
		result, err := tx.ExecContext(ctx, query, lotID, qty)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return r.explainConsumeFailure(ctx, tx, lotID, qty)
		}

		return r.movements.AppendTx(ctx, tx, movement)
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// Adjust sets a lot's current quantity to an absolute value as an
// administrative correction. Rejected when the new quantity would fall
// below the reserved amount or exceed the initial quantity.
func (r *LotRepository) Adjust(ctx context.Context, lotID string, newQuantity int, reason *string, actorID string) (*Movement, error) {
	var movement *Movement

	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			WITH target AS (
				SELECT id, current_quantity AS prev_qty
				FROM lots
				WHERE id = $1 AND is_active = true
				AND $2 >= reserved_quantity AND $2 <= initial_quantity
				FOR UPDATE
			)
			UPDATE lots l
			SET current_quantity = $2, updated_at = NOW()
			FROM target
			WHERE l.id = target.id
			RETURNING target.prev_qty
		`
		var prev int
		if err := tx.QueryRowxContext(ctx, query, lotID, newQuantity).Scan(&prev); err != nil {
			if err == sql.ErrNoRows {
				return r.explainAdjustFailure(ctx, tx, lotID, newQuantity)
			}
			return err
		}

		movement = &Movement{
			LotID:    lotID,
			Kind:     MovementAdjust,
			Quantity: newQuantity - prev,
			Reason:   reason,
			ActorID:  actorID,
		}
		return r.movements.AppendTx(ctx, tx, movement)
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// ReturnStock puts qty back onto a lot after a returned sale, capped at
// the lot's initial quantity.
func (r *LotRepository) ReturnStock(ctx context.Context, lotID string, qty int, saleRef *string, actorID string) (*Movement, error) {
	movement := &Movement{
		LotID:    lotID,
		Kind:     MovementReturn,
		Quantity: qty,
		ActorID:  actorID,
		SaleRef:  saleRef,
	}

	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE lots
			SET current_quantity = current_quantity + $2, updated_at = NOW()
			WHERE id = $1 AND is_active = true
			AND current_quantity + $2 <= initial_quantity
		`
		result, err := tx.ExecContext(ctx, query, lotID, qty)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			if _, err := r.lockLot(ctx, tx, lotID); err != nil {
				return err
			}
			return errors.Validation(map[string]string{
				"quantity": "return would exceed the lot's initial quantity",
			})
		}

		return r.movements.AppendTx(ctx, tx, movement)
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// WriteOffExpired zeroes the unreserved remainder of an expired lot and
// records an EXPIRE movement with the written-off amount.
func (r *LotRepository) WriteOffExpired(ctx context.Context, lotID string, reason *string, actorID string) (*Movement, error) {
	var movement *Movement

	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			WITH target AS (
				SELECT id, current_quantity - reserved_quantity AS write_off
				FROM lots
				WHERE id = $1 AND is_active = true
				AND expiry_date < NOW()
				AND current_quantity > reserved_quantity
				FOR UPDATE
			)
			UPDATE lots l
			SET current_quantity = l.reserved_quantity, updated_at = NOW()
			FROM target
			WHERE l.id = target.id
			RETURNING target.write_off
		`
		var writtenOff int
		if err := tx.QueryRowxContext(ctx, query, lotID).Scan(&writtenOff); err != nil {
			if err == sql.ErrNoRows {
				return r.explainWriteOffFailure(ctx, tx, lotID)
			}
			return err
		}

		movement = &Movement{
			LotID:    lotID,
			Kind:     MovementExpire,
			Quantity: writtenOff,
			Reason:   reason,
			ActorID:  actorID,
		}
		return r.movements.AppendTx(ctx, tx, movement)
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// lockLot fetches a lot within the transaction, for error diagnosis after
// a conditional update matched no row.
func (r *LotRepository) lockLot(ctx context.Context, tx *sqlx.Tx, lotID string) (*Lot, error) {
	var lot Lot
	query := `SELECT * FROM lots WHERE id = $1 AND is_active = true`
	if err := tx.GetContext(ctx, &lot, query, lotID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	return &lot, nil
}

func (r *LotRepository) explainQuantityFailure(ctx context.Context, tx *sqlx.Tx, lotID string, qty int) error {
	lot, err := r.lockLot(ctx, tx, lotID)
	if err != nil {
		return err
	}
	return errors.InsufficientStock(fmt.Sprintf(
		"lot %s has %d available, %d requested", lot.LotNumber, lot.Available(), qty,
	))
}

func (r *LotRepository) explainConsumeFailure(ctx context.Context, tx *sqlx.Tx, lotID string, qty int) error {
	lot, err := r.lockLot(ctx, tx, lotID)
	if err != nil {
		return err
	}
	return errors.InsufficientStock(fmt.Sprintf(
		"lot %s has %d reserved, %d requested for consumption", lot.LotNumber, lot.ReservedQuantity, qty,
	))
}

func (r *LotRepository) explainAdjustFailure(ctx context.Context, tx *sqlx.Tx, lotID string, newQuantity int) error {
	lot, err := r.lockLot(ctx, tx, lotID)
	if err != nil {
		return err
	}
	if newQuantity < lot.ReservedQuantity {
		return errors.Validation(map[string]string{
			"quantity": fmt.Sprintf("cannot adjust below the reserved quantity (%d)", lot.ReservedQuantity),
		})
	}
	return errors.Validation(map[string]string{
		"quantity": fmt.Sprintf("cannot adjust above the initial quantity (%d)", lot.InitialQuantity),
	})
}

func (r *LotRepository) explainWriteOffFailure(ctx context.Context, tx *sqlx.Tx, lotID string) error {
	lot, err := r.lockLot(ctx, tx, lotID)
	if err != nil {
		return err
	}
	if lot.ExpiryDate.After(time.Now()) {
		return errors.StateConflict(fmt.Sprintf("lot %s has not expired yet", lot.LotNumber))
	}
	return errors.StateConflict(fmt.Sprintf("lot %s has no unreserved stock to write off", lot.LotNumber))
}

func finalizeAll(lots []*Lot) {
	for _, l := range lots {
		l.finalize()
	}
}
