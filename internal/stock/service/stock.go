package service

import (
	"context"
	"fmt"
	"time"

	"github.com/farmaflow/farmaflow-backend/internal/stock/allocation"
	"github.com/farmaflow/farmaflow-backend/internal/stock/repository"
	"github.com/farmaflow/farmaflow-backend/pkg/actor"
	"github.com/farmaflow/farmaflow-backend/pkg/errors"
	"github.com/farmaflow/farmaflow-backend/pkg/logger"
	"github.com/farmaflow/farmaflow-backend/pkg/messaging"
)

// LotStore is the narrow persistence surface the stock service needs.
// The conditional-update contract matters: Reserve, Consume, Adjust,
// ReturnStock and WriteOffExpired check and mutate in a single atomic
// statement and pair every change with a ledger movement.
type LotStore interface {
	Create(ctx context.Context, lot *repository.Lot, actorID string) error
	GetByID(ctx context.Context, id string) (*repository.Lot, error)
	GetByBarcode(ctx context.Context, barcode string) (*repository.Lot, error)
	ListByProduct(ctx context.Context, productID string) ([]*repository.Lot, error)
	ListAllocatable(ctx context.Context, productID string) ([]*repository.Lot, error)
	List(ctx context.Context, filter repository.LotFilter) ([]*repository.Lot, error)
	ListNearExpiry(ctx context.Context, withinDays int) ([]*repository.Lot, error)
	Update(ctx context.Context, lot *repository.Lot) error
	SoftDelete(ctx context.Context, id string) error

	Reserve(ctx context.Context, lotID string, qty int, actorID string, reason *string) (*repository.Movement, error)
	Release(ctx context.Context, lotID string, qty int, actorID string, reason *string) (*repository.Movement, error)
	Consume(ctx context.Context, lotID string, qty int, saleRef string, actorID string) (*repository.Movement, error)
	Adjust(ctx context.Context, lotID string, newQuantity int, reason *string, actorID string) (*repository.Movement, error)
	ReturnStock(ctx context.Context, lotID string, qty int, saleRef *string, actorID string) (*repository.Movement, error)
	WriteOffExpired(ctx context.Context, lotID string, reason *string, actorID string) (*repository.Movement, error)
}

// MovementStore reads the append-only ledger.
type MovementStore interface {
	ListByLot(ctx context.Context, lotID string) ([]*repository.Movement, error)
	ListByDateRange(ctx context.Context, from, to time.Time) ([]*repository.Movement, error)
	ListBySale(ctx context.Context, saleRef string) ([]*repository.Movement, error)
}

// ProductDirectory resolves catalog products. The catalog itself is an
// external collaborator; only lookups cross into this subsystem.
type ProductDirectory interface {
	GetByID(ctx context.Context, id string) (*repository.Product, error)
	GetByBarcode(ctx context.Context, barcode string) (*repository.Product, error)
}

// EventPublisher publishes stock events. Implementations must be
// best-effort; the service never fails an operation on publish errors.
type EventPublisher interface {
	StockConsumed(ctx context.Context, e messaging.StockConsumedEvent)
	StockAdjusted(ctx context.Context, e messaging.StockAdjustedEvent)
	LotExpiring(ctx context.Context, e messaging.LotExpiringEvent)
	LotWrittenOff(ctx context.Context, e messaging.LotWrittenOffEvent)
	SyncCompleted(ctx context.Context, e messaging.SyncCompletedEvent)
}

// StockService handles lot lifecycle and the reservation/consumption
// protocol.
type StockService struct {
	lots           LotStore
	movements      MovementStore
	products       ProductDirectory
	publisher      EventPublisher
	nearExpiryDays int
	logger         *logger.Logger
}

// NewStockService creates a new stock service
func NewStockService(
	lots LotStore,
	movements MovementStore,
	products ProductDirectory,
	publisher EventPublisher,
	nearExpiryDays int,
	log *logger.Logger,
) *StockService {
	return &StockService{
		lots:           lots,
		movements:      movements,
		products:       products,
		publisher:      publisher,
		nearExpiryDays: nearExpiryDays,
		logger:         log,
	}
}

// Lot lifecycle

// CreateLot validates and creates a lot with its initial ENTRY movement.
func (s *StockService) CreateLot(ctx context.Context, lot *repository.Lot) error {
	details := map[string]string{}
	if lot.InitialQuantity <= 0 {
		details["initial_quantity"] = "must be greater than zero"
	}
	if !lot.ExpiryDate.After(lot.ManufactureDate) {
		details["expiry_date"] = "must be after the manufacture date"
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}

	if _, err := s.products.GetByID(ctx, lot.ProductID); err != nil {
		return err
	}

	if err := s.lots.Create(ctx, lot, actor.IDOrSystem(ctx)); err != nil {
		return err
	}

	s.enrich(lot)
	s.logger.Info().
		Str("lot_id", lot.ID).
		Str("product_id", lot.ProductID).
		Int("quantity", lot.InitialQuantity).
		Msg("lot created")
	return nil
}

// GetLot gets a lot by ID
func (s *StockService) GetLot(ctx context.Context, id string) (*repository.Lot, error) {
	lot, err := s.lots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.enrich(lot)
	return lot, nil
}

// GetLotByBarcode gets an active lot by barcode
func (s *StockService) GetLotByBarcode(ctx context.Context, barcode string) (*repository.Lot, error) {
	lot, err := s.lots.GetByBarcode(ctx, barcode)
	if err != nil {
		return nil, err
	}
	s.enrich(lot)
	return lot, nil
}

// ListLots lists lots matching the filter
func (s *StockService) ListLots(ctx context.Context, filter repository.LotFilter) ([]*repository.Lot, error) {
	lots, err := s.lots.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	s.enrichAll(lots)
	return lots, nil
}

// ListLotsByProduct lists a product's active lots in FEFO order
func (s *StockService) ListLotsByProduct(ctx context.Context, productID string) ([]*repository.Lot, error) {
	lots, err := s.lots.ListByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	s.enrichAll(lots)
	return lots, nil
}

// ListNearExpiry lists lots expiring within the window. Zero days means
// the configured default.
func (s *StockService) ListNearExpiry(ctx context.Context, withinDays int) ([]*repository.Lot, error) {
	if withinDays <= 0 {
		withinDays = s.nearExpiryDays
	}
	lots, err := s.lots.ListNearExpiry(ctx, withinDays)
	if err != nil {
		return nil, err
	}
	s.enrichAll(lots)
	return lots, nil
}

// UpdateLot updates a lot's mutable fields. Quantities are off limits;
// they change only through the reservation protocol and adjustments.
func (s *StockService) UpdateLot(ctx context.Context, lot *repository.Lot) error {
	if !lot.ExpiryDate.After(lot.ManufactureDate) {
		return errors.Validation(map[string]string{
			"expiry_date": "must be after the manufacture date",
		})
	}
	return s.lots.Update(ctx, lot)
}

// DeleteLot soft-deletes a lot
func (s *StockService) DeleteLot(ctx context.Context, id string) error {
	lot, err := s.lots.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if lot.ReservedQuantity > 0 {
		return errors.StateConflict(fmt.Sprintf(
			"lot %s has %d units reserved and cannot be deactivated", lot.LotNumber, lot.ReservedQuantity,
		))
	}
	return s.lots.SoftDelete(ctx, id)
}

// ListMovements lists the ledger for a lot
func (s *StockService) ListMovements(ctx context.Context, lotID string) ([]*repository.Movement, error) {
	if _, err := s.lots.GetByID(ctx, lotID); err != nil {
		return nil, err
	}
	return s.movements.ListByLot(ctx, lotID)
}

// Reservation/consumption protocol

// Reserve earmarks qty on a lot
func (s *StockService) Reserve(ctx context.Context, lotID string, qty int, reason string) (*repository.Movement, error) {
	if qty <= 0 {
		return nil, errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}
	return s.lots.Reserve(ctx, lotID, qty, actor.IDOrSystem(ctx), optional(reason))
}

// Release returns up to qty of a lot's reservation to availability
func (s *StockService) Release(ctx context.Context, lotID string, qty int, reason string) (*repository.Movement, error) {
	if qty <= 0 {
		return nil, errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}
	return s.lots.Release(ctx, lotID, qty, actor.IDOrSystem(ctx), optional(reason))
}

// Confirm consumes previously reserved stock under a sale reference.
// The only path that permanently reduces stock for a sale.
func (s *StockService) Confirm(ctx context.Context, lotID string, qty int, saleRef string) (*repository.Movement, error) {
	if qty <= 0 {
		return nil, errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}
	if saleRef == "" {
		return nil, errors.Validation(map[string]string{"sale_ref": "this field is required"})
	}

	actorID := actor.IDOrSystem(ctx)
	movement, err := s.lots.Consume(ctx, lotID, qty, saleRef, actorID)
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		if lot, lotErr := s.lots.GetByID(ctx, lotID); lotErr == nil {
			s.publisher.StockConsumed(ctx, messaging.StockConsumedEvent{
				LotID:     lotID,
				ProductID: lot.ProductID,
				Quantity:  qty,
				SaleRef:   saleRef,
				ActorID:   actorID,
			})
		}
	}
	return movement, nil
}

// DirectAdjust sets a lot's quantity to an absolute value as an
// administrative correction.
func (s *StockService) DirectAdjust(ctx context.Context, lotID string, newQuantity int, reason string) (*repository.Movement, error) {
	if newQuantity < 0 {
		return nil, errors.Validation(map[string]string{"quantity": "must not be negative"})
	}
	if reason == "" {
		return nil, errors.Validation(map[string]string{"reason": "this field is required"})
	}

	actorID := actor.IDOrSystem(ctx)
	movement, err := s.lots.Adjust(ctx, lotID, newQuantity, &reason, actorID)
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		if lot, lotErr := s.lots.GetByID(ctx, lotID); lotErr == nil {
			s.publisher.StockAdjusted(ctx, messaging.StockAdjustedEvent{
				LotID:            lotID,
				ProductID:        lot.ProductID,
				PreviousQuantity: newQuantity - movement.Quantity,
				NewQuantity:      newQuantity,
				Reason:           reason,
				ActorID:          actorID,
			})
		}
	}
	return movement, nil
}

// Return puts sold stock back onto a lot
func (s *StockService) Return(ctx context.Context, lotID string, qty int, saleRef string) (*repository.Movement, error) {
	if qty <= 0 {
		return nil, errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}
	return s.lots.ReturnStock(ctx, lotID, qty, optional(saleRef), actor.IDOrSystem(ctx))
}

// WriteOffExpired writes off the unreserved remainder of an expired lot
func (s *StockService) WriteOffExpired(ctx context.Context, lotID string, reason string) (*repository.Movement, error) {
	actorID := actor.IDOrSystem(ctx)
	movement, err := s.lots.WriteOffExpired(ctx, lotID, optional(reason), actorID)
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		if lot, lotErr := s.lots.GetByID(ctx, lotID); lotErr == nil {
			s.publisher.LotWrittenOff(ctx, messaging.LotWrittenOffEvent{
				LotID:     lotID,
				ProductID: lot.ProductID,
				Quantity:  movement.Quantity,
				ActorID:   actorID,
			})
		}
	}
	return movement, nil
}

// Sale fulfillment

// PlanAllocation produces a FEFO fulfillment plan without mutating stock.
func (s *StockService) PlanAllocation(ctx context.Context, productID string, qty int) (*allocation.Plan, error) {
	if qty <= 0 {
		return nil, errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return nil, err
	}

	lots, err := s.lots.ListAllocatable(ctx, productID)
	if err != nil {
		return nil, err
	}
	return allocation.Build(productID, qty, lots), nil
}

// ReservePlan reserves every line of a plan. If any reservation fails,
// all reservations made in this attempt are released before the error
// surfaces; no partial reservation survives a failed plan.
func (s *StockService) ReservePlan(ctx context.Context, plan *allocation.Plan, reason string) error {
	if !plan.Satisfiable() {
		return errors.InsufficientStock(fmt.Sprintf(
			"product %s is short %d units", plan.ProductID, plan.Unmet,
		))
	}

	actorID := actor.IDOrSystem(ctx)
	reserved := make([]allocation.Line, 0, len(plan.Lines))

	for _, line := range plan.Lines {
		if _, err := s.lots.Reserve(ctx, line.LotID, line.Quantity, actorID, optional(reason)); err != nil {
			s.rollbackReservations(ctx, reserved, actorID, "")
			return err
		}
		reserved = append(reserved, line)
	}
	return nil
}

// ReleasePlan releases every line of a previously reserved plan. The
// reason lands on each RELEASE ledger entry.
func (s *StockService) ReleasePlan(ctx context.Context, plan *allocation.Plan, reason string) {
	s.rollbackReservations(ctx, plan.Lines, actor.IDOrSystem(ctx), reason)
}

// ConfirmPlan consumes every line of a previously reserved plan under
// the sale reference. It returns how many lines were confirmed so that
// on failure the caller can release exactly the unconfirmed remainder;
// confirmed lines are consumed and must not be released.
func (s *StockService) ConfirmPlan(ctx context.Context, plan *allocation.Plan, saleRef string) (int, error) {
	for i, line := range plan.Lines {
		if _, err := s.Confirm(ctx, line.LotID, line.Quantity, saleRef); err != nil {
			return i, err
		}
	}
	return len(plan.Lines), nil
}

// FulfillSale plans, reserves and immediately confirms a sale line.
// Used for point-of-sale flows where payment already completed.
func (s *StockService) FulfillSale(ctx context.Context, productID string, qty int, saleRef string) (*allocation.Plan, error) {
	plan, err := s.PlanAllocation(ctx, productID, qty)
	if err != nil {
		return nil, err
	}

	if err := s.ReservePlan(ctx, plan, "sale "+saleRef); err != nil {
		return nil, err
	}
	if confirmed, err := s.ConfirmPlan(ctx, plan, saleRef); err != nil {
		s.rollbackReservations(ctx, plan.Lines[confirmed:], actor.IDOrSystem(ctx), "sale "+saleRef)
		return nil, err
	}
	return plan, nil
}

func (s *StockService) rollbackReservations(ctx context.Context, lines []allocation.Line, actorID, reason string) {
	if reason == "" {
		reason = "reservation rollback"
	}
	for _, line := range lines {
		if _, err := s.lots.Release(ctx, line.LotID, line.Quantity, actorID, &reason); err != nil {
			// The clamped release cannot over-release; a failure here means
			// the lot vanished mid-flight. Log and keep releasing the rest.
			s.logger.Error().Err(err).
				Str("lot_id", line.LotID).
				Int("quantity", line.Quantity).
				Msg("failed to release reservation during rollback")
		}
	}
}

func (s *StockService) enrich(lot *repository.Lot) {
	lot.ExpiryStatus = lot.Status(time.Now(), s.nearExpiryDays)
}

func (s *StockService) enrichAll(lots []*repository.Lot) {
	for _, lot := range lots {
		s.enrich(lot)
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
