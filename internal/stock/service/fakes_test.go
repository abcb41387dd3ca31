package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/farmaflow/farmaflow-backend/internal/stock/repository"
	"github.com/farmaflow/farmaflow-backend/pkg/errors"
	"github.com/farmaflow/farmaflow-backend/pkg/messaging"
)

// fakeLotStore reimplements the lot store's conditional-update semantics
// in memory: every guard the SQL enforces is enforced here too, so the
// services see the same error surface as against Postgres.
type fakeLotStore struct {
	mu        sync.Mutex
	lots      map[string]*repository.Lot
	movements []*repository.Movement

	// failReserve and failConsume force the operation on the given lot
	// to fail, for testing rollback paths.
	failReserve map[string]error
	failConsume map[string]error
}

func newFakeLotStore() *fakeLotStore {
	return &fakeLotStore{
		lots:        make(map[string]*repository.Lot),
		failReserve: make(map[string]error),
		failConsume: make(map[string]error),
	}
}

func (f *fakeLotStore) add(lot *repository.Lot) *repository.Lot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	f.lots[lot.ID] = lot
	return lot
}

func (f *fakeLotStore) appendMovement(m *repository.Movement) *repository.Movement {
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now()
	f.movements = append(f.movements, m)
	return m
}

func (f *fakeLotStore) movementsOfKind(kind repository.MovementKind) []*repository.Movement {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Movement
	for _, m := range f.movements {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeLotStore) get(id string) (*repository.Lot, error) {
	lot, ok := f.lots[id]
	if !ok {
		return nil, errors.NotFound("lot")
	}
	return lot, nil
}

func (f *fakeLotStore) Create(ctx context.Context, lot *repository.Lot, actorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	lot.CurrentQuantity = lot.InitialQuantity
	lot.ReservedQuantity = 0
	lot.IsActive = true
	lot.CreatedAt = time.Now()
	f.lots[lot.ID] = lot
	f.appendMovement(&repository.Movement{
		LotID:    lot.ID,
		Kind:     repository.MovementEntry,
		Quantity: lot.InitialQuantity,
		ActorID:  actorID,
	})
	return nil
}

func (f *fakeLotStore) GetByID(ctx context.Context, id string) (*repository.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(id)
}

func (f *fakeLotStore) GetByBarcode(ctx context.Context, barcode string) (*repository.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, lot := range f.lots {
		if lot.Barcode != nil && *lot.Barcode == barcode && lot.IsActive {
			return lot, nil
		}
	}
	return nil, errors.NotFound("lot")
}

func (f *fakeLotStore) ListByProduct(ctx context.Context, productID string) ([]*repository.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Lot
	for _, lot := range f.lots {
		if lot.ProductID == productID && lot.IsActive {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (f *fakeLotStore) ListAllocatable(ctx context.Context, productID string) ([]*repository.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Lot
	for _, lot := range f.lots {
		if lot.ProductID == productID && lot.IsActive && lot.Available() > 0 {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (f *fakeLotStore) List(ctx context.Context, filter repository.LotFilter) ([]*repository.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Lot
	for _, lot := range f.lots {
		if filter.ProductID != "" && lot.ProductID != filter.ProductID {
			continue
		}
		if filter.Active != nil && lot.IsActive != *filter.Active {
			continue
		}
		out = append(out, lot)
	}
	return out, nil
}

func (f *fakeLotStore) ListNearExpiry(ctx context.Context, withinDays int) ([]*repository.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().AddDate(0, 0, withinDays)
	var out []*repository.Lot
	for _, lot := range f.lots {
		if lot.IsActive && lot.CurrentQuantity > 0 && !lot.ExpiryDate.After(cutoff) {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (f *fakeLotStore) Update(ctx context.Context, lot *repository.Lot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, err := f.get(lot.ID)
	if err != nil {
		return err
	}
	existing.LotNumber = lot.LotNumber
	existing.Barcode = lot.Barcode
	existing.ManufactureDate = lot.ManufactureDate
	existing.ExpiryDate = lot.ExpiryDate
	existing.Notes = lot.Notes
	return nil
}

func (f *fakeLotStore) SoftDelete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lot, err := f.get(id)
	if err != nil {
		return err
	}
	lot.IsActive = false
	return nil
}

func (f *fakeLotStore) Reserve(ctx context.Context, lotID string, qty int, actorID string, reason *string) (*repository.Movement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failReserve[lotID]; ok {
		return nil, err
	}
	lot, err := f.get(lotID)
	if err != nil {
		return nil, err
	}
	if lot.Available() < qty {
		return nil, errors.InsufficientStock(fmt.Sprintf(
			"lot %s has %d available, %d requested", lot.LotNumber, lot.Available(), qty,
		))
	}
	lot.ReservedQuantity += qty
	return f.appendMovement(&repository.Movement{
		LotID:    lotID,
		Kind:     repository.MovementReserve,
		Quantity: qty,
		Reason:   reason,
		ActorID:  actorID,
	}), nil
}

func (f *fakeLotStore) Release(ctx context.Context, lotID string, qty int, actorID string, reason *string) (*repository.Movement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lot, err := f.get(lotID)
	if err != nil {
		return nil, err
	}
	released := qty
	if released > lot.ReservedQuantity {
		released = lot.ReservedQuantity
	}
	if released == 0 {
		return nil, nil
	}
	lot.ReservedQuantity -= released
	return f.appendMovement(&repository.Movement{
		LotID:    lotID,
		Kind:     repository.MovementRelease,
		Quantity: released,
		Reason:   reason,
		ActorID:  actorID,
	}), nil
}

func (f *fakeLotStore) Consume(ctx context.Context, lotID string, qty int, saleRef string, actorID string) (*repository.Movement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failConsume[lotID]; ok {
		return nil, err
	}
	lot, err := f.get(lotID)
	if err != nil {
		return nil, err
	}
	if lot.ReservedQuantity < qty {
		return nil, errors.InsufficientStock(fmt.Sprintf(
			"lot %s has %d reserved, %d requested for consumption", lot.LotNumber, lot.ReservedQuantity, qty,
		))
	}
	lot.ReservedQuantity -= qty
	lot.CurrentQuantity -= qty
	return f.appendMovement(&repository.Movement{
		LotID:    lotID,
		Kind:     repository.MovementSale,
		Quantity: qty,
		ActorID:  actorID,
		SaleRef:  &saleRef,
	}), nil
}

func (f *fakeLotStore) Adjust(ctx context.Context, lotID string, newQuantity int, reason *string, actorID string) (*repository.Movement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lot, err := f.get(lotID)
	if err != nil {
		return nil, err
	}
	if newQuantity < lot.ReservedQuantity {
		return nil, errors.Validation(map[string]string{
			"quantity": fmt.Sprintf("cannot adjust below the reserved quantity (%d)", lot.ReservedQuantity),
		})
	}
	if newQuantity > lot.InitialQuantity {
		return nil, errors.Validation(map[string]string{
			"quantity": fmt.Sprintf("cannot adjust above the initial quantity (%d)", lot.InitialQuantity),
		})
	}
	prev := lot.CurrentQuantity
	lot.CurrentQuantity = newQuantity
	return f.appendMovement(&repository.Movement{
		LotID:    lotID,
		Kind:     repository.MovementAdjust,
		Quantity: newQuantity - prev,
		Reason:   reason,
		ActorID:  actorID,
	}), nil
}

func (f *fakeLotStore) ReturnStock(ctx context.Context, lotID string, qty int, saleRef *string, actorID string) (*repository.Movement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lot, err := f.get(lotID)
	if err != nil {
		return nil, err
	}
	if lot.CurrentQuantity+qty > lot.InitialQuantity {
		return nil, errors.Validation(map[string]string{
			"quantity": "return would exceed the lot's initial quantity",
		})
	}
	lot.CurrentQuantity += qty
	return f.appendMovement(&repository.Movement{
		LotID:    lotID,
		Kind:     repository.MovementReturn,
		Quantity: qty,
		ActorID:  actorID,
		SaleRef:  saleRef,
	}), nil
}

func (f *fakeLotStore) WriteOffExpired(ctx context.Context, lotID string, reason *string, actorID string) (*repository.Movement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lot, err := f.get(lotID)
	if err != nil {
		return nil, err
	}
	if lot.ExpiryDate.After(time.Now()) {
		return nil, errors.StateConflict(fmt.Sprintf("lot %s has not expired yet", lot.LotNumber))
	}
	if lot.CurrentQuantity <= lot.ReservedQuantity {
		return nil, errors.StateConflict(fmt.Sprintf("lot %s has no unreserved stock to write off", lot.LotNumber))
	}
	writtenOff := lot.CurrentQuantity - lot.ReservedQuantity
	lot.CurrentQuantity = lot.ReservedQuantity
	return f.appendMovement(&repository.Movement{
		LotID:    lotID,
		Kind:     repository.MovementExpire,
		Quantity: writtenOff,
		Reason:   reason,
		ActorID:  actorID,
	}), nil
}

// fakeMovementStore serves ledger reads over the fake lot store's log.
type fakeMovementStore struct {
	lots *fakeLotStore
}

func (f *fakeMovementStore) ListByLot(ctx context.Context, lotID string) ([]*repository.Movement, error) {
	f.lots.mu.Lock()
	defer f.lots.mu.Unlock()
	var out []*repository.Movement
	for _, m := range f.lots.movements {
		if m.LotID == lotID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMovementStore) ListByDateRange(ctx context.Context, from, to time.Time) ([]*repository.Movement, error) {
	f.lots.mu.Lock()
	defer f.lots.mu.Unlock()
	var out []*repository.Movement
	for _, m := range f.lots.movements {
		if !m.CreatedAt.Before(from) && !m.CreatedAt.After(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMovementStore) ListBySale(ctx context.Context, saleRef string) ([]*repository.Movement, error) {
	f.lots.mu.Lock()
	defer f.lots.mu.Unlock()
	var out []*repository.Movement
	for _, m := range f.lots.movements {
		if m.SaleRef != nil && *m.SaleRef == saleRef {
			out = append(out, m)
		}
	}
	return out, nil
}

// fakeProducts is an in-memory product directory.
type fakeProducts struct {
	products map[string]*repository.Product
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{products: make(map[string]*repository.Product)}
}

func (f *fakeProducts) add(p *repository.Product) *repository.Product {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	f.products[p.ID] = p
	return p
}

func (f *fakeProducts) seed(name, barcode string) *repository.Product {
	return f.add(&repository.Product{Name: name, Barcode: &barcode, IsActive: true})
}

func (f *fakeProducts) GetByID(ctx context.Context, id string) (*repository.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, errors.NotFound("product")
	}
	return p, nil
}

func (f *fakeProducts) GetByBarcode(ctx context.Context, barcode string) (*repository.Product, error) {
	for _, p := range f.products {
		if p.Barcode != nil && *p.Barcode == barcode && p.IsActive {
			return p, nil
		}
	}
	return nil, errors.NotFound("product")
}

// fakeEvents records published events for assertions.
type fakeEvents struct {
	mu        sync.Mutex
	consumed  []messaging.StockConsumedEvent
	adjusted  []messaging.StockAdjustedEvent
	expiring  []messaging.LotExpiringEvent
	writeOffs []messaging.LotWrittenOffEvent
	syncs     []messaging.SyncCompletedEvent
}

func (f *fakeEvents) StockConsumed(ctx context.Context, e messaging.StockConsumedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumed = append(f.consumed, e)
}

func (f *fakeEvents) StockAdjusted(ctx context.Context, e messaging.StockAdjustedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adjusted = append(f.adjusted, e)
}

func (f *fakeEvents) LotExpiring(ctx context.Context, e messaging.LotExpiringEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiring = append(f.expiring, e)
}

func (f *fakeEvents) LotWrittenOff(ctx context.Context, e messaging.LotWrittenOffEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeOffs = append(f.writeOffs, e)
}

func (f *fakeEvents) SyncCompleted(ctx context.Context, e messaging.SyncCompletedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, e)
}

// fakeSyncStore is an in-memory processed_sales table.
type fakeSyncStore struct {
	mu    sync.Mutex
	sales map[string]*repository.ProcessedSale
}

func newFakeSyncStore() *fakeSyncStore {
	return &fakeSyncStore{sales: make(map[string]*repository.ProcessedSale)}
}

func (f *fakeSyncStore) Get(ctx context.Context, saleID string) (*repository.ProcessedSale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ps, ok := f.sales[saleID]
	if !ok {
		return nil, nil
	}
	return ps, nil
}

func (f *fakeSyncStore) Record(ctx context.Context, ps *repository.ProcessedSale) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.sales[ps.SaleID]; ok {
		ps.Attempts = existing.Attempts + 1
	} else {
		ps.Attempts = 1
	}
	ps.ProcessedAt = time.Now()
	f.sales[ps.SaleID] = ps
	return nil
}

func (f *fakeSyncStore) ListPending(ctx context.Context) ([]*repository.ProcessedSale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ProcessedSale
	for _, ps := range f.sales {
		if ps.Status == repository.SyncConflict {
			out = append(out, ps)
		}
	}
	return out, nil
}

func (f *fakeSyncStore) MarkResolved(ctx context.Context, saleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ps, ok := f.sales[saleID]
	if !ok || ps.Status != repository.SyncConflict {
		return errors.NotFound("pending sale")
	}
	ps.Status = repository.SyncResolved
	return nil
}
