package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductFixture represents test product data
type ProductFixture struct {
	ID        string
	Name      string
	Barcode   string
	SalePrice decimal.Decimal
	IsActive  bool
	CreatedAt time.Time
}

// LotFixture represents test lot data
type LotFixture struct {
	ID               string
	ProductID        string
	LotNumber        string
	Barcode          string
	ManufactureDate  time.Time
	ExpiryDate       time.Time
	InitialQuantity  int
	CurrentQuantity  int
	ReservedQuantity int
	UnitCost         decimal.Decimal
	SupplierID       *string
	IsActive         bool
	CreatedAt        time.Time
}

// OfflineSaleFixture represents a sale captured by an offline terminal
type OfflineSaleFixture struct {
	SaleID          string
	ClientTimestamp time.Time
	ProductID       string
	ProductName     string
	Quantity        int
	UnitPrice       decimal.Decimal
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Product creates a product fixture with defaults
func (f *FixtureFactory) Product(opts ...func(*ProductFixture)) ProductFixture {
	seq := f.nextSeq()

	product := ProductFixture{
		ID:        uuid.New().String(),
		Name:      fmt.Sprintf("Paracetamol %d mg", 100*seq),
		Barcode:   fmt.Sprintf("7750001%06d", seq),
		SalePrice: decimal.NewFromFloat(12.50),
		IsActive:  true,
		CreatedAt: time.Now(),
	}

	for _, opt := range opts {
		opt(&product)
	}

	return product
}

// WithProductName sets the product name
func WithProductName(name string) func(*ProductFixture) {
	return func(p *ProductFixture) {
		p.Name = name
	}
}

// WithProductBarcode sets the product barcode
func WithProductBarcode(barcode string) func(*ProductFixture) {
	return func(p *ProductFixture) {
		p.Barcode = barcode
	}
}

// WithSalePrice sets the product sale price
func WithSalePrice(price decimal.Decimal) func(*ProductFixture) {
	return func(p *ProductFixture) {
		p.SalePrice = price
	}
}

// Lot creates a lot fixture with defaults: 100 units, nothing reserved,
// expiring in a year.
func (f *FixtureFactory) Lot(productID string, opts ...func(*LotFixture)) LotFixture {
	seq := f.nextSeq()
	now := time.Now()

	lot := LotFixture{
		ID:               uuid.New().String(),
		ProductID:        productID,
		LotNumber:        fmt.Sprintf("LOT-%04d", seq),
		Barcode:          fmt.Sprintf("7759999%06d", seq),
		ManufactureDate:  now.AddDate(0, -6, 0),
		ExpiryDate:       now.AddDate(1, 0, 0),
		InitialQuantity:  100,
		CurrentQuantity:  100,
		ReservedQuantity: 0,
		UnitCost:         decimal.NewFromFloat(4.20),
		IsActive:         true,
		CreatedAt:        now,
	}

	for _, opt := range opts {
		opt(&lot)
	}

	return lot
}

// WithQuantities sets initial, current and reserved quantities
func WithQuantities(initial, current, reserved int) func(*LotFixture) {
	return func(l *LotFixture) {
		l.InitialQuantity = initial
		l.CurrentQuantity = current
		l.ReservedQuantity = reserved
	}
}

// WithExpiry sets the lot expiry date
func WithExpiry(expiry time.Time) func(*LotFixture) {
	return func(l *LotFixture) {
		l.ExpiryDate = expiry
	}
}

// WithManufactureDate sets the lot manufacture date
func WithManufactureDate(date time.Time) func(*LotFixture) {
	return func(l *LotFixture) {
		l.ManufactureDate = date
	}
}

// WithLotNumber sets the lot number
func WithLotNumber(number string) func(*LotFixture) {
	return func(l *LotFixture) {
		l.LotNumber = number
	}
}

// WithLotBarcode sets the lot barcode
func WithLotBarcode(barcode string) func(*LotFixture) {
	return func(l *LotFixture) {
		l.Barcode = barcode
	}
}

// ExpiredLot creates a lot fixture that expired a month ago
func (f *FixtureFactory) ExpiredLot(productID string, opts ...func(*LotFixture)) LotFixture {
	now := time.Now()
	base := append([]func(*LotFixture){
		WithManufactureDate(now.AddDate(-2, 0, 0)),
		WithExpiry(now.AddDate(0, -1, 0)),
	}, opts...)
	return f.Lot(productID, base...)
}

// OfflineSale creates an offline sale fixture with defaults
func (f *FixtureFactory) OfflineSale(productID string, opts ...func(*OfflineSaleFixture)) OfflineSaleFixture {
	seq := f.nextSeq()

	sale := OfflineSaleFixture{
		SaleID:          fmt.Sprintf("POS1-%06d", seq),
		ClientTimestamp: time.Now().Add(-2 * time.Hour).UTC().Truncate(time.Second),
		ProductID:       productID,
		ProductName:     "Paracetamol 500 mg",
		Quantity:        2,
		UnitPrice:       decimal.NewFromFloat(12.50),
	}

	for _, opt := range opts {
		opt(&sale)
	}

	return sale
}

// WithSaleID sets the offline sale id
func WithSaleID(id string) func(*OfflineSaleFixture) {
	return func(s *OfflineSaleFixture) {
		s.SaleID = id
	}
}

// WithSaleQuantity sets the offline sale quantity
func WithSaleQuantity(qty int) func(*OfflineSaleFixture) {
	return func(s *OfflineSaleFixture) {
		s.Quantity = qty
	}
}
