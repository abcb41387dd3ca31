// Package session provides the keyed TTL store backing two-scan
// verification sessions. The store is pluggable so multi-instance
// deployments can share session state through Redis instead of relying
// on process memory.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a session is missing or past its TTL.
var ErrNotFound = errors.New("session not found")

// Step is the closed set of verification session states.
type Step string

const (
	StepProduct  Step = "PRODUCT"
	StepLot      Step = "LOT"
	StepComplete Step = "COMPLETE"
)

// ProductRef is the product matched by the first scan.
type ProductRef struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	SalePrice decimal.Decimal `json:"sale_price"`
}

// LotRef is the lot matched by the second scan.
type LotRef struct {
	ID         string    `json:"id"`
	LotNumber  string    `json:"lot_number"`
	ExpiryDate time.Time `json:"expiry_date"`
	Available  int       `json:"available"`
}

// Session is a short-lived two-scan verification workflow. It gates
// which (product, lot) pair a caller may consume; it never mutates stock.
type Session struct {
	ID        string      `json:"id"`
	Step      Step        `json:"step"`
	Product   *ProductRef `json:"product,omitempty"`
	Lot       *LotRef     `json:"lot,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Expired reports whether the session is past its TTL.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store is a keyed TTL store for verification sessions. Reads of expired
// sessions behave as not-found.
type Store interface {
	// Put stores a session under its ID with the given TTL, replacing
	// any previous value.
	Put(ctx context.Context, s *Session, ttl time.Duration) error

	// Get fetches a live session. Returns ErrNotFound for missing or
	// expired sessions.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
}
