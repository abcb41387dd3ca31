// Package allocation plans how a requested quantity is satisfied from a
// product's lots, first-expired-first-out. Planning is pure: it never
// mutates stock. Callers reserve and confirm the planned lines through
// the stock service.
package allocation

import (
	"sort"
	"time"

	"github.com/farmaflow/farmaflow-backend/internal/stock/repository"
)

// Line is one planned draw from a single lot.
type Line struct {
	LotID      string    `json:"lot_id"`
	LotNumber  string    `json:"lot_number"`
	Quantity   int       `json:"quantity"`
	ExpiryDate time.Time `json:"expiry_date"`
}

// Plan is an ordered fulfillment plan for one (product, quantity) request.
type Plan struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Allocated int    `json:"allocated"`
	Unmet     int    `json:"unmet"`
	Lines     []Line `json:"lines"`
}

// Satisfiable reports whether the plan covers the full requested quantity.
func (p *Plan) Satisfiable() bool {
	return p.Unmet == 0
}

// Build greedily allocates requested units across the given lots in FEFO
// order: soonest expiry first, older manufacture breaking ties, lot id as
// the final tie-break for determinism. Inactive lots and lots without
// available stock are skipped.
func Build(productID string, requested int, lots []*repository.Lot) *Plan {
	plan := &Plan{
		ProductID: productID,
		Requested: requested,
		Lines:     []Line{},
	}
	if requested <= 0 {
		return plan
	}

	candidates := make([]*repository.Lot, 0, len(lots))
	for _, lot := range lots {
		if lot.IsActive && lot.Available() > 0 {
			candidates = append(candidates, lot)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.ExpiryDate.Equal(b.ExpiryDate) {
			return a.ExpiryDate.Before(b.ExpiryDate)
		}
		if !a.ManufactureDate.Equal(b.ManufactureDate) {
			return a.ManufactureDate.Before(b.ManufactureDate)
		}
		return a.ID < b.ID
	})

	remaining := requested
	for _, lot := range candidates {
		if remaining == 0 {
			break
		}

		take := lot.Available()
		if take > remaining {
			take = remaining
		}

		plan.Lines = append(plan.Lines, Line{
			LotID:      lot.ID,
			LotNumber:  lot.LotNumber,
			Quantity:   take,
			ExpiryDate: lot.ExpiryDate,
		})
		remaining -= take
	}

	plan.Allocated = requested - remaining
	plan.Unmet = remaining
	return plan
}
