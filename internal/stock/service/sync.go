package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farmaflow/farmaflow-backend/internal/stock/allocation"
	"github.com/farmaflow/farmaflow-backend/internal/stock/repository"
	"github.com/farmaflow/farmaflow-backend/pkg/actor"
	"github.com/farmaflow/farmaflow-backend/pkg/errors"
	"github.com/farmaflow/farmaflow-backend/pkg/logger"
	"github.com/farmaflow/farmaflow-backend/pkg/messaging"
)

// OfflineSaleItem is one line of a sale captured while the terminal was
// offline.
type OfflineSaleItem struct {
	ProductID   string          `json:"product_id" validate:"required,uuid"`
	ProductName string          `json:"product_name" validate:"required"`
	Quantity    int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"required"`
}

// OfflineSaleEnvelope is a sale replayed from an offline terminal. The
// checksum covers the envelope's identifying fields and every item so
// tampering or truncation in transit is detected before any stock moves.
type OfflineSaleEnvelope struct {
	SaleID          string            `json:"sale_id" validate:"required"`
	ClientTimestamp time.Time         `json:"client_timestamp" validate:"required"`
	Items           []OfflineSaleItem `json:"items" validate:"required,min=1,dive"`
	Checksum        string            `json:"checksum" validate:"required"`
}

// Total sums quantity times unit price across the envelope's items.
func (e *OfflineSaleEnvelope) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range e.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// ComputeChecksum derives the integrity checksum for an envelope: the
// SHA-256 hex digest of the sale id, the client timestamp in RFC 3339
// UTC, and each item's product id, quantity, unit price and name, in
// item order. Both the offline terminal and the server compute it the
// same way.
func ComputeChecksum(saleID string, clientTimestamp time.Time, items []OfflineSaleItem) string {
	var b strings.Builder
	b.WriteString(saleID)
	b.WriteString("|")
	b.WriteString(clientTimestamp.UTC().Format(time.RFC3339))
	for _, item := range items {
		b.WriteString("|")
		b.WriteString(item.ProductID)
		b.WriteString(":")
		b.WriteString(fmt.Sprintf("%d", item.Quantity))
		b.WriteString(":")
		b.WriteString(item.UnitPrice.String())
		b.WriteString(":")
		b.WriteString(item.ProductName)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// SyncStore is the idempotency ledger for replayed offline sales.
type SyncStore interface {
	Get(ctx context.Context, saleID string) (*repository.ProcessedSale, error)
	Record(ctx context.Context, ps *repository.ProcessedSale) error
	ListPending(ctx context.Context) ([]*repository.ProcessedSale, error)
	MarkResolved(ctx context.Context, saleID string) error
}

// SaleFulfiller is the slice of the stock service the reconciler drives.
type SaleFulfiller interface {
	PlanAllocation(ctx context.Context, productID string, qty int) (*allocation.Plan, error)
	ReservePlan(ctx context.Context, plan *allocation.Plan, reason string) error
	ConfirmPlan(ctx context.Context, plan *allocation.Plan, saleRef string) (int, error)
	ReleasePlan(ctx context.Context, plan *allocation.Plan, reason string)
}

// SyncResult is the per-envelope outcome of a reconciliation batch.
type SyncResult struct {
	SaleID  string                 `json:"sale_id"`
	Outcome repository.SyncOutcome `json:"outcome"`
	Detail  string                 `json:"detail,omitempty"`
}

// SyncReport aggregates a reconciliation batch.
type SyncReport struct {
	Processed int          `json:"processed"`
	Success   int          `json:"success"`
	Duplicate int          `json:"duplicate"`
	Conflict  int          `json:"conflict"`
	Error     int          `json:"error"`
	Results   []SyncResult `json:"results"`
}

// SyncService reconciles sales captured by offline terminals against
// current stock. Envelopes are independent: one failing sale never
// blocks the rest of the batch.
type SyncService struct {
	sales     SyncStore
	stock     SaleFulfiller
	publisher EventPublisher
	logger    *logger.Logger
}

// NewSyncService creates a new sync service
func NewSyncService(sales SyncStore, stock SaleFulfiller, publisher EventPublisher, log *logger.Logger) *SyncService {
	return &SyncService{
		sales:     sales,
		stock:     stock,
		publisher: publisher,
		logger:    log,
	}
}

// ProcessBatch replays a batch of offline sales. Each envelope is
// checked for integrity, screened against the idempotency ledger, then
// fulfilled all-or-nothing across its items. An empty batch is a no-op.
func (s *SyncService) ProcessBatch(ctx context.Context, envelopes []OfflineSaleEnvelope) (*SyncReport, error) {
	report := &SyncReport{Results: make([]SyncResult, 0, len(envelopes))}

	for i := range envelopes {
		result := s.processEnvelope(ctx, &envelopes[i])
		report.Results = append(report.Results, result)
		report.Processed++

		switch result.Outcome {
		case repository.SyncSuccess:
			report.Success++
		case repository.SyncDuplicate:
			report.Duplicate++
		case repository.SyncConflict:
			report.Conflict++
		default:
			report.Error++
		}
	}

	if report.Processed > 0 {
		s.logger.Info().
			Int("processed", report.Processed).
			Int("success", report.Success).
			Int("duplicate", report.Duplicate).
			Int("conflict", report.Conflict).
			Int("error", report.Error).
			Msg("offline sale batch reconciled")

		if s.publisher != nil {
			s.publisher.SyncCompleted(ctx, messaging.SyncCompletedEvent{
				Processed: report.Processed,
				Success:   report.Success,
				Conflict:  report.Conflict,
				Error:     report.Error,
			})
		}
	}
	return report, nil
}

func (s *SyncService) processEnvelope(ctx context.Context, env *OfflineSaleEnvelope) SyncResult {
	if err := s.verify(env); err != nil {
		// Integrity failures are not recorded: the envelope cannot be
		// trusted to identify the sale it claims to be.
		return SyncResult{SaleID: env.SaleID, Outcome: repository.SyncError, Detail: err.Error()}
	}

	previous, err := s.sales.Get(ctx, env.SaleID)
	if err != nil {
		return s.record(ctx, env, repository.SyncError, "failed to check processing history: "+err.Error())
	}
	if previous != nil && (previous.Status == repository.SyncSuccess || previous.Status == repository.SyncResolved) {
		return SyncResult{SaleID: env.SaleID, Outcome: repository.SyncDuplicate, Detail: "sale already processed"}
	}

	if outcome, detail := s.fulfill(ctx, env); outcome != repository.SyncSuccess {
		return s.record(ctx, env, outcome, detail)
	}
	return s.record(ctx, env, repository.SyncSuccess, "")
}

func (s *SyncService) verify(env *OfflineSaleEnvelope) error {
	if env.SaleID == "" {
		return errors.Validation(map[string]string{"sale_id": "this field is required"})
	}
	if len(env.Items) == 0 {
		return errors.Validation(map[string]string{"items": "at least one item is required"})
	}
	for i, item := range env.Items {
		if item.Quantity <= 0 {
			return errors.Validation(map[string]string{
				fmt.Sprintf("items[%d].quantity", i): "must be greater than zero",
			})
		}
	}

	expected := ComputeChecksum(env.SaleID, env.ClientTimestamp, env.Items)
	if env.Checksum != expected {
		return errors.IntegrityFailure(fmt.Sprintf("checksum mismatch for sale %s", env.SaleID))
	}
	return nil
}

// fulfill consumes stock for every item of the envelope, all-or-nothing.
// Plans are reserved before anything is confirmed so a shortage on the
// last item leaves no stock consumed.
func (s *SyncService) fulfill(ctx context.Context, env *OfflineSaleEnvelope) (repository.SyncOutcome, string) {
	plans := make([]*allocation.Plan, 0, len(env.Items))
	reason := "offline sale " + env.SaleID

	rollback := func() {
		for _, plan := range plans {
			s.stock.ReleasePlan(ctx, plan, reason)
		}
	}

	for _, item := range env.Items {
		plan, err := s.stock.PlanAllocation(ctx, item.ProductID, item.Quantity)
		if err != nil {
			rollback()
			return classify(err), err.Error()
		}
		if !plan.Satisfiable() {
			rollback()
			return repository.SyncConflict, fmt.Sprintf(
				"insufficient stock for product %s: %d of %d units available",
				item.ProductID, plan.Allocated, plan.Requested,
			)
		}
		if err := s.stock.ReservePlan(ctx, plan, reason); err != nil {
			rollback()
			return classify(err), err.Error()
		}
		plans = append(plans, plan)
	}

	for i, plan := range plans {
		confirmed, err := s.stock.ConfirmPlan(ctx, plan, env.SaleID)
		if err != nil {
			// Confirmed lines are consumed; release only the lines still
			// reserved, never another sale's share of the same lots.
			if confirmed < len(plan.Lines) {
				remainder := *plan
				remainder.Lines = plan.Lines[confirmed:]
				s.stock.ReleasePlan(ctx, &remainder, reason)
			}
			for _, pending := range plans[i+1:] {
				s.stock.ReleasePlan(ctx, pending, reason)
			}
			return classify(err), err.Error()
		}
	}
	return repository.SyncSuccess, ""
}

func (s *SyncService) record(ctx context.Context, env *OfflineSaleEnvelope, outcome repository.SyncOutcome, detail string) SyncResult {
	ps := &repository.ProcessedSale{
		SaleID:          env.SaleID,
		Status:          outcome,
		Total:           env.Total(),
		ClientTimestamp: env.ClientTimestamp,
		ActorID:         actor.IDOrSystem(ctx),
	}
	if detail != "" {
		ps.Detail = &detail
	}

	if err := s.sales.Record(ctx, ps); err != nil {
		s.logger.Error().Err(err).Str("sale_id", env.SaleID).Msg("failed to record sale outcome")
		if outcome == repository.SyncSuccess {
			// Stock already moved; surface the sale as successful anyway and
			// rely on the next replay hitting the conditional insert.
			return SyncResult{SaleID: env.SaleID, Outcome: repository.SyncSuccess}
		}
		return SyncResult{SaleID: env.SaleID, Outcome: repository.SyncError, Detail: err.Error()}
	}
	return SyncResult{SaleID: env.SaleID, Outcome: outcome, Detail: detail}
}

// ListPending lists conflicted sales awaiting retry or manual resolution
func (s *SyncService) ListPending(ctx context.Context) ([]*repository.ProcessedSale, error) {
	return s.sales.ListPending(ctx)
}

// Resolve marks a conflicted sale as handled outside the system, e.g.
// after a manual stock correction. Resolved sales short-circuit as
// duplicates if the terminal replays them again.
func (s *SyncService) Resolve(ctx context.Context, saleID string) error {
	return s.sales.MarkResolved(ctx, saleID)
}

func classify(err error) repository.SyncOutcome {
	if errors.Is(err, errors.ErrInsufficientStock) || errors.Is(err, errors.ErrNotFound) {
		return repository.SyncConflict
	}
	return repository.SyncError
}
