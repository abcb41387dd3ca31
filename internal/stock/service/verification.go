package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/farmaflow/farmaflow-backend/internal/stock/repository"
	"github.com/farmaflow/farmaflow-backend/internal/stock/session"
	"github.com/farmaflow/farmaflow-backend/pkg/errors"
	"github.com/farmaflow/farmaflow-backend/pkg/logger"
)

// LotLookup resolves lots by barcode for the second scan.
type LotLookup interface {
	GetByBarcode(ctx context.Context, barcode string) (*repository.Lot, error)
}

// VerificationService runs the two-scan dispensing check: the product's
// shelf barcode first, then the barcode of the physical lot being taken.
// A completed session attests that the pair matches; it never moves
// stock itself.
type VerificationService struct {
	sessions session.Store
	products ProductDirectory
	lots     LotLookup
	ttl      time.Duration
	logger   *logger.Logger
}

// NewVerificationService creates a new verification service
func NewVerificationService(
	sessions session.Store,
	products ProductDirectory,
	lots LotLookup,
	ttl time.Duration,
	log *logger.Logger,
) *VerificationService {
	return &VerificationService{
		sessions: sessions,
		products: products,
		lots:     lots,
		ttl:      ttl,
		logger:   log,
	}
}

// Start opens a new session awaiting the product scan.
func (s *VerificationService) Start(ctx context.Context) (*session.Session, error) {
	sess := &session.Session{
		ID:        uuid.New().String(),
		Step:      session.StepProduct,
		CreatedAt: time.Now(),
	}

	if err := s.sessions.Put(ctx, sess, s.ttl); err != nil {
		return nil, err
	}

	s.logger.Debug().Str("session_id", sess.ID).Msg("verification session started")
	return sess, nil
}

// Get fetches a session; expired sessions surface as 410.
func (s *VerificationService) Get(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, errors.SessionExpired()
		}
		return nil, err
	}
	return sess, nil
}

// SubmitScan advances a session with a scanned barcode. Which entity the
// barcode must resolve to depends on the session's current step; each
// accepted scan resets the TTL.
func (s *VerificationService) SubmitScan(ctx context.Context, sessionID, barcode string) (*session.Session, error) {
	if barcode == "" {
		return nil, errors.Validation(map[string]string{"barcode": "this field is required"})
	}

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch sess.Step {
	case session.StepProduct:
		err = s.applyProductScan(ctx, sess, barcode)
	case session.StepLot:
		err = s.applyLotScan(ctx, sess, barcode)
	case session.StepComplete:
		return nil, errors.StateConflict("verification session is already complete")
	default:
		return nil, errors.Internal(fmt.Sprintf("unknown session step %q", sess.Step))
	}
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Put(ctx, sess, s.ttl); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *VerificationService) applyProductScan(ctx context.Context, sess *session.Session, barcode string) error {
	product, err := s.products.GetByBarcode(ctx, barcode)
	if err != nil {
		return err
	}

	sess.Product = &session.ProductRef{
		ID:        product.ID,
		Name:      product.Name,
		SalePrice: product.SalePrice,
	}
	sess.Step = session.StepLot

	s.logger.Debug().
		Str("session_id", sess.ID).
		Str("product_id", product.ID).
		Msg("product scan accepted")
	return nil
}

func (s *VerificationService) applyLotScan(ctx context.Context, sess *session.Session, barcode string) error {
	lot, err := s.lots.GetByBarcode(ctx, barcode)
	if err != nil {
		return err
	}

	if lot.ProductID != sess.Product.ID {
		return errors.StateConflict(fmt.Sprintf(
			"lot %s belongs to a different product than the one scanned", lot.LotNumber,
		))
	}
	if lot.Available() <= 0 {
		return errors.InsufficientStock(fmt.Sprintf("lot %s has no available stock", lot.LotNumber))
	}
	if !lot.ExpiryDate.After(time.Now()) {
		return errors.StateConflict(fmt.Sprintf(
			"lot %s expired on %s and must not be dispensed", lot.LotNumber, lot.ExpiryDate.Format("2006-01-02"),
		))
	}

	sess.Lot = &session.LotRef{
		ID:         lot.ID,
		LotNumber:  lot.LotNumber,
		ExpiryDate: lot.ExpiryDate,
		Available:  lot.Available(),
	}
	sess.Step = session.StepComplete

	s.logger.Debug().
		Str("session_id", sess.ID).
		Str("lot_id", lot.ID).
		Msg("lot scan accepted, verification complete")
	return nil
}

// Finalize consumes a completed session and returns its verified
// (product, lot) pair. The session is deleted so it cannot attest twice.
func (s *VerificationService) Finalize(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Step != session.StepComplete {
		return nil, errors.StateConflict("verification session has not completed both scans")
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return nil, err
	}
	return sess, nil
}

// Cancel abandons a session. Cancelling a missing or expired session is
// not an error.
func (s *VerificationService) Cancel(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}
