package service

import (
	"context"
	"time"

	"github.com/farmaflow/farmaflow-backend/pkg/logger"
	"github.com/farmaflow/farmaflow-backend/pkg/messaging"
)

// ExpiryScanner periodically sweeps lots inside the near-expiry window
// and publishes an alert event per lot. It never mutates stock; writing
// off expired remainders stays an explicit operator action.
type ExpiryScanner struct {
	lots       LotStore
	publisher  EventPublisher
	windowDays int
	interval   time.Duration
	logger     *logger.Logger
	cancel     context.CancelFunc
}

// NewExpiryScanner creates a new expiry scanner
func NewExpiryScanner(
	lots LotStore,
	publisher EventPublisher,
	windowDays int,
	interval time.Duration,
	log *logger.Logger,
) *ExpiryScanner {
	return &ExpiryScanner{
		lots:       lots,
		publisher:  publisher,
		windowDays: windowDays,
		interval:   interval,
		logger:     log,
	}
}

// Start runs the scanner until the context is cancelled or Stop is
// called. One scan runs immediately so alerts are not delayed by a full
// interval after startup.
func (s *ExpiryScanner) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info().
			Dur("interval", s.interval).
			Int("window_days", s.windowDays).
			Msg("expiry scanner started")

		s.Scan(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("expiry scanner stopped")
				return
			case <-ticker.C:
				s.Scan(ctx)
			}
		}
	}()
}

// Stop stops the scanner goroutine
func (s *ExpiryScanner) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Scan runs a single sweep. Exported so an admin endpoint or test can
// trigger it outside the timer.
func (s *ExpiryScanner) Scan(ctx context.Context) {
	lots, err := s.lots.ListNearExpiry(ctx, s.windowDays)
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry scan failed")
		return
	}
	if len(lots) == 0 {
		return
	}

	for _, lot := range lots {
		if s.publisher != nil {
			s.publisher.LotExpiring(ctx, messaging.LotExpiringEvent{
				LotID:      lot.ID,
				ProductID:  lot.ProductID,
				LotNumber:  lot.LotNumber,
				ExpiryDate: lot.ExpiryDate,
				Available:  lot.Available(),
			})
		}
	}

	s.logger.Info().Int("lots", len(lots)).Msg("near-expiry lots flagged")
}
