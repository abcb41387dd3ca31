package events

import (
	"context"

	"github.com/farmaflow/farmaflow-backend/pkg/logger"
	"github.com/farmaflow/farmaflow-backend/pkg/messaging"
)

// StockEventPublisher publishes stock-related events. Publishing is
// best-effort: a broker failure is logged and never fails the operation
// that triggered it. A nil publisher is a no-op, which lets tests and
// local tooling run without a broker.
type StockEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a new stock event publisher
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, "stock-service", log)
	if err != nil {
		return nil, err
	}

	return &StockEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// StockConsumed publishes a stock consumed event
func (p *StockEventPublisher) StockConsumed(ctx context.Context, e messaging.StockConsumedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventStockConsumed, e); err != nil {
		p.logger.Error().Err(err).Str("lot_id", e.LotID).Msg("failed to publish stock consumed event")
	}
}

// StockAdjusted publishes a stock adjusted event
func (p *StockEventPublisher) StockAdjusted(ctx context.Context, e messaging.StockAdjustedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventStockAdjusted, e); err != nil {
		p.logger.Error().Err(err).Str("lot_id", e.LotID).Msg("failed to publish stock adjusted event")
	}
}

// LotExpiring publishes a near-expiry alert event
func (p *StockEventPublisher) LotExpiring(ctx context.Context, e messaging.LotExpiringEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventLotExpiring, e); err != nil {
		p.logger.Error().Err(err).Str("lot_id", e.LotID).Msg("failed to publish lot expiring event")
	}
}

// LotWrittenOff publishes a write-off event
func (p *StockEventPublisher) LotWrittenOff(ctx context.Context, e messaging.LotWrittenOffEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventLotWrittenOff, e); err != nil {
		p.logger.Error().Err(err).Str("lot_id", e.LotID).Msg("failed to publish lot written off event")
	}
}

// SyncCompleted publishes an offline reconciliation summary event
func (p *StockEventPublisher) SyncCompleted(ctx context.Context, e messaging.SyncCompletedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventSyncCompleted, e); err != nil {
		p.logger.Error().Err(err).Msg("failed to publish sync completed event")
	}
}
