package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmaflow/farmaflow-backend/pkg/logger"
)

func TestExpiryScannerFlagsNearExpiryLots(t *testing.T) {
	ctx := context.Background()
	lots := newFakeLotStore()
	events := &fakeEvents{}
	log := logger.New("expiry-scanner-test", "test")

	near := seedLot(lots, "prod-1", time.Now().AddDate(0, 0, 5), 20, 0)
	seedLot(lots, "prod-1", time.Now().AddDate(1, 0, 0), 20, 0)

	empty := seedLot(lots, "prod-1", time.Now().AddDate(0, 0, 5), 10, 0)
	empty.CurrentQuantity = 0

	scanner := NewExpiryScanner(lots, events, 30, time.Hour, log)
	scanner.Scan(ctx)

	require.Len(t, events.expiring, 1)
	assert.Equal(t, near.ID, events.expiring[0].LotID)
	assert.Equal(t, near.LotNumber, events.expiring[0].LotNumber)
	assert.Equal(t, 20, events.expiring[0].Available)
}

func TestExpiryScannerNoEventsWhenNothingNearExpiry(t *testing.T) {
	ctx := context.Background()
	lots := newFakeLotStore()
	events := &fakeEvents{}
	log := logger.New("expiry-scanner-test", "test")

	seedLot(lots, "prod-1", time.Now().AddDate(2, 0, 0), 20, 0)

	scanner := NewExpiryScanner(lots, events, 30, time.Hour, log)
	scanner.Scan(ctx)

	assert.Empty(t, events.expiring)
}

func TestExpiryScannerNilPublisher(t *testing.T) {
	ctx := context.Background()
	lots := newFakeLotStore()
	log := logger.New("expiry-scanner-test", "test")
	seedLot(lots, "prod-1", time.Now().AddDate(0, 0, 5), 20, 0)

	scanner := NewExpiryScanner(lots, nil, 30, time.Hour, log)
	assert.NotPanics(t, func() { scanner.Scan(ctx) })
}
