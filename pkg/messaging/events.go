package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Stock events
	EventStockConsumed    = "stock.consumed"
	EventStockAdjusted    = "stock.adjusted"
	EventLotExpiring      = "stock.lot.expiring"
	EventLotWrittenOff    = "stock.lot.written_off"
	EventSyncCompleted    = "stock.sync.completed"
)

// Exchange names
const (
	ExchangeStockEvents = "stock.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Stock events

// StockConsumedEvent is published when reserved stock is confirmed as sold.
type StockConsumedEvent struct {
	LotID     string `json:"lot_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	SaleRef   string `json:"sale_ref"`
	ActorID   string `json:"actor_id"`
}

// StockAdjustedEvent is published on an administrative quantity correction.
type StockAdjustedEvent struct {
	LotID            string `json:"lot_id"`
	ProductID        string `json:"product_id"`
	PreviousQuantity int    `json:"previous_quantity"`
	NewQuantity      int    `json:"new_quantity"`
	Reason           string `json:"reason"`
	ActorID          string `json:"actor_id"`
}

// LotExpiringEvent is published for lots inside the near-expiry window.
type LotExpiringEvent struct {
	LotID      string    `json:"lot_id"`
	ProductID  string    `json:"product_id"`
	LotNumber  string    `json:"lot_number"`
	ExpiryDate time.Time `json:"expiry_date"`
	Available  int       `json:"available"`
}

// LotWrittenOffEvent is published when an expired lot's remainder is written off.
type LotWrittenOffEvent struct {
	LotID     string `json:"lot_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	ActorID   string `json:"actor_id"`
}

// SyncCompletedEvent is published after an offline sale batch has been reconciled.
type SyncCompletedEvent struct {
	Processed int `json:"processed"`
	Success   int `json:"success"`
	Conflict  int `json:"conflict"`
	Error     int `json:"error"`
}
