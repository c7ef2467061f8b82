package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Exchange names
const (
	ExchangeInventoryEvents    = "inventory.events"
	ExchangeNotificationEvents = "notification.events"
	ExchangeDispensingEvents   = "dispensing.events"
)

// Event types
const (
	EventGoodsReceived  = "inventory.goods.received"
	EventStockConsumed  = "inventory.stock.consumed"
	EventStockAdjusted  = "inventory.stock.adjusted"
	EventAlertGenerated = "inventory.alert.generated"
	EventAlertResolved  = "inventory.alert.resolved"

	EventEmailRequested = "notification.email.requested"

	EventItemDispensed = "dispensing.item.dispensed"
)

// Event is the envelope every message travels in
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	TenantID      string          `json:"tenant_id,omitempty"`
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

	event := &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}
	if t, ok := data.(interface{ Tenant() string }); ok {
		event.TenantID = t.Tenant()
	}
	return event, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// TenantScoped is embedded by payloads that belong to one tenant.
type TenantScoped struct {
	TenantID string `json:"tenant_id"`
}

// Tenant returns the owning tenant.
func (t TenantScoped) Tenant() string { return t.TenantID }

// GoodsReceivedLine is one batch created by a goods receipt
type GoodsReceivedLine struct {
	ItemID           string    `json:"item_id"`
	BatchID          string    `json:"batch_id"`
	BatchNumber      string    `json:"batch_number"`
	QuantityReceived int       `json:"quantity_received"`
	ExpiryDate       time.Time `json:"expiry_date"`
}

// GoodsReceivedEvent is published after a goods receipt commits
type GoodsReceivedEvent struct {
	TenantScoped
	ReceiptID       string              `json:"receipt_id"`
	ReceiptNumber   string              `json:"receipt_number"`
	PurchaseOrderID string              `json:"purchase_order_id"`
	OrderStatus     string              `json:"order_status"`
	ReceivedBy      string              `json:"received_by"`
	TotalAmount     string              `json:"total_amount"`
	Lines           []GoodsReceivedLine `json:"lines"`
}

// StockAllocation is the quantity taken from one batch
type StockAllocation struct {
	BatchID     string `json:"batch_id"`
	BatchNumber string `json:"batch_number"`
	Quantity    int    `json:"quantity"`
}

// StockConsumedEvent is published after a FEFO consumption commits
type StockConsumedEvent struct {
	TenantScoped
	ItemID      string            `json:"item_id"`
	Quantity    int               `json:"quantity"`
	Reference   string            `json:"reference,omitempty"`
	PerformedBy string            `json:"performed_by"`
	Allocations []StockAllocation `json:"allocations"`
}

// StockAdjustedEvent is published after an explicit adjustment
type StockAdjustedEvent struct {
	TenantScoped
	ItemID      string `json:"item_id"`
	BatchID     string `json:"batch_id"`
	Adjustment  int    `json:"adjustment"`
	NewQuantity int    `json:"new_quantity"`
	PerformedBy string `json:"performed_by"`
	Reason      string `json:"reason"`
}

// AlertEvent is published when an alert is raised or resolved
type AlertEvent struct {
	TenantScoped
	AlertID     string `json:"alert_id,omitempty"`
	AlertType   string `json:"alert_type"`
	Severity    string `json:"severity,omitempty"`
	Message     string `json:"message,omitempty"`
	ItemID      string `json:"item_id"`
	BatchNumber string `json:"batch_number,omitempty"`
}

// EmailRequestedEvent asks the notification service to send an email
type EmailRequestedEvent struct {
	TenantScoped
	Template       string            `json:"template"`
	RecipientID    string            `json:"recipient_id"`
	RecipientType  string            `json:"recipient_type"`
	Subject        string            `json:"subject"`
	ReferenceID    string            `json:"reference_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Variables      map[string]string `json:"variables"`
}

// ItemDispensedEvent is consumed from the dispensing service
type ItemDispensedEvent struct {
	TenantScoped
	DispenseID  string `json:"dispense_id"`
	ItemID      string `json:"item_id"`
	Quantity    int    `json:"quantity"`
	DispensedBy string `json:"dispensed_by"`
}
