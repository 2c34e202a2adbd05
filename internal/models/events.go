package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeOrderPlaced             = "ORDER_PLACED"
	EventTypeFulfillmentStatusChange = "FULFILLMENT_STATUS_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderPlacedEvent published after a checkout transaction commits
type OrderPlacedEvent struct {
	BaseEvent
	OrderID          uuid.UUID             `json:"order_id"`
	CustomerID       uuid.UUID             `json:"customer_id"`
	TotalAmount      int64                 `json:"total_amount"`
	FulfillmentUnits []FulfillmentUnitData `json:"fulfillment_units"`
}

// FulfillmentUnitData represents a unit in events
type FulfillmentUnitData struct {
	FulfillmentUnitID uuid.UUID      `json:"fulfillment_unit_id"`
	VendorID          uuid.UUID      `json:"vendor_id"`
	Subtotal          int64          `json:"subtotal"`
	Items             []LineItemData `json:"items"`
}

// LineItemData represents a line item in events
type LineItemData struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
}

// FulfillmentStatusChangedEvent published after a unit status update commits
type FulfillmentStatusChangedEvent struct {
	BaseEvent
	OrderID           uuid.UUID         `json:"order_id"`
	FulfillmentUnitID uuid.UUID         `json:"fulfillment_unit_id"`
	VendorID          uuid.UUID         `json:"vendor_id"`
	PreviousStatus    FulfillmentStatus `json:"previous_status"`
	Status            FulfillmentStatus `json:"status"`
	OrderStatus       OrderStatus       `json:"order_status"`
}
