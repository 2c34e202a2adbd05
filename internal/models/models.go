package models

import (
	"time"

	"github.com/google/uuid"
)

// Product represents a catalog product owned by a single vendor
type Product struct {
	ID        uuid.UUID `db:"id" json:"id"`
	VendorID  uuid.UUID `db:"vendor_id" json:"vendor_id"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	Stock     int       `db:"stock" json:"stock"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Order is the customer-facing purchase spanning one or more vendors.
// TotalAmount is fixed at creation; only Status changes afterwards.
type Order struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	CustomerID     uuid.UUID      `db:"customer_id" json:"customer_id"`
	TotalAmount    int64          `db:"total_amount" json:"total_amount"`
	Status         OrderStatus    `db:"status" json:"status"`
	IdempotencyKey NullableString `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// FulfillmentUnit is the vendor-scoped part of an order
type FulfillmentUnit struct {
	ID        uuid.UUID         `db:"id" json:"id"`
	OrderID   uuid.UUID         `db:"order_id" json:"order_id"`
	VendorID  uuid.UUID         `db:"vendor_id" json:"vendor_id"`
	Subtotal  int64             `db:"subtotal" json:"subtotal"`
	Status    FulfillmentStatus `db:"status" json:"status"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}

// LineItem is a product/quantity/price record within a fulfillment unit.
// UnitPrice is the price at purchase and is never re-derived from the catalog.
type LineItem struct {
	ID                uuid.UUID `db:"id" json:"id"`
	OrderID           uuid.UUID `db:"order_id" json:"order_id"`
	FulfillmentUnitID uuid.UUID `db:"fulfillment_unit_id" json:"fulfillment_unit_id"`
	ProductID         uuid.UUID `db:"product_id" json:"product_id"`
	VendorID          uuid.UUID `db:"vendor_id" json:"vendor_id"`
	Quantity          int       `db:"quantity" json:"quantity"`
	UnitPrice         int64     `db:"unit_price" json:"unit_price"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Amount returns price-at-purchase multiplied by quantity
func (li LineItem) Amount() int64 {
	return li.UnitPrice * int64(li.Quantity)
}

// OrderDetail is an order with all of its units and line items
type OrderDetail struct {
	Order            Order             `json:"order"`
	FulfillmentUnits []FulfillmentUnit `json:"fulfillment_units"`
	LineItems        []LineItem        `json:"line_items"`
}
