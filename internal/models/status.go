package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
)

// FulfillmentStatus is the vendor-settable status of a fulfillment unit
type FulfillmentStatus string

const (
	FulfillmentStatusProcessing FulfillmentStatus = "PROCESSING"
	FulfillmentStatusShipped    FulfillmentStatus = "SHIPPED"
	FulfillmentStatusDelivered  FulfillmentStatus = "DELIVERED"
	FulfillmentStatusCancelled  FulfillmentStatus = "CANCELLED"
)

// Valid reports whether s is one of the four unit states
func (s FulfillmentStatus) Valid() bool {
	switch s {
	case FulfillmentStatusProcessing, FulfillmentStatusShipped,
		FulfillmentStatusDelivered, FulfillmentStatusCancelled:
		return true
	}
	return false
}

// OrderStatus is the derived status of a parent order
type OrderStatus string

const (
	OrderStatusProcessing       OrderStatus = "PROCESSING"
	OrderStatusPartiallyShipped OrderStatus = "PARTIALLY_SHIPPED"
	OrderStatusShipped          OrderStatus = "SHIPPED"
	OrderStatusDelivered        OrderStatus = "DELIVERED"
	OrderStatusCancelled        OrderStatus = "CANCELLED"
)

// NullableString maps an optional text column. It marshals to a plain JSON
// string and stores NULL when empty, so unique indexes ignore absent values.
type NullableString string

// Value implements driver.Valuer
func (n NullableString) Value() (driver.Value, error) {
	if n == "" {
		return nil, nil
	}
	return string(n), nil
}

// Scan implements sql.Scanner
func (n *NullableString) Scan(src interface{}) error {
	var ns sql.NullString
	if err := ns.Scan(src); err != nil {
		return err
	}
	*n = NullableString(ns.String)
	return nil
}

// MarshalJSON implements json.Marshaler
func (n NullableString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(n))
}
