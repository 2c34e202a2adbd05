package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/google/uuid"
)

const (
	orderColumns    = "id, customer_id, total_amount, status, idempotency_key, created_at, updated_at"
	unitColumns     = "id, order_id, vendor_id, subtotal, status, created_at, updated_at"
	lineItemColumns = "id, order_id, fulfillment_unit_id, product_id, vendor_id, quantity, unit_price, created_at"
)

// InsertOrder inserts the parent order row
func (t *Tx) InsertOrder(ctx context.Context, order *models.Order) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		order.ID, order.CustomerID, order.TotalAmount, order.Status, order.IdempotencyKey,
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// InsertFulfillmentUnit inserts a vendor fulfillment unit
func (t *Tx) InsertFulfillmentUnit(ctx context.Context, unit *models.FulfillmentUnit) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO fulfillment_units (`+unitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		unit.ID, unit.OrderID, unit.VendorID, unit.Subtotal, unit.Status,
		unit.CreatedAt, unit.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert fulfillment unit: %w", err)
	}
	return nil
}

// InsertLineItem inserts a line item
func (t *Tx) InsertLineItem(ctx context.Context, item *models.LineItem) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO line_items (`+lineItemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		item.ID, item.OrderID, item.FulfillmentUnitID, item.ProductID, item.VendorID,
		item.Quantity, item.UnitPrice, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert line item: %w", err)
	}
	return nil
}

// DecrementStock subtracts quantity from a product's stock only if enough
// stock remains. The check and the write are one statement, so the row lock
// taken by the UPDATE is what serializes concurrent checkouts.
func (t *Tx) DecrementStock(ctx context.Context, productID uuid.UUID, quantity int) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE products SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND stock >= ?`),
		quantity, time.Now().UTC(), productID, quantity)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists bool
	err = t.tx.GetContext(ctx, &exists,
		t.tx.Rebind("SELECT EXISTS(SELECT 1 FROM products WHERE id = ?)"), productID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return fmt.Errorf("product %s: %w", productID, ErrInsufficientStock)
}

// GetFulfillmentUnit reads a unit inside the transaction
func (t *Tx) GetFulfillmentUnit(ctx context.Context, unitID uuid.UUID) (*models.FulfillmentUnit, error) {
	var unit models.FulfillmentUnit
	err := t.tx.GetContext(ctx, &unit,
		t.tx.Rebind("SELECT "+unitColumns+" FROM fulfillment_units WHERE id = ?"), unitID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fulfillment unit %s: %w", unitID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

// LockOrder touches the parent order row so that every later statement in
// this transaction runs while holding the order's row lock. Concurrent status
// updates on sibling units therefore serialize on the parent.
func (t *Tx) LockOrder(ctx context.Context, orderID uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx,
		t.tx.Rebind("UPDATE orders SET updated_at = ? WHERE id = ?"),
		time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}
	return expectRow(res, fmt.Sprintf("order %s", orderID))
}

// UpdateFulfillmentStatus sets the status of a single unit
func (t *Tx) UpdateFulfillmentStatus(ctx context.Context, unitID uuid.UUID, status models.FulfillmentStatus) error {
	res, err := t.tx.ExecContext(ctx,
		t.tx.Rebind("UPDATE fulfillment_units SET status = ?, updated_at = ? WHERE id = ?"),
		status, time.Now().UTC(), unitID)
	if err != nil {
		return fmt.Errorf("failed to update fulfillment status: %w", err)
	}
	return expectRow(res, fmt.Sprintf("fulfillment unit %s", unitID))
}

// GetSiblingStatuses returns the current status of every unit of an order
func (t *Tx) GetSiblingStatuses(ctx context.Context, orderID uuid.UUID) ([]models.FulfillmentStatus, error) {
	var statuses []models.FulfillmentStatus
	err := t.tx.SelectContext(ctx, &statuses,
		t.tx.Rebind("SELECT status FROM fulfillment_units WHERE order_id = ? ORDER BY id"), orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sibling statuses: %w", err)
	}
	return statuses, nil
}

// UpdateOrderStatus persists the derived status of an order
func (t *Tx) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus) error {
	res, err := t.tx.ExecContext(ctx,
		t.tx.Rebind("UPDATE orders SET status = ?, updated_at = ? WHERE id = ?"),
		status, time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return expectRow(res, fmt.Sprintf("order %s", orderID))
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		s.db.Rebind("SELECT "+orderColumns+" FROM orders WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves a customer's order by idempotency key.
// It returns nil, nil when no such order exists.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, customerID uuid.UUID, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		s.db.Rebind("SELECT "+orderColumns+" FROM orders WHERE customer_id = ? AND idempotency_key = ?"),
		customerID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetFulfillmentUnitByID retrieves a unit by ID
func (s *Store) GetFulfillmentUnitByID(ctx context.Context, id uuid.UUID) (*models.FulfillmentUnit, error) {
	var unit models.FulfillmentUnit
	err := s.db.GetContext(ctx, &unit,
		s.db.Rebind("SELECT "+unitColumns+" FROM fulfillment_units WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fulfillment unit %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

// GetFulfillmentUnitsByOrderID retrieves all units of an order
func (s *Store) GetFulfillmentUnitsByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.FulfillmentUnit, error) {
	units := []models.FulfillmentUnit{}
	err := s.db.SelectContext(ctx, &units,
		s.db.Rebind("SELECT "+unitColumns+" FROM fulfillment_units WHERE order_id = ? ORDER BY vendor_id"), orderID)
	return units, err
}

// GetFulfillmentUnitsByVendorID retrieves a vendor's most recent units
func (s *Store) GetFulfillmentUnitsByVendorID(ctx context.Context, vendorID uuid.UUID, limit int) ([]models.FulfillmentUnit, error) {
	units := []models.FulfillmentUnit{}
	err := s.db.SelectContext(ctx, &units,
		s.db.Rebind("SELECT "+unitColumns+" FROM fulfillment_units WHERE vendor_id = ? ORDER BY created_at DESC, id LIMIT ?"),
		vendorID, limit)
	return units, err
}

// GetLineItemsByOrderID retrieves all line items of an order
func (s *Store) GetLineItemsByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LineItem, error) {
	items := []models.LineItem{}
	err := s.db.SelectContext(ctx, &items,
		s.db.Rebind("SELECT "+lineItemColumns+" FROM line_items WHERE order_id = ? ORDER BY vendor_id, product_id"), orderID)
	return items, err
}

// GetLineItemsByUnitID retrieves the line items of one fulfillment unit
func (s *Store) GetLineItemsByUnitID(ctx context.Context, unitID uuid.UUID) ([]models.LineItem, error) {
	items := []models.LineItem{}
	err := s.db.SelectContext(ctx, &items,
		s.db.Rebind("SELECT "+lineItemColumns+" FROM line_items WHERE fulfillment_unit_id = ? ORDER BY product_id"), unitID)
	return items, err
}
