package service

import (
	"context"
	"errors"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderWriter persists a partitioned cart as one order in a single transaction
type OrderWriter struct {
	store  *store.Store
	logger *zap.Logger
}

// NewOrderWriter creates a new order writer
func NewOrderWriter(store *store.Store) *OrderWriter {
	return &OrderWriter{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Write inserts the order, one fulfillment unit per partition, every line
// item and the matching stock decrements, all or nothing. Stock is checked
// again by the decrement itself, so a product sold out since validation
// aborts the whole order. Any failure is returned as a *TransactionError.
func (w *OrderWriter) Write(
	ctx context.Context,
	customerID uuid.UUID,
	idempotencyKey string,
	partitions []VendorPartition,
) (*models.OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderWriter.Write")
	defer span.End()

	if len(partitions) == 0 {
		return nil, &ValidationError{Code: CodeEmptyCart, Message: "cart is empty"}
	}

	start := time.Now()
	defer func() {
		util.OrderTransactionLatency.Observe(time.Since(start).Seconds())
	}()

	detail := buildOrderDetail(customerID, idempotencyKey, partitions, time.Now().UTC())

	err := w.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertOrder(ctx, &detail.Order); err != nil {
			return &TransactionError{Op: "insert order", Err: err}
		}

		items := detail.LineItems
		for i := range detail.FulfillmentUnits {
			unit := &detail.FulfillmentUnits[i]
			if err := tx.InsertFulfillmentUnit(ctx, unit); err != nil {
				return &TransactionError{Op: "insert fulfillment unit", Err: err}
			}

			for j := range items {
				item := &items[j]
				if item.FulfillmentUnitID != unit.ID {
					continue
				}
				if err := tx.InsertLineItem(ctx, item); err != nil {
					return &TransactionError{Op: "insert line item", ProductID: item.ProductID, Err: err}
				}
				if err := tx.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
					return &TransactionError{Op: "decrement stock", ProductID: item.ProductID, Err: err}
				}
			}
		}
		return nil
	})
	if err != nil {
		var txErr *TransactionError
		if !errors.As(err, &txErr) {
			txErr = &TransactionError{Op: "commit order", Err: err}
		}
		w.logger.Warn("Order transaction rolled back",
			zap.String("customer_id", customerID.String()),
			zap.String("op", txErr.Op),
			zap.Error(txErr.Err))
		return nil, txErr
	}

	return detail, nil
}

// buildOrderDetail assigns ids and timestamps to every record of the order.
// Line items follow unit order, and within a unit, product order.
func buildOrderDetail(
	customerID uuid.UUID,
	idempotencyKey string,
	partitions []VendorPartition,
	now time.Time,
) *models.OrderDetail {
	order := models.Order{
		ID:             uuid.New(),
		CustomerID:     customerID,
		TotalAmount:    TotalAmount(partitions),
		Status:         models.OrderStatusProcessing,
		IdempotencyKey: models.NullableString(idempotencyKey),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	units := make([]models.FulfillmentUnit, 0, len(partitions))
	var items []models.LineItem
	for _, p := range partitions {
		unit := models.FulfillmentUnit{
			ID:        uuid.New(),
			OrderID:   order.ID,
			VendorID:  p.VendorID,
			Subtotal:  p.Subtotal,
			Status:    models.FulfillmentStatusProcessing,
			CreatedAt: now,
			UpdatedAt: now,
		}
		units = append(units, unit)

		for _, vi := range p.Items {
			items = append(items, models.LineItem{
				ID:                uuid.New(),
				OrderID:           order.ID,
				FulfillmentUnitID: unit.ID,
				ProductID:         vi.ProductID,
				VendorID:          p.VendorID,
				Quantity:          vi.Quantity,
				UnitPrice:         vi.UnitPrice,
				CreatedAt:         now,
			})
		}
	}

	return &models.OrderDetail{
		Order:            order,
		FulfillmentUnits: units,
		LineItems:        items,
	}
}
