package service

import (
	"errors"
	"fmt"

	"fulfillment-service/internal/store"

	"github.com/google/uuid"
)

// ValidationCode identifies why a request was rejected before any write
type ValidationCode string

const (
	CodeEmptyCart         ValidationCode = "EMPTY_CART"
	CodeInvalidQuantity   ValidationCode = "INVALID_QUANTITY"
	CodeProductNotFound   ValidationCode = "PRODUCT_NOT_FOUND"
	CodeOutOfStock        ValidationCode = "OUT_OF_STOCK"
	CodeInvalidStatus     ValidationCode = "INVALID_STATUS"
	CodeInvalidTransition ValidationCode = "INVALID_TRANSITION"
)

var (
	ErrOrderNotFound           = fmt.Errorf("order %w", store.ErrNotFound)
	ErrFulfillmentUnitNotFound = fmt.Errorf("fulfillment unit %w", store.ErrNotFound)
)

// ValidationError is detected before any write and has no persisted side effects
type ValidationError struct {
	Code      ValidationCode
	ProductID uuid.UUID
	Requested int
	Available int
	Message   string
}

func (e *ValidationError) Error() string {
	switch e.Code {
	case CodeProductNotFound:
		return fmt.Sprintf("product %s not found", e.ProductID)
	case CodeOutOfStock:
		return fmt.Sprintf("product %s out of stock: requested=%d, available=%d",
			e.ProductID, e.Requested, e.Available)
	case CodeInvalidQuantity:
		return fmt.Sprintf("invalid quantity %d for product %s", e.Requested, e.ProductID)
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// TransactionError is a write-phase failure. The whole transaction was rolled
// back, so the caller may retry the complete operation.
type TransactionError struct {
	Op        string
	ProductID uuid.UUID
	Err       error
}

func (e *TransactionError) Error() string {
	if e.ProductID != uuid.Nil {
		return fmt.Sprintf("transaction failed: %s: product %s: %v", e.Op, e.ProductID, e.Err)
	}
	return fmt.Sprintf("transaction failed: %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// StockRaceLost reports whether the transaction failed because stock was
// consumed between validation and commit
func (e *TransactionError) StockRaceLost() bool {
	return errors.Is(e.Err, store.ErrInsufficientStock)
}

// AuthorizationError is returned when a principal acts on a resource it does not own
type AuthorizationError struct {
	PrincipalID uuid.UUID
	Action      string
	Resource    string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("principal %s is not allowed to %s %s", e.PrincipalID, e.Action, e.Resource)
}
