package service

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
)

// CartItem is a product/quantity pair submitted for checkout. Clients cannot
// send a price; it always comes from the catalog.
type CartItem struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1"`
}

// ValidatedItem is a cart item priced and attributed by the catalog
type ValidatedItem struct {
	ProductID uuid.UUID
	VendorID  uuid.UUID
	Quantity  int
	UnitPrice int64
}

// Amount returns unit price multiplied by quantity
func (v ValidatedItem) Amount() int64 {
	return v.UnitPrice * int64(v.Quantity)
}

// CatalogReader is the authoritative source of price, stock and vendor ownership
type CatalogReader interface {
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
}

// CartValidator checks availability and prices a cart. It never writes.
type CartValidator struct {
	catalog CatalogReader
}

// NewCartValidator creates a new cart validator
func NewCartValidator(catalog CatalogReader) *CartValidator {
	return &CartValidator{catalog: catalog}
}

// Validate returns the cart's items with server-trusted price and vendor, in
// cart order with duplicate products merged. The first offending product in
// cart order is reported as a *ValidationError.
func (cv *CartValidator) Validate(ctx context.Context, items []CartItem) ([]ValidatedItem, error) {
	ctx, span := util.StartSpan(ctx, "CartValidator.Validate")
	defer span.End()

	merged, err := mergeCartItems(items)
	if err != nil {
		return nil, err
	}

	productIDs := make([]uuid.UUID, len(merged))
	for i, item := range merged {
		productIDs[i] = item.ProductID
	}

	products, err := cv.catalog.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	productMap := make(map[uuid.UUID]*models.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}

	validated := make([]ValidatedItem, 0, len(merged))
	for _, item := range merged {
		product, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ValidationError{Code: CodeProductNotFound, ProductID: item.ProductID}
		}

		if item.Quantity > product.Stock {
			return nil, &ValidationError{
				Code:      CodeOutOfStock,
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: product.Stock,
			}
		}

		validated = append(validated, ValidatedItem{
			ProductID: product.ID,
			VendorID:  product.VendorID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		})
	}

	return validated, nil
}

// mergeCartItems rejects empty carts and non-positive quantities and sums
// repeated products, keeping first-appearance order
func mergeCartItems(items []CartItem) ([]CartItem, error) {
	if len(items) == 0 {
		return nil, &ValidationError{Code: CodeEmptyCart, Message: "cart is empty"}
	}

	merged := make([]CartItem, 0, len(items))
	index := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, &ValidationError{Code: CodeProductNotFound, ProductID: item.ProductID}
		}
		if item.Quantity <= 0 {
			return nil, &ValidationError{
				Code:      CodeInvalidQuantity,
				ProductID: item.ProductID,
				Requested: item.Quantity,
			}
		}

		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}

	return merged, nil
}
