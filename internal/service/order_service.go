package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/auth"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IdempotencyCache is a fast path for resolving replayed checkout requests
type IdempotencyCache interface {
	GetOrderID(ctx context.Context, scope, key string) (uuid.UUID, bool, error)
	RememberOrderID(ctx context.Context, scope, key string, orderID uuid.UUID, ttl time.Duration) error
}

// EventPublisher publishes domain events after a transaction commits
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishFulfillmentStatusChanged(ctx context.Context, event *models.FulfillmentStatusChangedEvent) error
}

// OrderService handles checkout and order reads
type OrderService struct {
	store          *store.Store
	validator      *CartValidator
	writer         *OrderWriter
	cache          IdempotencyCache
	publisher      EventPublisher
	idempotencyTTL time.Duration
	logger         *zap.Logger
}

// NewOrderService creates a new order service. cache and publisher may be nil.
func NewOrderService(
	store *store.Store,
	cache IdempotencyCache,
	publisher EventPublisher,
	idempotencyTTL time.Duration,
) *OrderService {
	return &OrderService{
		store:          store,
		validator:      NewCartValidator(store),
		writer:         NewOrderWriter(store),
		cache:          cache,
		publisher:      publisher,
		idempotencyTTL: idempotencyTTL,
		logger:         util.GetLogger(),
	}
}

// MaxIdempotencyKeyLen bounds a checkout idempotency key, from the body or
// the Idempotency-Key header
const MaxIdempotencyKeyLen = 128

// CheckoutRequest represents a request to place an order
type CheckoutRequest struct {
	CustomerID     uuid.UUID  `json:"customer_id"`
	CartItems      []CartItem `json:"cart_items" binding:"dive"`
	IdempotencyKey string     `json:"idempotency_key,omitempty" binding:"max=128"`
}

// CheckoutResponse represents the response after placing an order
type CheckoutResponse struct {
	OrderID     uuid.UUID          `json:"order_id"`
	Status      models.OrderStatus `json:"status"`
	TotalAmount int64              `json:"total_amount"`
	Replayed    bool               `json:"replayed"`
}

// Checkout validates, partitions and atomically writes a customer's cart
func (s *OrderService) Checkout(ctx context.Context, principal auth.Principal, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Checkout")
	defer span.End()

	if !principal.Is(auth.RoleCustomer) {
		util.CheckoutFailuresTotal.WithLabelValues("forbidden").Inc()
		return nil, &AuthorizationError{PrincipalID: principal.ID, Action: "checkout", Resource: "cart"}
	}
	if req.CustomerID != uuid.Nil && req.CustomerID != principal.ID {
		util.CheckoutFailuresTotal.WithLabelValues("forbidden").Inc()
		return nil, &AuthorizationError{
			PrincipalID: principal.ID,
			Action:      "checkout for",
			Resource:    fmt.Sprintf("customer %s", req.CustomerID),
		}
	}
	customerID := principal.ID

	if req.IdempotencyKey != "" {
		existing, err := s.findReplay(ctx, customerID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			util.CheckoutReplaysTotal.Inc()
			s.logger.Info("Duplicate checkout request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", existing.ID.String()))
			return replayResponse(existing), nil
		}
	}

	validated, err := s.validator.Validate(ctx, req.CartItems)
	if err != nil {
		util.RecordError(span, err)
		util.CheckoutFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	partitions := PartitionByVendor(validated)

	detail, err := s.writer.Write(ctx, customerID, req.IdempotencyKey, partitions)
	if err != nil {
		if req.IdempotencyKey != "" {
			// a concurrent request with the same key may have won the unique index
			if existing := s.recheckIdempotencyKey(ctx, customerID, req.IdempotencyKey); existing != nil {
				util.CheckoutReplaysTotal.Inc()
				return replayResponse(existing), nil
			}
		}
		util.RecordError(span, err)
		util.CheckoutFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	order := detail.Order
	util.CheckoutsTotal.Inc()
	s.logger.Info("Order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("customer_id", customerID.String()),
		zap.Int("fulfillment_units", len(detail.FulfillmentUnits)),
		zap.Int64("total_amount", order.TotalAmount))

	if req.IdempotencyKey != "" && s.cache != nil {
		if err := s.cache.RememberOrderID(ctx, customerID.String(), req.IdempotencyKey, order.ID, s.idempotencyTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}

	s.publishOrderPlaced(ctx, detail)

	return &CheckoutResponse{
		OrderID:     order.ID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
	}, nil
}

// findReplay resolves an idempotency key to an existing order, cache first
func (s *OrderService) findReplay(ctx context.Context, customerID uuid.UUID, key string) (*models.Order, error) {
	if s.cache != nil {
		orderID, ok, err := s.cache.GetOrderID(ctx, customerID.String(), key)
		if err != nil {
			s.logger.Warn("Idempotency cache lookup failed, falling back to DB", zap.Error(err))
		} else if ok {
			order, err := s.store.GetOrderByID(ctx, orderID)
			if err == nil {
				return order, nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("failed to load replayed order: %w", err)
			}
		}
	}

	order, err := s.store.GetOrderByIdempotencyKey(ctx, customerID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	return order, nil
}

// recheckIdempotencyKey looks the key up again after a failed write. Lookup
// errors are logged and reported as no match so the write error surfaces.
func (s *OrderService) recheckIdempotencyKey(ctx context.Context, customerID uuid.UUID, key string) *models.Order {
	order, err := s.store.GetOrderByIdempotencyKey(ctx, customerID, key)
	if err != nil {
		s.logger.Warn("Idempotency re-check failed after rolled back checkout",
			zap.String("customer_id", customerID.String()),
			zap.String("idempotency_key", key),
			zap.Error(err))
		return nil
	}
	return order
}

func (s *OrderService) publishOrderPlaced(ctx context.Context, detail *models.OrderDetail) {
	if s.publisher == nil {
		return
	}

	units := make([]models.FulfillmentUnitData, 0, len(detail.FulfillmentUnits))
	for _, unit := range detail.FulfillmentUnits {
		data := models.FulfillmentUnitData{
			FulfillmentUnitID: unit.ID,
			VendorID:          unit.VendorID,
			Subtotal:          unit.Subtotal,
		}
		for _, item := range detail.LineItems {
			if item.FulfillmentUnitID == unit.ID {
				data.Items = append(data.Items, models.LineItemData{
					ProductID: item.ProductID,
					Quantity:  item.Quantity,
					UnitPrice: item.UnitPrice,
				})
			}
		}
		units = append(units, data)
	}

	event := &models.OrderPlacedEvent{
		BaseEvent:        models.NewBaseEvent(models.EventTypeOrderPlaced),
		OrderID:          detail.Order.ID,
		CustomerID:       detail.Order.CustomerID,
		TotalAmount:      detail.Order.TotalAmount,
		FulfillmentUnits: units,
	}

	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

// GetOrder returns an order with its units and line items to its customer or an admin
func (s *OrderService) GetOrder(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*models.OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}

	if !principal.Is(auth.RoleAdmin) && !(principal.Is(auth.RoleCustomer) && order.CustomerID == principal.ID) {
		return nil, &AuthorizationError{PrincipalID: principal.ID, Action: "read", Resource: fmt.Sprintf("order %s", orderID)}
	}

	units, err := s.store.GetFulfillmentUnitsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	items, err := s.store.GetLineItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &models.OrderDetail{
		Order:            *order,
		FulfillmentUnits: units,
		LineItems:        items,
	}, nil
}

func replayResponse(order *models.Order) *CheckoutResponse {
	return &CheckoutResponse{
		OrderID:     order.ID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		Replayed:    true,
	}
}

// failureReason maps an error to a low-cardinality metric label
func failureReason(err error) string {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return string(vErr.Code)
	}
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		if txErr.StockRaceLost() {
			return "stock_race"
		}
		return "transaction_failed"
	}
	var aErr *AuthorizationError
	if errors.As(err, &aErr) {
		return "forbidden"
	}
	if errors.Is(err, store.ErrNotFound) {
		return "not_found"
	}
	return "internal"
}
