package service

import (
	"context"
	"errors"
	"fmt"

	"fulfillment-service/internal/auth"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxVendorUnits = 100

// FulfillmentService handles vendor status updates on fulfillment units
type FulfillmentService struct {
	store     *store.Store
	publisher EventPublisher
	logger    *zap.Logger
}

// NewFulfillmentService creates a new fulfillment service. publisher may be nil.
func NewFulfillmentService(store *store.Store, publisher EventPublisher) *FulfillmentService {
	return &FulfillmentService{
		store:     store,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// UpdateStatusRequest represents a fulfillment status change
type UpdateStatusRequest struct {
	Status models.FulfillmentStatus `json:"status" binding:"required"`
}

// UpdateStatusResult is the updated unit and the recomputed parent status
type UpdateStatusResult struct {
	FulfillmentUnit models.FulfillmentUnit `json:"fulfillment_unit"`
	OrderStatus     models.OrderStatus     `json:"order_status"`
}

// FulfillmentUnitDetail is a unit with its line items
type FulfillmentUnitDetail struct {
	FulfillmentUnit models.FulfillmentUnit `json:"fulfillment_unit"`
	LineItems       []models.LineItem      `json:"line_items"`
}

// UpdateStatus sets a unit's status and recomputes the parent order status
// from every sibling unit, all in one transaction. The parent order row is
// locked before the unit is re-read, so concurrent updates on sibling units
// apply one after another and none of them is lost.
func (s *FulfillmentService) UpdateStatus(
	ctx context.Context,
	principal auth.Principal,
	unitID uuid.UUID,
	status models.FulfillmentStatus,
) (*UpdateStatusResult, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.UpdateStatus")
	defer span.End()

	if !status.Valid() {
		util.StatusUpdateFailuresTotal.WithLabelValues(string(CodeInvalidStatus)).Inc()
		return nil, &ValidationError{Code: CodeInvalidStatus, Message: fmt.Sprintf("invalid fulfillment status %q", status)}
	}
	if !principal.Is(auth.RoleVendor) && !principal.Is(auth.RoleAdmin) {
		util.StatusUpdateFailuresTotal.WithLabelValues("forbidden").Inc()
		return nil, &AuthorizationError{PrincipalID: principal.ID, Action: "update", Resource: fmt.Sprintf("fulfillment unit %s", unitID)}
	}

	var (
		result   UpdateStatusResult
		previous models.FulfillmentStatus
	)

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		unit, err := tx.GetFulfillmentUnit(ctx, unitID)
		if err != nil {
			return err
		}

		if err := tx.LockOrder(ctx, unit.OrderID); err != nil {
			return err
		}

		// re-read under the order lock
		unit, err = tx.GetFulfillmentUnit(ctx, unitID)
		if err != nil {
			return err
		}

		if err := authorizeUnit(principal, unit, "update"); err != nil {
			return err
		}

		if !CanTransition(unit.Status, status) {
			return &ValidationError{
				Code:    CodeInvalidTransition,
				Message: fmt.Sprintf("cannot move fulfillment unit from %s to %s", unit.Status, status),
			}
		}

		if err := tx.UpdateFulfillmentStatus(ctx, unitID, status); err != nil {
			return err
		}

		siblings, err := tx.GetSiblingStatuses(ctx, unit.OrderID)
		if err != nil {
			return err
		}

		orderStatus := AggregateOrderStatus(siblings)
		if err := tx.UpdateOrderStatus(ctx, unit.OrderID, orderStatus); err != nil {
			return err
		}

		previous = unit.Status
		updated, err := tx.GetFulfillmentUnit(ctx, unitID)
		if err != nil {
			return err
		}
		result = UpdateStatusResult{FulfillmentUnit: *updated, OrderStatus: orderStatus}
		return nil
	})
	if err != nil {
		err = classifyUpdateError(unitID, err)
		util.RecordError(span, err)
		util.StatusUpdateFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	util.StatusUpdatesTotal.WithLabelValues(string(status)).Inc()
	s.logger.Info("Fulfillment status updated",
		zap.String("fulfillment_unit_id", unitID.String()),
		zap.String("order_id", result.FulfillmentUnit.OrderID.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(status)),
		zap.String("order_status", string(result.OrderStatus)))

	s.publishStatusChanged(ctx, &result, previous)

	return &result, nil
}

// classifyUpdateError keeps domain errors as they are and wraps store
// failures as a rolled back transaction
func classifyUpdateError(unitID uuid.UUID, err error) error {
	var (
		vErr *ValidationError
		aErr *AuthorizationError
	)
	switch {
	case errors.As(err, &vErr), errors.As(err, &aErr):
		return err
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrFulfillmentUnitNotFound, unitID)
	}
	return &TransactionError{Op: "update fulfillment status", Err: err}
}

func (s *FulfillmentService) publishStatusChanged(ctx context.Context, result *UpdateStatusResult, previous models.FulfillmentStatus) {
	if s.publisher == nil {
		return
	}

	unit := result.FulfillmentUnit
	event := &models.FulfillmentStatusChangedEvent{
		BaseEvent:         models.NewBaseEvent(models.EventTypeFulfillmentStatusChange),
		OrderID:           unit.OrderID,
		FulfillmentUnitID: unit.ID,
		VendorID:          unit.VendorID,
		PreviousStatus:    previous,
		Status:            unit.Status,
		OrderStatus:       result.OrderStatus,
	}

	if err := s.publisher.PublishFulfillmentStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish FulfillmentStatusChanged event", zap.Error(err))
	}
}

// GetFulfillmentUnit returns a unit and its line items to its vendor or an admin
func (s *FulfillmentService) GetFulfillmentUnit(ctx context.Context, principal auth.Principal, unitID uuid.UUID) (*FulfillmentUnitDetail, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.GetFulfillmentUnit")
	defer span.End()

	unit, err := s.store.GetFulfillmentUnitByID(ctx, unitID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrFulfillmentUnitNotFound, unitID)
	}
	if err != nil {
		return nil, err
	}

	if err := authorizeUnit(principal, unit, "read"); err != nil {
		return nil, err
	}

	items, err := s.store.GetLineItemsByUnitID(ctx, unitID)
	if err != nil {
		return nil, err
	}

	return &FulfillmentUnitDetail{FulfillmentUnit: *unit, LineItems: items}, nil
}

// ListVendorUnits returns the calling vendor's most recent fulfillment units
func (s *FulfillmentService) ListVendorUnits(ctx context.Context, principal auth.Principal) ([]models.FulfillmentUnit, error) {
	if !principal.Is(auth.RoleVendor) {
		return nil, &AuthorizationError{PrincipalID: principal.ID, Action: "list", Resource: "vendor fulfillment units"}
	}
	return s.store.GetFulfillmentUnitsByVendorID(ctx, principal.ID, maxVendorUnits)
}

// authorizeUnit allows admins and the vendor that owns the unit
func authorizeUnit(principal auth.Principal, unit *models.FulfillmentUnit, action string) error {
	if principal.Is(auth.RoleAdmin) {
		return nil
	}
	if principal.Is(auth.RoleVendor) && unit.VendorID == principal.ID {
		return nil
	}
	return &AuthorizationError{
		PrincipalID: principal.ID,
		Action:      action,
		Resource:    fmt.Sprintf("fulfillment unit %s", unit.ID),
	}
}
