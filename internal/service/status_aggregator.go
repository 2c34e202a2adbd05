package service

import (
	"fulfillment-service/internal/models"
)

// statusSet records which unit statuses occur among an order's units. The
// derived order status depends only on this set, not on the counts.
type statusSet uint8

const (
	hasProcessing statusSet = 1 << iota
	hasShipped
	hasDelivered
	hasCancelled
)

// orderStatusTable maps every possible set of unit statuses to the parent
// order status. Rules, first match wins: all delivered; all shipped or
// delivered; some shipped or delivered; all cancelled; otherwise processing.
var orderStatusTable = map[statusSet]models.OrderStatus{
	0: models.OrderStatusProcessing,

	hasProcessing: models.OrderStatusProcessing,
	hasShipped:    models.OrderStatusShipped,
	hasDelivered:  models.OrderStatusDelivered,
	hasCancelled:  models.OrderStatusCancelled,

	hasShipped | hasDelivered: models.OrderStatusShipped,

	hasProcessing | hasShipped:                models.OrderStatusPartiallyShipped,
	hasProcessing | hasDelivered:              models.OrderStatusPartiallyShipped,
	hasProcessing | hasShipped | hasDelivered: models.OrderStatusPartiallyShipped,
	hasCancelled | hasShipped:                 models.OrderStatusPartiallyShipped,
	hasCancelled | hasDelivered:               models.OrderStatusPartiallyShipped,
	hasCancelled | hasShipped | hasDelivered:  models.OrderStatusPartiallyShipped,

	hasProcessing | hasCancelled | hasShipped:                models.OrderStatusPartiallyShipped,
	hasProcessing | hasCancelled | hasDelivered:              models.OrderStatusPartiallyShipped,
	hasProcessing | hasCancelled | hasShipped | hasDelivered: models.OrderStatusPartiallyShipped,

	// Some units cancelled while the rest still wait. Kept as processing;
	// a separate partially-cancelled status is pending a product decision.
	hasProcessing | hasCancelled: models.OrderStatusProcessing,
}

// AggregateOrderStatus derives the parent order status from the current
// statuses of all of its fulfillment units
func AggregateOrderStatus(units []models.FulfillmentStatus) models.OrderStatus {
	var set statusSet
	for _, s := range units {
		set |= statusBit(s)
	}
	return orderStatusTable[set]
}

// statusBit treats unknown statuses as processing so they never complete an order
func statusBit(s models.FulfillmentStatus) statusSet {
	switch s {
	case models.FulfillmentStatusShipped:
		return hasShipped
	case models.FulfillmentStatusDelivered:
		return hasDelivered
	case models.FulfillmentStatusCancelled:
		return hasCancelled
	default:
		return hasProcessing
	}
}

// unitTransitions lists the statuses a unit may move to from each status.
// Delivered and cancelled units are final.
var unitTransitions = map[models.FulfillmentStatus][]models.FulfillmentStatus{
	models.FulfillmentStatusProcessing: {
		models.FulfillmentStatusShipped,
		models.FulfillmentStatusDelivered,
		models.FulfillmentStatusCancelled,
	},
	models.FulfillmentStatusShipped: {
		models.FulfillmentStatusDelivered,
	},
}

// CanTransition reports whether a unit may move from one status to another.
// Re-applying the current status is allowed.
func CanTransition(from, to models.FulfillmentStatus) bool {
	if from == to {
		return true
	}
	for _, next := range unitTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
