package broker

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"
)

// EventWriter writes a keyed event to the broker
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events. Events are keyed by order
// so all events of one order land on the same partition, in order.
type EventPublisher struct {
	producer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventWriter) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderPlaced publishes OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.publish(ctx, event.OrderID.String(), event.EventType, event)
}

// PublishFulfillmentStatusChanged publishes FulfillmentStatusChanged event
func (ep *EventPublisher) PublishFulfillmentStatusChanged(ctx context.Context, event *models.FulfillmentStatusChangedEvent) error {
	return ep.publish(ctx, event.OrderID.String(), event.EventType, event)
}

func (ep *EventPublisher) publish(ctx context.Context, orderID, eventType string, event interface{}) error {
	ctx, span := util.StartSpan(ctx, "EventPublisher.Publish")
	defer span.End()

	key := fmt.Sprintf("order-%s", orderID)
	if err := ep.producer.PublishEvent(ctx, key, event); err != nil {
		util.RecordError(span, err)
		return err
	}

	util.EventsPublishedTotal.WithLabelValues(eventType).Inc()
	return nil
}
