package service

import (
	"testing"

	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
)

const (
	processing = models.FulfillmentStatusProcessing
	shipped    = models.FulfillmentStatusShipped
	delivered  = models.FulfillmentStatusDelivered
	cancelled  = models.FulfillmentStatusCancelled
)

func TestAggregateOrderStatus(t *testing.T) {
	tests := []struct {
		name  string
		units []models.FulfillmentStatus
		want  models.OrderStatus
	}{
		{"all delivered", []models.FulfillmentStatus{delivered, delivered, delivered}, models.OrderStatusDelivered},
		{"mixed progress", []models.FulfillmentStatus{shipped, delivered, processing}, models.OrderStatusPartiallyShipped},
		{"all shipped", []models.FulfillmentStatus{shipped, shipped}, models.OrderStatusShipped},
		{"shipped and delivered", []models.FulfillmentStatus{shipped, delivered}, models.OrderStatusShipped},
		{"all cancelled", []models.FulfillmentStatus{cancelled, cancelled}, models.OrderStatusCancelled},
		{"cancelled and waiting", []models.FulfillmentStatus{cancelled, processing}, models.OrderStatusProcessing},
		{"cancelled and shipped", []models.FulfillmentStatus{cancelled, shipped}, models.OrderStatusPartiallyShipped},
		{"single processing", []models.FulfillmentStatus{processing}, models.OrderStatusProcessing},
		{"no units", nil, models.OrderStatusProcessing},
		{"unknown counts as processing", []models.FulfillmentStatus{delivered, "LOST"}, models.OrderStatusPartiallyShipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateOrderStatus(tt.units))
		})
	}
}

// TestAggregateOrderStatusRules checks every combination against the rules
// evaluated in order
func TestAggregateOrderStatusRules(t *testing.T) {
	all := []models.FulfillmentStatus{processing, shipped, delivered, cancelled}

	for mask := 1; mask < 1<<len(all); mask++ {
		var units []models.FulfillmentStatus
		for i, s := range all {
			if mask&(1<<i) != 0 {
				units = append(units, s)
			}
		}

		count := func(match func(models.FulfillmentStatus) bool) int {
			n := 0
			for _, u := range units {
				if match(u) {
					n++
				}
			}
			return n
		}
		nDelivered := count(func(s models.FulfillmentStatus) bool { return s == delivered })
		nOut := count(func(s models.FulfillmentStatus) bool { return s == shipped || s == delivered })
		nCancelled := count(func(s models.FulfillmentStatus) bool { return s == cancelled })

		var want models.OrderStatus
		switch {
		case nDelivered == len(units):
			want = models.OrderStatusDelivered
		case nOut == len(units):
			want = models.OrderStatusShipped
		case nOut > 0:
			want = models.OrderStatusPartiallyShipped
		case nCancelled == len(units):
			want = models.OrderStatusCancelled
		default:
			want = models.OrderStatusProcessing
		}

		assert.Equal(t, want, AggregateOrderStatus(units), "units %v", units)
	}
	assert.Len(t, orderStatusTable, 1<<len(all))
}

func TestAggregateOrderStatusIgnoresOrderAndCounts(t *testing.T) {
	a := AggregateOrderStatus([]models.FulfillmentStatus{processing, shipped, shipped})
	b := AggregateOrderStatus([]models.FulfillmentStatus{shipped, processing})
	assert.Equal(t, a, b)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.FulfillmentStatus
		want     bool
	}{
		{processing, shipped, true},
		{processing, delivered, true},
		{processing, cancelled, true},
		{shipped, delivered, true},
		{shipped, shipped, true},
		{shipped, processing, false},
		{shipped, cancelled, false},
		{delivered, shipped, false},
		{delivered, cancelled, false},
		{cancelled, processing, false},
		{cancelled, shipped, false},
		{cancelled, cancelled, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
