package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/auth"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/store/storetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]uuid.UUID
	gets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]uuid.UUID{}}
}

func (c *fakeCache) GetOrderID(_ context.Context, scope, key string) (uuid.UUID, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	id, ok := c.entries[scope+":"+key]
	return id, ok, nil
}

func (c *fakeCache) RememberOrderID(_ context.Context, scope, key string, orderID uuid.UUID, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[scope+":"+key]; !ok {
		c.entries[scope+":"+key] = orderID
	}
	return nil
}

type fakePublisher struct {
	mu            sync.Mutex
	placed        []*models.OrderPlacedEvent
	statusChanged []*models.FulfillmentStatusChangedEvent
	err           error
}

func (p *fakePublisher) PublishOrderPlaced(_ context.Context, event *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, event)
	return p.err
}

func (p *fakePublisher) PublishFulfillmentStatusChanged(_ context.Context, event *models.FulfillmentStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanged = append(p.statusChanged, event)
	return p.err
}

func customer() auth.Principal {
	return auth.Principal{ID: uuid.New(), Role: auth.RoleCustomer}
}

func vendor(id uuid.UUID) auth.Principal {
	return auth.Principal{ID: id, Role: auth.RoleVendor}
}

func admin() auth.Principal {
	return auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin}
}

type catalogFixture struct {
	store    *store.Store
	vendors  []uuid.UUID
	products []models.Product
}

// newCatalogFixture seeds one product per vendor, priced 1000, 2000, 3000...
func newCatalogFixture(t *testing.T, vendors int, stock int) *catalogFixture {
	t.Helper()

	f := &catalogFixture{store: storetest.New(t)}
	for i := 0; i < vendors; i++ {
		vendorID := uuid.New()
		f.vendors = append(f.vendors, vendorID)
		f.products = append(f.products, storetest.SeedProduct(t, f.store, vendorID, int64(1000*(i+1)), stock))
	}
	return f
}

func (f *catalogFixture) cart(qty int) []CartItem {
	items := make([]CartItem, len(f.products))
	for i, p := range f.products {
		items[i] = CartItem{ProductID: p.ID, Quantity: qty}
	}
	return items
}

func TestCheckoutAcrossVendors(t *testing.T) {
	f := newCatalogFixture(t, 3, 10)
	publisher := &fakePublisher{}
	svc := NewOrderService(f.store, nil, publisher, time.Hour)
	ctx := context.Background()
	buyer := customer()

	// a second product from the first vendor lands in the same unit
	extra := storetest.SeedProduct(t, f.store, f.vendors[0], 250, 10)
	cart := append(f.cart(2), CartItem{ProductID: extra.ID, Quantity: 4})

	resp, err := svc.Checkout(ctx, buyer, &CheckoutRequest{CartItems: cart})
	require.NoError(t, err)
	assert.False(t, resp.Replayed)
	assert.Equal(t, models.OrderStatusProcessing, resp.Status)
	assert.Equal(t, int64(2*1000+2*2000+2*3000+4*250), resp.TotalAmount)

	detail, err := svc.GetOrder(ctx, buyer, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, buyer.ID, detail.Order.CustomerID)
	require.Len(t, detail.FulfillmentUnits, 3)
	require.Len(t, detail.LineItems, 4)

	units := map[uuid.UUID]models.FulfillmentUnit{}
	var subtotalSum int64
	for _, unit := range detail.FulfillmentUnits {
		units[unit.ID] = unit
		subtotalSum += unit.Subtotal
		assert.Equal(t, models.FulfillmentStatusProcessing, unit.Status)
	}
	assert.Equal(t, detail.Order.TotalAmount, subtotalSum)

	itemSums := map[uuid.UUID]int64{}
	for _, item := range detail.LineItems {
		unit, ok := units[item.FulfillmentUnitID]
		require.True(t, ok)
		assert.Equal(t, unit.VendorID, item.VendorID)
		itemSums[unit.ID] += item.Amount()
	}
	for id, unit := range units {
		assert.Equal(t, unit.Subtotal, itemSums[id])
	}

	for _, p := range f.products {
		assert.Equal(t, 8, storetest.Stock(t, f.store, p.ID))
	}
	assert.Equal(t, 6, storetest.Stock(t, f.store, extra.ID))

	require.Len(t, publisher.placed, 1)
	event := publisher.placed[0]
	assert.Equal(t, models.EventTypeOrderPlaced, event.EventType)
	assert.Equal(t, resp.OrderID, event.OrderID)
	assert.Len(t, event.FulfillmentUnits, 3)
}

func TestCheckoutIsAtomic(t *testing.T) {
	tests := []struct {
		name   string
		failAt int
	}{
		{"second line item", 2},
		{"last line item", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCatalogFixture(t, 3, 10)
			storetest.FailNthLineItem(t, f.store, tt.failAt)
			publisher := &fakePublisher{}
			svc := NewOrderService(f.store, nil, publisher, time.Hour)

			_, err := svc.Checkout(context.Background(), customer(), &CheckoutRequest{CartItems: f.cart(1)})

			var txErr *TransactionError
			require.True(t, errors.As(err, &txErr), "expected *TransactionError, got %v", err)
			assert.Equal(t, "insert line item", txErr.Op)
			assert.False(t, txErr.StockRaceLost())

			for _, table := range []string{"orders", "fulfillment_units", "line_items"} {
				assert.Equal(t, 0, storetest.CountRows(t, f.store, table), table)
			}
			for _, p := range f.products {
				assert.Equal(t, 10, storetest.Stock(t, f.store, p.ID))
			}
			assert.Empty(t, publisher.placed)
		})
	}
}

func TestRecheckIdempotencyKeyLogsLookupFailure(t *testing.T) {
	s := storetest.New(t)
	core, logs := observer.New(zap.WarnLevel)
	svc := NewOrderService(s, nil, nil, time.Hour)
	svc.logger = zap.New(core)

	require.NoError(t, s.Close())

	assert.Nil(t, svc.recheckIdempotencyKey(context.Background(), uuid.New(), "retry-1"))

	entries := logs.FilterMessage("Idempotency re-check failed after rolled back checkout").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "retry-1", entries[0].ContextMap()["idempotency_key"])
	assert.Contains(t, entries[0].ContextMap(), "error")
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ValidationError{Code: CodeOutOfStock}, string(CodeOutOfStock)},
		{&TransactionError{Op: "decrement stock", Err: store.ErrInsufficientStock}, "stock_race"},
		{&TransactionError{Op: "decrement stock", Err: store.ErrNotFound}, "transaction_failed"},
		{&AuthorizationError{}, "forbidden"},
		{fmt.Errorf("%w: %s", ErrFulfillmentUnitNotFound, uuid.New()), "not_found"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, failureReason(tt.err), "%v", tt.err)
	}
}

func TestCheckoutValidationHasNoSideEffects(t *testing.T) {
	f := newCatalogFixture(t, 2, 1)
	svc := NewOrderService(f.store, nil, nil, time.Hour)

	_, err := svc.Checkout(context.Background(), customer(), &CheckoutRequest{CartItems: f.cart(2)})
	requireValidationCode(t, err, CodeOutOfStock)

	_, err = svc.Checkout(context.Background(), customer(), &CheckoutRequest{})
	requireValidationCode(t, err, CodeEmptyCart)

	assert.Equal(t, 0, storetest.CountRows(t, f.store, "orders"))
	for _, p := range f.products {
		assert.Equal(t, 1, storetest.Stock(t, f.store, p.ID))
	}
}

func TestOrderWriterStockRaceLost(t *testing.T) {
	f := newCatalogFixture(t, 2, 3)
	writer := NewOrderWriter(f.store)

	// priced as if validated while more stock was still available
	partitions := PartitionByVendor([]ValidatedItem{
		{ProductID: f.products[0].ID, VendorID: f.vendors[0], Quantity: 1, UnitPrice: 1000},
		{ProductID: f.products[1].ID, VendorID: f.vendors[1], Quantity: 5, UnitPrice: 2000},
	})

	_, err := writer.Write(context.Background(), uuid.New(), "", partitions)

	var txErr *TransactionError
	require.True(t, errors.As(err, &txErr))
	assert.True(t, txErr.StockRaceLost())
	assert.Equal(t, f.products[1].ID, txErr.ProductID)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	assert.Equal(t, 0, storetest.CountRows(t, f.store, "orders"))
	assert.Equal(t, 3, storetest.Stock(t, f.store, f.products[0].ID))
	assert.Equal(t, 3, storetest.Stock(t, f.store, f.products[1].ID))
}

func TestOrderWriterRejectsEmptyPartitions(t *testing.T) {
	writer := NewOrderWriter(storetest.New(t))
	_, err := writer.Write(context.Background(), uuid.New(), "", nil)
	requireValidationCode(t, err, CodeEmptyCart)
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	const (
		stock   = 5
		buyers  = 12
		perCart = 1
	)
	f := newCatalogFixture(t, 1, stock)
	svc := NewOrderService(f.store, nil, nil, time.Hour)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Checkout(context.Background(), customer(), &CheckoutRequest{CartItems: f.cart(perCart)})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			var (
				vErr  *ValidationError
				txErr *TransactionError
			)
			if (errors.As(err, &vErr) && vErr.Code == CodeOutOfStock) || (errors.As(err, &txErr) && txErr.StockRaceLost()) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, stock/perCart, succeeded)
	assert.Equal(t, buyers-succeeded, rejected)
	assert.Equal(t, 0, storetest.Stock(t, f.store, f.products[0].ID))
	assert.Equal(t, succeeded, storetest.CountRows(t, f.store, "orders"))
}

func TestCheckoutIdempotentReplay(t *testing.T) {
	f := newCatalogFixture(t, 2, 10)
	cache := newFakeCache()
	publisher := &fakePublisher{}
	svc := NewOrderService(f.store, cache, publisher, time.Hour)
	ctx := context.Background()
	buyer := customer()

	req := &CheckoutRequest{CartItems: f.cart(1), IdempotencyKey: "checkout-1"}
	first, err := svc.Checkout(ctx, buyer, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := svc.Checkout(ctx, buyer, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.TotalAmount, second.TotalAmount)

	assert.Equal(t, 1, storetest.CountRows(t, f.store, "orders"))
	for _, p := range f.products {
		assert.Equal(t, 9, storetest.Stock(t, f.store, p.ID))
	}
	assert.Len(t, publisher.placed, 1)
	assert.Equal(t, 2, cache.gets)

	// another customer with the same key gets a new order
	third, err := svc.Checkout(ctx, customer(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, third.OrderID)
}

func TestCheckoutReplayWithoutCache(t *testing.T) {
	f := newCatalogFixture(t, 1, 10)
	svc := NewOrderService(f.store, nil, nil, time.Hour)
	ctx := context.Background()
	buyer := customer()

	req := &CheckoutRequest{CartItems: f.cart(2), IdempotencyKey: "no-cache"}
	first, err := svc.Checkout(ctx, buyer, req)
	require.NoError(t, err)

	second, err := svc.Checkout(ctx, buyer, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 8, storetest.Stock(t, f.store, f.products[0].ID))
}

func TestCheckoutRequiresCustomer(t *testing.T) {
	f := newCatalogFixture(t, 1, 10)
	svc := NewOrderService(f.store, nil, nil, time.Hour)
	ctx := context.Background()

	var aErr *AuthorizationError

	_, err := svc.Checkout(ctx, vendor(f.vendors[0]), &CheckoutRequest{CartItems: f.cart(1)})
	assert.True(t, errors.As(err, &aErr))

	_, err = svc.Checkout(ctx, customer(), &CheckoutRequest{CustomerID: uuid.New(), CartItems: f.cart(1)})
	assert.True(t, errors.As(err, &aErr))

	assert.Equal(t, 0, storetest.CountRows(t, f.store, "orders"))
}

func TestGetOrderAuthorization(t *testing.T) {
	f := newCatalogFixture(t, 1, 10)
	svc := NewOrderService(f.store, nil, nil, time.Hour)
	ctx := context.Background()
	buyer := customer()

	resp, err := svc.Checkout(ctx, buyer, &CheckoutRequest{CartItems: f.cart(1)})
	require.NoError(t, err)

	_, err = svc.GetOrder(ctx, buyer, resp.OrderID)
	assert.NoError(t, err)

	_, err = svc.GetOrder(ctx, admin(), resp.OrderID)
	assert.NoError(t, err)

	var aErr *AuthorizationError
	_, err = svc.GetOrder(ctx, customer(), resp.OrderID)
	assert.True(t, errors.As(err, &aErr))

	_, err = svc.GetOrder(ctx, vendor(f.vendors[0]), resp.OrderID)
	assert.True(t, errors.As(err, &aErr))

	_, err = svc.GetOrder(ctx, buyer, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOrderKeepsPriceAfterCatalogChange(t *testing.T) {
	f := newCatalogFixture(t, 1, 10)
	svc := NewOrderService(f.store, nil, nil, time.Hour)
	ctx := context.Background()
	buyer := customer()

	resp, err := svc.Checkout(ctx, buyer, &CheckoutRequest{CartItems: f.cart(3)})
	require.NoError(t, err)

	require.NoError(t, f.store.UpdateProductPrice(ctx, f.products[0].ID, 99999))

	detail, err := svc.GetOrder(ctx, buyer, resp.OrderID)
	require.NoError(t, err)
	require.Len(t, detail.LineItems, 1)
	assert.Equal(t, int64(1000), detail.LineItems[0].UnitPrice)
	assert.Equal(t, int64(3000), detail.Order.TotalAmount)
	assert.Equal(t, int64(3000), detail.FulfillmentUnits[0].Subtotal)
}

func TestCheckoutSurvivesPublishFailure(t *testing.T) {
	f := newCatalogFixture(t, 1, 10)
	publisher := &fakePublisher{err: errors.New("broker down")}
	svc := NewOrderService(f.store, nil, publisher, time.Hour)

	resp, err := svc.Checkout(context.Background(), customer(), &CheckoutRequest{CartItems: f.cart(1)})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, resp.OrderID)
	assert.Len(t, publisher.placed, 1)
	assert.Equal(t, 1, storetest.CountRows(t, f.store, "orders"))
}
