// Package storetest opens throwaway SQLite stores for tests.
package storetest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// New opens a migrated SQLite store in the test's temp dir
func New(t testing.TB) *store.Store {
	t.Helper()

	s, err := store.NewStore(store.DriverSQLite, filepath.Join(t.TempDir(), "fulfillment.db"), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// SeedProduct inserts a product owned by vendorID
func SeedProduct(t testing.TB, s *store.Store, vendorID uuid.UUID, price int64, stock int) models.Product {
	t.Helper()

	p := models.Product{
		VendorID: vendorID,
		Name:     fmt.Sprintf("product-%d-%d", price, stock),
		Price:    price,
		Stock:    stock,
	}
	require.NoError(t, s.CreateProduct(context.Background(), &p))
	return p
}

// Stock returns the current stock of a product
func Stock(t testing.TB, s *store.Store, productID uuid.UUID) int {
	t.Helper()

	p, err := s.GetProductByID(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

// CountRows returns the number of rows in table
func CountRows(t testing.TB, s *store.Store, table string) int {
	t.Helper()

	var n int
	require.NoError(t, s.GetDB().Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}

// FailNthLineItem installs a trigger that aborts the nth line item insert
// of any order
func FailNthLineItem(t testing.TB, s *store.Store, n int) {
	t.Helper()

	_, err := s.GetDB().Exec(fmt.Sprintf(`
		CREATE TRIGGER fail_line_item BEFORE INSERT ON line_items
		WHEN (SELECT COUNT(*) FROM line_items WHERE order_id = NEW.order_id) = %d
		BEGIN
			SELECT RAISE(ABORT, 'forced line item failure');
		END;`, n-1))
	require.NoError(t, err)
}
