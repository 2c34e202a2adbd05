package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"fulfillment-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock is returned when a conditional stock decrement matches no row
	ErrInsufficientStock = errors.New("insufficient stock")
)

//go:embed schema/*.sql
var schemaFS embed.FS

const productColumns = "id, vendor_id, name, price, stock, created_at, updated_at"

type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore creates a new database store
func NewStore(driver, databaseURL string, maxOpenConns int) (*Store, error) {
	dsn := databaseURL
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn = sqliteDSN(databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// single writer connection; transactions queue on the pool
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// sqliteDSN enables WAL, foreign keys and a busy timeout unless the caller
// already passed a full DSN.
func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "?") {
		return path
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)
}

// Migrate applies the embedded schema for the store's driver. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	ddl, err := schemaFS.ReadFile("schema/" + s.driver + ".sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Driver returns the configured driver name
func (s *Store) Driver() string {
	return s.driver
}

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateProduct inserts a catalog product
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		product.ID, product.VendorID, product.Name, product.Price, product.Stock,
		product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		s.db.Rebind("SELECT "+productColumns+" FROM products WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs. Missing ids are
// simply absent from the result.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// UpdateProductPrice changes the live catalog price of a product
func (s *Store) UpdateProductPrice(ctx context.Context, productID uuid.UUID, price int64) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE products SET price = ?, updated_at = ? WHERE id = ?"),
		price, time.Now().UTC(), productID)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Sprintf("product %s", productID))
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
