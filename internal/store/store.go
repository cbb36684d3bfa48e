package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DarioJr13/invenbank-order-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var (
	// ErrOfferNotFound is returned when no active offer matches a
	// (product, supplier) pairing.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrOrderNotFound is returned when an order number is unknown.
	ErrOrderNotFound = errors.New("order not found")

	// ErrDuplicateOrderNumber is returned when an order insert hits the
	// unique index on order_number. The caller retries the whole
	// transaction with a freshly allocated number.
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetActiveOffer retrieves the active offer for a (product, supplier) pairing
func (s *Store) GetActiveOffer(ctx context.Context, productID, supplierID int64) (*models.Offer, error) {
	var offer models.Offer
	err := s.db.GetContext(ctx, &offer,
		"SELECT * FROM offers WHERE product_id = $1 AND supplier_id = $2 AND active",
		productID, supplierID)
	if err == sql.ErrNoRows {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// GetOfferByID retrieves an offer by its primary key
func (s *Store) GetOfferByID(ctx context.Context, id int64) (*models.Offer, error) {
	var offer models.Offer
	err := s.db.GetContext(ctx, &offer, "SELECT * FROM offers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// Tx is the transactional surface an order placement runs against. All
// methods execute on one open database transaction; either every effect
// commits or none does.
type Tx interface {
	ReserveStock(ctx context.Context, offerID int64, quantity int) (newStock int, ok bool, err error)
	NextOrderNumber(ctx context.Context, day time.Time) (string, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderLines(ctx context.Context, orderID int64, lines []models.OrderLine) error
}

// OrderTx implements Tx on a sqlx transaction.
type OrderTx struct {
	tx *sqlx.Tx
}

// WithinTx runs fn inside a single database transaction. Any error from
// fn, or a cancelled context, rolls back everything fn did.
func (s *Store) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&OrderTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ReserveStock decrements an offer's stock as one conditional statement.
// The check and the decrement are indivisible at the database level, so
// concurrent contenders serialize correctly: ok=false means insufficient
// stock and no mutation was performed.
func (t *OrderTx) ReserveStock(ctx context.Context, offerID int64, quantity int) (int, bool, error) {
	var newStock int
	err := t.tx.GetContext(ctx, &newStock, `
		UPDATE offers
		SET available_stock = available_stock - $2, updated_at = NOW()
		WHERE id = $1 AND active AND available_stock >= $2
		RETURNING available_stock`,
		offerID, quantity)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to reserve stock: %w", err)
	}
	return newStock, true, nil
}
