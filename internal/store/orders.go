package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DarioJr13/invenbank-order-service/internal/models"

	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

// NextOrderNumber allocates the next day-scoped order number as a single
// atomic upsert on the counter row. Concurrent callers each observe a
// distinct sequence value; gaps from aborted transactions are fine.
func (t *OrderTx) NextOrderNumber(ctx context.Context, day time.Time) (string, error) {
	var seq int
	err := t.tx.GetContext(ctx, &seq, `
		INSERT INTO order_counters (day, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET last_seq = order_counters.last_seq + 1
		RETURNING last_seq`,
		day.Format("2006-01-02"))
	if err != nil {
		return "", fmt.Errorf("failed to advance order counter: %w", err)
	}
	return fmt.Sprintf("ORD-%s-%04d", day.Format("20060102"), seq), nil
}

// InsertOrder inserts the order header. A collision on the order_number
// unique index surfaces as ErrDuplicateOrderNumber.
func (t *OrderTx) InsertOrder(ctx context.Context, order *models.Order) error {
	err := t.tx.GetContext(ctx, order, `
		INSERT INTO orders (order_number, buyer_id, status, total_amount, shipping_address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, order_number, buyer_id, status, total_amount, shipping_address, placed_at`,
		order.OrderNumber, order.BuyerID, order.Status, order.TotalAmount, order.ShippingAddress)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// InsertOrderLines inserts all lines of an order
func (t *OrderTx) InsertOrderLines(ctx context.Context, orderID int64, lines []models.OrderLine) error {
	for i := range lines {
		lines[i].OrderID = orderID
		err := t.tx.GetContext(ctx, &lines[i].ID, `
			INSERT INTO order_lines (order_id, offer_id, product_id, supplier_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			lines[i].OrderID, lines[i].OfferID, lines[i].ProductID,
			lines[i].SupplierID, lines[i].Quantity, lines[i].UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to insert order line: %w", err)
		}
	}
	return nil
}

// GetOrderByNumber retrieves an order by its order number
func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE order_number = $1", orderNumber)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderLinesByOrderID retrieves all lines for an order
func (s *Store) GetOrderLinesByOrderID(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", orderID)
	return lines, err
}

// GetOrdersByBuyerID retrieves orders for a buyer
func (s *Store) GetOrdersByBuyerID(ctx context.Context, buyerID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE buyer_id = $1 ORDER BY placed_at DESC", buyerID)
	return orders, err
}

// RecordOrderAudit records a placement into the audit trail, idempotent
// on event ID so redelivered events never duplicate rows.
func (s *Store) RecordOrderAudit(ctx context.Context, audit *models.OrderAudit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_audit (event_id, order_number, buyer_id, total_amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		audit.EventID, audit.OrderNumber, audit.BuyerID, audit.TotalAmount)
	return err
}
