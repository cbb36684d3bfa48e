package models

import "time"

// Offer is a priced, stocked pairing of one product with one supplier.
// It is the authoritative record of price and availability; stock is
// decremented only through the store's atomic reservation primitive.
type Offer struct {
	ID             int64     `db:"id" json:"id"`
	ProductID      int64     `db:"product_id" json:"product_id"`
	SupplierID     int64     `db:"supplier_id" json:"supplier_id"`
	UnitPrice      int64     `db:"unit_price" json:"unit_price"`
	AvailableStock int       `db:"available_stock" json:"available_stock"`
	Active         bool      `db:"active" json:"active"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Order represents a committed customer order. Immutable after commit
// except for status transitions handled outside this service.
type Order struct {
	ID              int64     `db:"id" json:"id"`
	OrderNumber     string    `db:"order_number" json:"order_number"`
	BuyerID         int64     `db:"buyer_id" json:"buyer_id"`
	Status          string    `db:"status" json:"status"`
	TotalAmount     int64     `db:"total_amount" json:"total_amount"`
	ShippingAddress string    `db:"shipping_address" json:"shipping_address"`
	PlacedAt        time.Time `db:"placed_at" json:"placed_at"`
}

// OrderLine is one quantity-at-captured-price entry within an order.
// UnitPrice is snapshotted from the offer at commit time and never
// recomputed, even if the offer's price changes later.
type OrderLine struct {
	ID         int64 `db:"id" json:"id"`
	OrderID    int64 `db:"order_id" json:"order_id"`
	OfferID    int64 `db:"offer_id" json:"offer_id"`
	ProductID  int64 `db:"product_id" json:"product_id"`
	SupplierID int64 `db:"supplier_id" json:"supplier_id"`
	Quantity   int   `db:"quantity" json:"quantity"`
	UnitPrice  int64 `db:"unit_price" json:"unit_price"`
}

// Order statuses
const (
	OrderStatusPending   = "PENDING"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusCancelled = "CANCELLED"
)

// OrderAudit is one row of the placement audit trail, written by the
// background worker from order.placed events.
type OrderAudit struct {
	EventID     string    `db:"event_id"`
	OrderNumber string    `db:"order_number"`
	BuyerID     int64     `db:"buyer_id"`
	TotalAmount int64     `db:"total_amount"`
	RecordedAt  time.Time `db:"recorded_at"`
}
