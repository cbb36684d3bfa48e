package service

import "fmt"

// ValidationError reports a malformed request line or payload. The
// offending line is identified so the caller can fix their cart.
type ValidationError struct {
	ProductID  int64
	SupplierID int64
	Quantity   int
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.ProductID == 0 && e.SupplierID == 0 {
		return fmt.Sprintf("invalid order request: %s", e.Reason)
	}
	return fmt.Sprintf("invalid line (product=%d, supplier=%d, quantity=%d): %s",
		e.ProductID, e.SupplierID, e.Quantity, e.Reason)
}

// NotFoundError reports that no active offer matches a requested
// (product, supplier) pairing.
type NotFoundError struct {
	ProductID  int64
	SupplierID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no active offer for product=%d, supplier=%d", e.ProductID, e.SupplierID)
}

// InsufficientStockError reports that an offer's stock was consumed by a
// concurrent order between validation and reservation. The caller may
// retry with a reduced quantity.
type InsufficientStockError struct {
	ProductID  int64
	SupplierID int64
	Quantity   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product=%d, supplier=%d (requested %d)",
		e.ProductID, e.SupplierID, e.Quantity)
}
