package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DarioJr13/invenbank-order-service/internal/models"
	"github.com/DarioJr13/invenbank-order-service/internal/store"
	"github.com/DarioJr13/invenbank-order-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxOrderNumberRetries bounds the internal retry loop on order number
// collisions. The counter upsert makes collisions near-impossible; the
// unique index on orders.order_number is the backstop.
const maxOrderNumberRetries = 3

// LineRequest is one requested (product, supplier, quantity) tuple.
type LineRequest struct {
	ProductID  int64 `json:"product_id" binding:"required"`
	SupplierID int64 `json:"supplier_id" binding:"required"`
	Quantity   int   `json:"quantity"`
}

// PlacedOrder is the fully materialized result of a committed placement.
type PlacedOrder struct {
	Order models.Order
	Lines []models.OrderLine
}

// Ledger is the transactional store surface the placement runs against.
type Ledger interface {
	GetActiveOffer(ctx context.Context, productID, supplierID int64) (*models.Offer, error)
	WithinTx(ctx context.Context, fn func(tx store.Tx) error) error
}

// OfferCache serves offer lookups for the read-only validation phase.
// It is advisory only; the authoritative stock check is the conditional
// decrement inside the transaction.
type OfferCache interface {
	GetOffer(ctx context.Context, productID, supplierID int64) (*models.Offer, error)
	SetOffer(ctx context.Context, offer *models.Offer) error
	InvalidateOffer(ctx context.Context, productID, supplierID int64) error
}

// EventPublisher publishes domain events after commit.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
}

// OrderReader reads committed orders back for the API layer.
type OrderReader interface {
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	GetOrderLinesByOrderID(ctx context.Context, orderID int64) ([]models.OrderLine, error)
}

// PlacementService owns the order placement transaction: validation,
// stock reservation, pricing capture, order number allocation, and
// persistence as one atomic unit.
type PlacementService struct {
	ledger    Ledger
	reader    OrderReader
	cache     OfferCache
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// NewPlacementService creates a new placement service. Cache and
// publisher may be nil.
func NewPlacementService(ledger Ledger, reader OrderReader, cache OfferCache, publisher EventPublisher) *PlacementService {
	return &PlacementService{
		ledger:    ledger,
		reader:    reader,
		cache:     cache,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       time.Now,
		newID:     newEventID,
	}
}

// PlaceOrder validates the requested lines, then reserves stock, captures
// pricing, allocates an order number, and persists the order header and
// lines inside one database transaction. On any failure no stock changes
// and no order rows remain.
func (s *PlacementService) PlaceOrder(ctx context.Context, buyerID int64, shippingAddress string, lines []LineRequest) (*PlacedOrder, error) {
	ctx, span := util.StartSpan(ctx, "PlacementService.PlaceOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderPlacementLatency.Observe(time.Since(start).Seconds())
	}()

	offers, err := s.validateLines(ctx, shippingAddress, lines)
	if err != nil {
		util.OrderPlacementFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	placed, err := s.commitOrder(ctx, buyerID, shippingAddress, lines, offers)
	if err != nil {
		util.OrderPlacementFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.String("order_number", placed.Order.OrderNumber),
		zap.Int64("buyer_id", buyerID),
		zap.Int64("total_amount", placed.Order.TotalAmount))

	s.afterCommit(ctx, placed)
	return placed, nil
}

// validateLines is the read-only fast-fail pre-check. It resolves every
// requested pairing against the active offers without touching anything;
// the authoritative re-check happens under the transaction.
func (s *PlacementService) validateLines(ctx context.Context, shippingAddress string, lines []LineRequest) ([]*models.Offer, error) {
	ctx, span := util.StartSpan(ctx, "PlacementService.validateLines")
	defer span.End()

	if shippingAddress == "" {
		return nil, &ValidationError{Reason: "shipping address is required"}
	}
	if len(lines) == 0 {
		return nil, &ValidationError{Reason: "order must contain at least one line"}
	}

	offers := make([]*models.Offer, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, &ValidationError{
				ProductID:  line.ProductID,
				SupplierID: line.SupplierID,
				Quantity:   line.Quantity,
				Reason:     "quantity must be positive",
			}
		}

		offer, err := s.resolveOffer(ctx, line.ProductID, line.SupplierID)
		if err != nil {
			if errors.Is(err, store.ErrOfferNotFound) {
				return nil, &NotFoundError{ProductID: line.ProductID, SupplierID: line.SupplierID}
			}
			return nil, fmt.Errorf("failed to resolve offer: %w", err)
		}
		offers = append(offers, offer)
	}

	return offers, nil
}

// resolveOffer looks an offer up through the cache, falling back to the
// database on a miss.
func (s *PlacementService) resolveOffer(ctx context.Context, productID, supplierID int64) (*models.Offer, error) {
	if s.cache != nil {
		offer, err := s.cache.GetOffer(ctx, productID, supplierID)
		if err != nil {
			s.logger.Warn("Offer cache lookup failed",
				zap.Int64("product_id", productID),
				zap.Int64("supplier_id", supplierID),
				zap.Error(err))
		} else if offer != nil {
			util.OfferCacheHitsTotal.Inc()
			return offer, nil
		}
		util.OfferCacheMissesTotal.Inc()
	}

	offer, err := s.ledger.GetActiveOffer(ctx, productID, supplierID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetOffer(ctx, offer); err != nil {
			s.logger.Warn("Failed to cache offer", zap.Error(err))
		}
	}
	return offer, nil
}

// commitOrder runs the Reserving and Persisting phases in one database
// transaction, retrying the whole attempt on an order number collision.
func (s *PlacementService) commitOrder(ctx context.Context, buyerID int64, shippingAddress string, lines []LineRequest, offers []*models.Offer) (*PlacedOrder, error) {
	ctx, span := util.StartSpan(ctx, "PlacementService.commitOrder")
	defer span.End()

	var placed *PlacedOrder
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		err := s.ledger.WithinTx(ctx, func(tx store.Tx) error {
			orderLines := make([]models.OrderLine, 0, len(lines))
			var total int64

			for i, line := range lines {
				offer := offers[i]
				_, ok, err := tx.ReserveStock(ctx, offer.ID, line.Quantity)
				if err != nil {
					return fmt.Errorf("failed to reserve stock: %w", err)
				}
				if !ok {
					util.StockReservationsFailed.Inc()
					return &InsufficientStockError{
						ProductID:  line.ProductID,
						SupplierID: line.SupplierID,
						Quantity:   line.Quantity,
					}
				}

				total += offer.UnitPrice * int64(line.Quantity)
				orderLines = append(orderLines, models.OrderLine{
					OfferID:    offer.ID,
					ProductID:  line.ProductID,
					SupplierID: line.SupplierID,
					Quantity:   line.Quantity,
					UnitPrice:  offer.UnitPrice,
				})
			}

			number, err := tx.NextOrderNumber(ctx, s.now())
			if err != nil {
				return err
			}

			order := models.Order{
				OrderNumber:     number,
				BuyerID:         buyerID,
				Status:          models.OrderStatusPending,
				TotalAmount:     total,
				ShippingAddress: shippingAddress,
			}
			if err := tx.InsertOrder(ctx, &order); err != nil {
				return err
			}
			if err := tx.InsertOrderLines(ctx, order.ID, orderLines); err != nil {
				return err
			}

			placed = &PlacedOrder{Order: order, Lines: orderLines}
			return nil
		})

		if errors.Is(err, store.ErrDuplicateOrderNumber) {
			util.OrderNumberRetriesTotal.Inc()
			s.logger.Warn("Order number collision, retrying", zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}
		return placed, nil
	}

	return nil, fmt.Errorf("failed to allocate order number after %d attempts", maxOrderNumberRetries)
}

// afterCommit handles best-effort side work once the order is durable:
// cache invalidation for decremented offers and the order.placed event.
// Failures here never affect the committed order.
func (s *PlacementService) afterCommit(ctx context.Context, placed *PlacedOrder) {
	if s.cache != nil {
		for _, line := range placed.Lines {
			if err := s.cache.InvalidateOffer(ctx, line.ProductID, line.SupplierID); err != nil {
				s.logger.Warn("Failed to invalidate cached offer",
					zap.Int64("product_id", line.ProductID),
					zap.Int64("supplier_id", line.SupplierID),
					zap.Error(err))
			}
		}
	}

	if s.publisher == nil {
		return
	}

	lineData := make([]models.OrderLineData, 0, len(placed.Lines))
	for _, line := range placed.Lines {
		lineData = append(lineData, models.OrderLineData{
			ProductID:  line.ProductID,
			SupplierID: line.SupplierID,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
		})
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   s.newID(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: s.now(),
		},
		OrderNumber: placed.Order.OrderNumber,
		BuyerID:     placed.Order.BuyerID,
		TotalAmount: placed.Order.TotalAmount,
		Lines:       lineData,
	}

	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event",
			zap.String("order_number", placed.Order.OrderNumber),
			zap.Error(err))
	}
}

// GetOrder retrieves a committed order with its lines.
func (s *PlacementService) GetOrder(ctx context.Context, orderNumber string) (*PlacedOrder, error) {
	order, err := s.reader.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	lines, err := s.reader.GetOrderLinesByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &PlacedOrder{Order: *order, Lines: lines}, nil
}

func newEventID() string {
	return uuid.New().String()
}

// failureReason maps an error to its metrics label.
func failureReason(err error) string {
	var ve *ValidationError
	var nfe *NotFoundError
	var ise *InsufficientStockError
	switch {
	case errors.As(err, &ve):
		return "invalid_line"
	case errors.As(err, &nfe):
		return "offer_not_found"
	case errors.As(err, &ise):
		return "insufficient_stock"
	default:
		return "db_error"
	}
}
