package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DarioJr13/invenbank-order-service/internal/models"
	"github.com/DarioJr13/invenbank-order-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger is an in-memory stand-in for the store. The mutex is held
// for the whole transaction, which models how the database serializes
// conditional updates on the same offer row.
type fakeLedger struct {
	mu          sync.Mutex
	offers      map[int64]*models.Offer
	orders      []models.Order
	lines       map[int64][]models.OrderLine
	seq         map[string]int
	usedNumbers map[string]bool
	nextOrderID int64

	getOfferCalls int
	txAttempts    int
	reuseNumber   int // force N order number collisions
}

func newFakeLedger(offers ...*models.Offer) *fakeLedger {
	l := &fakeLedger{
		offers:      make(map[int64]*models.Offer),
		lines:       make(map[int64][]models.OrderLine),
		seq:         make(map[string]int),
		usedNumbers: make(map[string]bool),
	}
	for _, o := range offers {
		l.offers[o.ID] = o
	}
	return l
}

func (l *fakeLedger) GetActiveOffer(ctx context.Context, productID, supplierID int64) (*models.Offer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.getOfferCalls++
	for _, o := range l.offers {
		if o.ProductID == productID && o.SupplierID == supplierID && o.Active {
			found := *o
			return &found, nil
		}
	}
	return nil, store.ErrOfferNotFound
}

func (l *fakeLedger) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txAttempts++

	tx := &fakeTx{ledger: l, stockDelta: make(map[int64]int)}
	if err := fn(tx); err != nil {
		return err
	}

	for offerID, delta := range tx.stockDelta {
		l.offers[offerID].AvailableStock -= delta
	}
	if tx.order != nil {
		l.orders = append(l.orders, *tx.order)
		l.usedNumbers[tx.order.OrderNumber] = true
		l.lines[tx.order.ID] = tx.lines
	}
	return nil
}

func (l *fakeLedger) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.orders {
		if l.orders[i].OrderNumber == orderNumber {
			found := l.orders[i]
			return &found, nil
		}
	}
	return nil, store.ErrOrderNotFound
}

func (l *fakeLedger) GetOrderLinesByOrderID(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.OrderLine(nil), l.lines[orderID]...), nil
}

type fakeTx struct {
	ledger     *fakeLedger
	stockDelta map[int64]int
	order      *models.Order
	lines      []models.OrderLine
}

func (t *fakeTx) ReserveStock(ctx context.Context, offerID int64, quantity int) (int, bool, error) {
	offer, ok := t.ledger.offers[offerID]
	if !ok || !offer.Active {
		return 0, false, nil
	}
	remaining := offer.AvailableStock - t.stockDelta[offerID]
	if remaining < quantity {
		return 0, false, nil
	}
	t.stockDelta[offerID] += quantity
	return remaining - quantity, true, nil
}

func (t *fakeTx) NextOrderNumber(ctx context.Context, day time.Time) (string, error) {
	key := day.Format("20060102")
	if t.ledger.reuseNumber > 0 && t.ledger.seq[key] > 0 {
		t.ledger.reuseNumber--
		return fmt.Sprintf("ORD-%s-%04d", key, t.ledger.seq[key]), nil
	}
	t.ledger.seq[key]++
	return fmt.Sprintf("ORD-%s-%04d", key, t.ledger.seq[key]), nil
}

func (t *fakeTx) InsertOrder(ctx context.Context, order *models.Order) error {
	if t.ledger.usedNumbers[order.OrderNumber] {
		return store.ErrDuplicateOrderNumber
	}
	t.ledger.nextOrderID++
	order.ID = t.ledger.nextOrderID
	order.PlacedAt = time.Now()
	t.order = order
	return nil
}

func (t *fakeTx) InsertOrderLines(ctx context.Context, orderID int64, lines []models.OrderLine) error {
	t.lines = append([]models.OrderLine(nil), lines...)
	for i := range t.lines {
		t.lines[i].OrderID = orderID
	}
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.OrderPlacedEvent
	err    error
}

func (p *fakePublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func newTestService(ledger *fakeLedger, publisher EventPublisher) *PlacementService {
	svc := NewPlacementService(ledger, ledger, nil, publisher)
	svc.now = func() time.Time {
		return time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	}
	return svc
}

func offerFixture(id, productID, supplierID, price int64, stock int) *models.Offer {
	return &models.Offer{
		ID:             id,
		ProductID:      productID,
		SupplierID:     supplierID,
		UnitPrice:      price,
		AvailableStock: stock,
		Active:         true,
	}
}

func TestPlaceOrderHappyPath(t *testing.T) {
	ledger := newFakeLedger(offerFixture(1, 1, 1, 1000, 20))
	svc := newTestService(ledger, nil)

	placed, err := svc.PlaceOrder(context.Background(), 42, "1 Main St",
		[]LineRequest{{ProductID: 1, SupplierID: 1, Quantity: 3}})

	require.NoError(t, err)
	assert.Equal(t, "ORD-20240615-0001", placed.Order.OrderNumber)
	assert.Equal(t, int64(3000), placed.Order.TotalAmount)
	assert.Equal(t, models.OrderStatusPending, placed.Order.Status)
	assert.Equal(t, int64(42), placed.Order.BuyerID)
	require.Len(t, placed.Lines, 1)
	assert.Equal(t, int64(1000), placed.Lines[0].UnitPrice)
	assert.Equal(t, 17, ledger.offers[1].AvailableStock)
}

func TestPlaceOrderZeroQuantity(t *testing.T) {
	ledger := newFakeLedger(offerFixture(1, 1, 1, 1000, 20))
	svc := newTestService(ledger, nil)

	_, err := svc.PlaceOrder(context.Background(), 42, "1 Main St",
		[]LineRequest{{ProductID: 1, SupplierID: 1, Quantity: 0}})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, int64(1), validationErr.ProductID)

	// rejected before any store access
	assert.Zero(t, ledger.getOfferCalls)
	assert.Zero(t, ledger.txAttempts)
	assert.Equal(t, 20, ledger.offers[1].AvailableStock)
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	svc := newTestService(newFakeLedger(), nil)

	_, err := svc.PlaceOrder(context.Background(), 42, "1 Main St", nil)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestPlaceOrderMissingShippingAddress(t *testing.T) {
	svc := newTestService(newFakeLedger(offerFixture(1, 1, 1, 1000, 20)), nil)

	_, err := svc.PlaceOrder(context.Background(), 42, "",
		[]LineRequest{{ProductID: 1, SupplierID: 1, Quantity: 1}})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestPlaceOrderUnknownPairing(t *testing.T) {
	ledger := newFakeLedger(offerFixture(1, 1, 1, 1000, 20))
	svc := newTestService(ledger, nil)

	_, err := svc.PlaceOrder(context.Background(), 42, "1 Main St",
		[]LineRequest{{ProductID: 1, SupplierID: 99, Quantity: 1}})

	var notFoundErr *NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
	assert.Equal(t, int64(99), notFoundErr.SupplierID)
	assert.Zero(t, ledger.txAttempts)
}

func TestPlaceOrderMixedLineFailure(t *testing.T) {
	ledger := newFakeLedger(offerFixture(1, 1, 1, 1000, 20))
	svc := newTestService(ledger, nil)

	_, err := svc.PlaceOrder(context.Background(), 42, "1 Main St", []LineRequest{
		{ProductID: 1, SupplierID: 1, Quantity: 3},
		{ProductID: 2, SupplierID: 7, Quantity: 1},
	})

	var notFoundErr *NotFoundError
	require.ErrorAs(t, err, &notFoundErr)

	// first line's stock untouched, no order rows
	assert.Equal(t, 20, ledger.offers[1].AvailableStock)
	assert.Empty(t, ledger.orders)
	assert.Zero(t, ledger.txAttempts)
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	ledger := newFakeLedger(offerFixture(1, 1, 1, 1000, 2))
	svc := newTestService(ledger, nil)

	_, err := svc.PlaceOrder(context.Background(), 42, "1 Main St",
		[]LineRequest{{ProductID: 1, SupplierID: 1, Quantity: 3}})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Quantity)
	assert.Equal(t, 2, ledger.offers[1].AvailableStock)
	assert.Empty(t, ledger.orders)
}

func TestPlaceOrderAtomicityOnLaterLineFailure(t *testing.T) {
	ledger := newFakeLedger(
		offerFixture(1, 1, 1, 1000, 20),
		offerFixture(2, 2, 1, 500, 1),
	)
	svc := newTestService(ledger, nil)

	_, err := svc.PlaceOrder(context.Background(), 42, "1 Main St", []LineRequest{
		{ProductID: 1, SupplierID: 1, Quantity: 3},
		{ProductID: 2, SupplierID: 1, Quantity: 5},
	})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(2), stockErr.ProductID)

	// the first line's reservation rolled back with the transaction
	assert.Equal(t, 20, ledger.offers[1].AvailableStock)
	assert.Equal(t, 1, ledger.offers[2].AvailableStock)
	assert.Empty(t, ledger.orders)
}

func TestPlaceOrderExactContention(t *testing.T) {
	ledger := newFakeLedger(offerFixture(1, 1, 1, 1000, 5))
	svc := newTestService(ledger, nil)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.PlaceOrder(context.Background(), int64(i+1), "1 Main St",
				[]LineRequest{{ProductID: 1, SupplierID: 1, Quantity: 3}})
		}(i)
	}
	wg.Wait()

	var succeeded, failed int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var stockErr *InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		failed++
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, ledger.offers[1].AvailableStock)
}

func TestPlaceOrderNoOverselling(t *testing.T) {
	const initialStock = 10
	ledger := newFakeLedger(offerFixture(1, 1, 1, 1000, initialStock))
	svc := newTestService(ledger, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.PlaceOrder(context.Background(), int64(i+1), "1 Main St",
				[]LineRequest{{ProductID: 1, SupplierID: 1, Quantity: 2}})
		}(i)
	}
	wg.Wait()

	var committed int
	for id := range ledger.lines {
		for _, line := range ledger.lines[id] {
			committed += line.Quantity
		}
	}

	assert.LessOrEqual(t, committed, initialStock)
	assert.GreaterOrEqual(t, ledger.offers[1].AvailableStock, 0)
	assert.Equal(t, initialStock-committed, ledger.offers[1].AvailableStock)
}

func TestPlaceOrderNumberUniquenessUnderConcurrency(t *testing.T) {
	const n = 20
	ledger := newFakeLedger(offerFixture(1, 1, 1, 1000, 1000))
	svc := newTestService(ledger, nil)

	var wg sync.WaitGroup
	numbers := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			placed, err := svc.PlaceOrder(context.Background(), int64(i+1), "1 Main St",
				[]LineRequest{{ProductID: 1, SupplierID: 1, Quantity: 1}})
			if err == nil {
				numbers[i] = placed.Order.OrderNumber
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, number := range numbers {
		require.NotEmpty(t, number)
		assert.False(t, seen[number], "duplicate order number %s", number)
		seen[number] = true
	}
	assert.Len(t, seen, n)
}

func TestPlaceOrderNumberCollisionRetried(t *testing.T) {
	ledger := newFakeLedger(offerFixture(1, 1, 1, 1000, 20))
	svc := newTestService(ledger, nil)

	// seed one committed order, then force the allocator to hand out its
	// number once
	_, err := svc.PlaceOrder(context.Background(), 1, "1 Main St",
		[]LineRequest{{ProductID: 1, SupplierID: 1, Quantity: 1}})
	require.NoError(t, err)

	ledger.reuseNumber = 1
	attempts := ledger.txAttempts

	placed, err := svc.PlaceOrder(context.Background(), 2, "2 Main St",
		[]LineRequest{{ProductID: 1, SupplierID: 1, Quantity: 1}})

	require.NoError(t, err)
	assert.Equal(t, attempts+2, ledger.txAttempts, "collision should retry the whole transaction")
	assert.Equal(t, "ORD-20240615-0002", placed.Order.OrderNumber)
	assert.Equal(t, 18, ledger.offers[1].AvailableStock)
}

func TestPlaceOrderPriceCapture(t *testing.T) {
	ledger := newFakeLedger(offerFixture(1, 1, 1, 1000, 20))
	svc := newTestService(ledger, nil)

	placed, err := svc.PlaceOrder(context.Background(), 42, "1 Main St",
		[]LineRequest{{ProductID: 1, SupplierID: 1, Quantity: 3}})
	require.NoError(t, err)

	// a later price change must not alter the committed order
	ledger.offers[1].UnitPrice = 9999

	reread, err := svc.GetOrder(context.Background(), placed.Order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), reread.Order.TotalAmount)
	require.Len(t, reread.Lines, 1)
	assert.Equal(t, int64(1000), reread.Lines[0].UnitPrice)

	var sum int64
	for _, line := range reread.Lines {
		sum += int64(line.Quantity) * line.UnitPrice
	}
	assert.Equal(t, reread.Order.TotalAmount, sum)
}

func TestPlaceOrderPublishesEvent(t *testing.T) {
	ledger := newFakeLedger(offerFixture(1, 1, 1, 1000, 20))
	publisher := &fakePublisher{}
	svc := newTestService(ledger, publisher)

	placed, err := svc.PlaceOrder(context.Background(), 42, "1 Main St",
		[]LineRequest{{ProductID: 1, SupplierID: 1, Quantity: 2}})
	require.NoError(t, err)

	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, models.EventTypeOrderPlaced, event.EventType)
	assert.Equal(t, placed.Order.OrderNumber, event.OrderNumber)
	assert.Equal(t, int64(2000), event.TotalAmount)
	require.Len(t, event.Lines, 1)
	assert.Equal(t, 2, event.Lines[0].Quantity)
}

func TestPlaceOrderPublishFailureDoesNotAbort(t *testing.T) {
	ledger := newFakeLedger(offerFixture(1, 1, 1, 1000, 20))
	publisher := &fakePublisher{err: errors.New("broker down")}
	svc := newTestService(ledger, publisher)

	placed, err := svc.PlaceOrder(context.Background(), 42, "1 Main St",
		[]LineRequest{{ProductID: 1, SupplierID: 1, Quantity: 2}})

	require.NoError(t, err)
	assert.Equal(t, 18, ledger.offers[1].AvailableStock)
	assert.NotEmpty(t, placed.Order.OrderNumber)
}

func TestPlaceOrderMultiLineTotals(t *testing.T) {
	ledger := newFakeLedger(
		offerFixture(1, 1, 1, 1000, 20),
		offerFixture(2, 2, 3, 250, 8),
	)
	svc := newTestService(ledger, nil)

	placed, err := svc.PlaceOrder(context.Background(), 42, "1 Main St", []LineRequest{
		{ProductID: 1, SupplierID: 1, Quantity: 2},
		{ProductID: 2, SupplierID: 3, Quantity: 4},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(2*1000+4*250), placed.Order.TotalAmount)
	assert.Equal(t, 18, ledger.offers[1].AvailableStock)
	assert.Equal(t, 4, ledger.offers[2].AvailableStock)
}

func TestPlaceOrderNegativeQuantity(t *testing.T) {
	ledger := newFakeLedger(offerFixture(1, 1, 1, 1000, 20))
	svc := newTestService(ledger, nil)

	_, err := svc.PlaceOrder(context.Background(), 42, "1 Main St",
		[]LineRequest{{ProductID: 1, SupplierID: 1, Quantity: -2}})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Zero(t, ledger.getOfferCalls)
}
