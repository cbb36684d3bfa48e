package worker

import (
	"context"
	"log"

	"github.com/DarioJr13/invenbank-order-service/internal/broker"
	"github.com/DarioJr13/invenbank-order-service/internal/models"
	"github.com/DarioJr13/invenbank-order-service/internal/store"
	"github.com/DarioJr13/invenbank-order-service/internal/util"

	"go.uber.org/zap"
)

// AuditWorker consumes order.placed events and records each placement
// into the audit trail. Inserts are idempotent on event ID, so event
// redelivery never duplicates rows.
type AuditWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	logger       *zap.Logger
}

// NewAuditWorker creates a new audit worker
func NewAuditWorker(consumer *broker.Consumer, st *store.Store) *AuditWorker {
	w := &AuditWorker{
		consumer: consumer,
		store:    st,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPlaced(w.handleOrderPlaced)
	w.eventHandler = eventHandler

	return w
}

func (w *AuditWorker) handleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	audit := &models.OrderAudit{
		EventID:     event.EventID,
		OrderNumber: event.OrderNumber,
		BuyerID:     event.BuyerID,
		TotalAmount: event.TotalAmount,
	}

	if err := w.store.RecordOrderAudit(ctx, audit); err != nil {
		w.logger.Error("Failed to record order audit",
			zap.String("order_number", event.OrderNumber),
			zap.Error(err))
		return err
	}

	util.AuditRecordsTotal.Inc()
	w.logger.Info("Placement recorded",
		zap.String("order_number", event.OrderNumber),
		zap.Int64("buyer_id", event.BuyerID))
	return nil
}

// Start starts the worker
func (w *AuditWorker) Start(ctx context.Context) error {
	log.Println("Starting audit worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AuditWorker) Stop() error {
	log.Println("Stopping audit worker...")
	return w.consumer.Close()
}
