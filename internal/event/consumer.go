package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thecalistalife/review-service/internal/domain"
	"github.com/thecalistalife/review-service/internal/repository"
	pkgkafka "github.com/thecalistalife/review-service/pkg/kafka"
)

// Topics consumed to maintain the local purchase projection.
const (
	TopicOrderCreated       = "ecommerce.order.created"
	TopicOrderStatusChanged = "ecommerce.order.status_changed"
	TopicOrderCanceled      = "ecommerce.order.canceled"
	TopicPaymentSucceeded   = "ecommerce.payment.succeeded"
)

// ConsumerGroupID is the consumer group of the purchase projection.
const ConsumerGroupID = "review-service.purchases"

// OrderCreatedData is the subset of the order.created payload the projection
// reads.
type OrderCreatedData struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
	Items  []struct {
		ProductID string `json:"product_id"`
	} `json:"items"`
}

// OrderStatusChangedData is the order.status_changed payload.
type OrderStatusChangedData struct {
	OrderID   string `json:"order_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// OrderCanceledData is the order.canceled payload.
type OrderCanceledData struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// PaymentSucceededData is the subset of the payment.succeeded payload the
// projection reads.
type PaymentSucceededData struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

// ProjectionHandler applies order and payment events to the purchase
// projection. Events older than the stored row are ignored by the store.
type ProjectionHandler struct {
	projection repository.PurchaseProjection
	logger     *slog.Logger
}

// NewProjectionHandler creates a ProjectionHandler.
func NewProjectionHandler(projection repository.PurchaseProjection, logger *slog.Logger) *ProjectionHandler {
	return &ProjectionHandler{projection: projection, logger: logger}
}

// Handle routes an event by its type.
func (h *ProjectionHandler) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case TopicOrderCreated:
		return h.handleOrderCreated(ctx, event)
	case TopicOrderStatusChanged:
		return h.handleOrderStatusChanged(ctx, event)
	case TopicOrderCanceled:
		return h.handleOrderCanceled(ctx, event)
	case TopicPaymentSucceeded:
		return h.handlePaymentSucceeded(ctx, event)
	default:
		h.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

func (h *ProjectionHandler) handleOrderCreated(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderCreatedData
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}
	if data.ID == "" || data.UserID == "" {
		h.skip(ctx, event, "order id or user id missing")
		return nil
	}

	products := make([]string, 0, len(data.Items))
	for _, it := range data.Items {
		if it.ProductID != "" {
			products = append(products, it.ProductID)
		}
	}

	if err := h.projection.UpsertOrder(ctx, domain.OrderPurchase{
		OrderID:    data.ID,
		UserID:     data.UserID,
		Status:     data.Status,
		ProductIDs: products,
		UpdatedAt:  event.Timestamp,
	}); err != nil {
		return fmt.Errorf("project order %s: %w", data.ID, err)
	}

	h.logger.DebugContext(ctx, "projected order",
		slog.String("order_id", data.ID),
		slog.Int("products", len(products)),
	)
	return nil
}

func (h *ProjectionHandler) handleOrderStatusChanged(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderStatusChangedData
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}
	if data.OrderID == "" || data.NewStatus == "" {
		h.skip(ctx, event, "order id or status missing")
		return nil
	}
	if err := h.projection.UpdateOrderStatus(ctx, data.OrderID, data.NewStatus, event.Timestamp); err != nil {
		return fmt.Errorf("update order %s status: %w", data.OrderID, err)
	}
	return nil
}

func (h *ProjectionHandler) handleOrderCanceled(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderCanceledData
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}
	if data.OrderID == "" {
		h.skip(ctx, event, "order id missing")
		return nil
	}
	if err := h.projection.UpdateOrderStatus(ctx, data.OrderID, "canceled", event.Timestamp); err != nil {
		return fmt.Errorf("cancel order %s: %w", data.OrderID, err)
	}
	return nil
}

func (h *ProjectionHandler) handlePaymentSucceeded(ctx context.Context, event *pkgkafka.Event) error {
	var data PaymentSucceededData
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}
	if data.OrderID == "" {
		h.skip(ctx, event, "order id missing")
		return nil
	}
	if err := h.projection.MarkOrderPaid(ctx, data.OrderID, data.UserID, event.Timestamp); err != nil {
		return fmt.Errorf("mark order %s paid: %w", data.OrderID, err)
	}
	return nil
}

func (h *ProjectionHandler) skip(ctx context.Context, event *pkgkafka.Event, reason string) {
	h.logger.WarnContext(ctx, "skipping incomplete event",
		slog.String("event_type", event.EventType),
		slog.String("event_id", event.EventID),
		slog.String("reason", reason),
	)
}

// ConsumerOptions configure the projection consumers.
type ConsumerOptions struct {
	Brokers     []string
	Idempotency pkgkafka.IdempotencyStore
	DLQ         *pkgkafka.DLQProducer
}

// ProjectionTopics lists the topics the projection subscribes to.
func ProjectionTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderStatusChanged,
		TopicOrderCanceled,
		TopicPaymentSucceeded,
	}
}

// NewConsumers creates one consumer per projection topic. Handling is
// deduplicated by event ID when an idempotency store is given.
func NewConsumers(opts ConsumerOptions, handler *ProjectionHandler, logger *slog.Logger) []*pkgkafka.Consumer {
	handle := pkgkafka.Handler(handler.Handle)
	if opts.Idempotency != nil {
		handle = pkgkafka.IdempotentHandler(opts.Idempotency, handle, logger)
	}

	topics := ProjectionTopics()
	consumers := make([]*pkgkafka.Consumer, 0, len(topics))
	for _, topic := range topics {
		cfg := pkgkafka.ConsumerConfig{
			Brokers:  opts.Brokers,
			GroupID:  ConsumerGroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}
		consumers = append(consumers, pkgkafka.NewConsumer(cfg, handle, logger).WithDLQ(opts.DLQ))
	}
	return consumers
}
