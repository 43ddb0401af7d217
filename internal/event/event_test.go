package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/thecalistalife/review-service/internal/domain"
	pkgkafka "github.com/thecalistalife/review-service/pkg/kafka"
	"github.com/thecalistalife/review-service/pkg/logger"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// --- producer ---

type published struct {
	topic string
	event *pkgkafka.Event
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, event *pkgkafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{topic: topic, event: event})
	return nil
}

func TestProducer_PublishReviewCreated(t *testing.T) {
	pub := &fakePublisher{}
	p := NewProducer(pub, newTestLogger())
	ctx := logger.WithCorrelationID(context.Background(), "corr-1")

	review := &domain.Review{
		ID:               "rev-1",
		ProductID:        "prod-1",
		UserID:           "user-1",
		Rating:           5,
		VerifiedPurchase: true,
		IsApproved:       true,
		Images:           []domain.ReviewImage{{URL: "https://cdn/a.jpg"}},
	}
	require.NoError(t, p.PublishReviewCreated(ctx, review))

	require.Len(t, pub.sent, 1)
	got := pub.sent[0]
	assert.Equal(t, "ecommerce.review.created", got.topic)
	assert.Equal(t, "rev-1", got.event.AggregateID)
	assert.Equal(t, AggregateTypeReview, got.event.AggregateType)
	assert.Equal(t, SourceReviewService, got.event.Source)
	assert.Equal(t, "corr-1", got.event.CorrelationID)

	var data ReviewCreatedData
	require.NoError(t, got.event.UnmarshalData(&data))
	assert.Equal(t, "prod-1", data.ProductID)
	assert.True(t, data.VerifiedPurchase)
	assert.Equal(t, 1, data.ImageCount)
}

func TestProducer_PublishReviewVoted(t *testing.T) {
	pub := &fakePublisher{}
	p := NewProducer(pub, newTestLogger())

	voter := domain.VoterIdentity{Kind: domain.VoterIP, Value: "10.0.0.1"}
	err := p.PublishReviewVoted(context.Background(), &domain.Review{ID: "rev-1", ProductID: "prod-1"}, voter, true, domain.VoteCounts{Helpful: 3, Unhelpful: 1})
	require.NoError(t, err)

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "ecommerce.review.voted", pub.sent[0].topic)
	assert.Empty(t, pub.sent[0].event.CorrelationID)

	var data ReviewVotedData
	require.NoError(t, pub.sent[0].event.UnmarshalData(&data))
	assert.Equal(t, "ip", data.VoterKind)
	assert.Equal(t, 3, data.HelpfulCount)
	assert.Equal(t, 1, data.UnhelpfulCount)
}

func TestProducer_PublishReviewResponded(t *testing.T) {
	pub := &fakePublisher{}
	p := NewProducer(pub, newTestLogger())

	require.NoError(t, p.PublishReviewResponded(context.Background(), &domain.ReviewResponse{
		ID: "resp-1", ReviewID: "rev-1", ResponderName: "Support",
	}))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "ecommerce.review.responded", pub.sent[0].topic)
	assert.Equal(t, "rev-1", pub.sent[0].event.AggregateID)
}

func TestProducer_PublishError(t *testing.T) {
	p := NewProducer(&fakePublisher{err: errors.New("broker down")}, newTestLogger())

	err := p.PublishReviewCreated(context.Background(), &domain.Review{ID: "rev-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

// --- projection ---

type mockProjection struct {
	mock.Mock
}

func (m *mockProjection) UpsertOrder(ctx context.Context, order domain.OrderPurchase) error {
	return m.Called(ctx, order).Error(0)
}

func (m *mockProjection) UpdateOrderStatus(ctx context.Context, orderID, status string, at time.Time) error {
	return m.Called(ctx, orderID, status, at).Error(0)
}

func (m *mockProjection) MarkOrderPaid(ctx context.Context, orderID, userID string, at time.Time) error {
	return m.Called(ctx, orderID, userID, at).Error(0)
}

var eventTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEvent(eventType string, data any) *pkgkafka.Event {
	raw, _ := json.Marshal(data)
	return &pkgkafka.Event{
		EventID:   "evt-1",
		EventType: eventType,
		Timestamp: eventTime,
		Source:    "test-service",
		Data:      raw,
	}
}

func TestProjectionHandler_OrderCreated(t *testing.T) {
	proj := new(mockProjection)
	h := NewProjectionHandler(proj, newTestLogger())

	proj.On("UpsertOrder", mock.Anything, domain.OrderPurchase{
		OrderID:    "ord-1",
		UserID:     "user-1",
		Status:     "pending",
		ProductIDs: []string{"prod-1", "prod-2"},
		UpdatedAt:  eventTime,
	}).Return(nil)

	err := h.Handle(context.Background(), newTestEvent(TopicOrderCreated, map[string]any{
		"id":      "ord-1",
		"user_id": "user-1",
		"status":  "pending",
		"items": []map[string]any{
			{"product_id": "prod-1", "quantity": 1},
			{"product_id": "prod-2", "quantity": 2},
			{"product_id": ""},
		},
		"total_amount": 4999,
	}))

	require.NoError(t, err)
	proj.AssertExpectations(t)
}

func TestProjectionHandler_StatusChangedAndCanceled(t *testing.T) {
	proj := new(mockProjection)
	h := NewProjectionHandler(proj, newTestLogger())

	proj.On("UpdateOrderStatus", mock.Anything, "ord-1", "shipped", eventTime).Return(nil).Once()
	proj.On("UpdateOrderStatus", mock.Anything, "ord-2", "canceled", eventTime).Return(nil).Once()

	require.NoError(t, h.Handle(context.Background(), newTestEvent(TopicOrderStatusChanged,
		OrderStatusChangedData{OrderID: "ord-1", OldStatus: "confirmed", NewStatus: "shipped"})))
	require.NoError(t, h.Handle(context.Background(), newTestEvent(TopicOrderCanceled,
		OrderCanceledData{OrderID: "ord-2", Reason: "customer request"})))

	proj.AssertExpectations(t)
}

func TestProjectionHandler_PaymentSucceeded(t *testing.T) {
	proj := new(mockProjection)
	h := NewProjectionHandler(proj, newTestLogger())

	proj.On("MarkOrderPaid", mock.Anything, "ord-1", "user-1", eventTime).Return(nil)

	require.NoError(t, h.Handle(context.Background(), newTestEvent(TopicPaymentSucceeded,
		map[string]any{"id": "pay-1", "order_id": "ord-1", "user_id": "user-1", "amount": 4999})))
	proj.AssertExpectations(t)
}

func TestProjectionHandler_IncompleteEventsSkipped(t *testing.T) {
	proj := new(mockProjection)
	h := NewProjectionHandler(proj, newTestLogger())

	assert.NoError(t, h.Handle(context.Background(), newTestEvent(TopicOrderCreated, map[string]any{"id": "ord-1"})))
	assert.NoError(t, h.Handle(context.Background(), newTestEvent(TopicOrderStatusChanged, map[string]any{"order_id": "ord-1"})))
	assert.NoError(t, h.Handle(context.Background(), newTestEvent(TopicOrderCanceled, map[string]any{})))
	assert.NoError(t, h.Handle(context.Background(), newTestEvent(TopicPaymentSucceeded, map[string]any{})))
	assert.NoError(t, h.Handle(context.Background(), newTestEvent("ecommerce.cart.updated", map[string]any{})))

	proj.AssertNotCalled(t, "UpsertOrder", mock.Anything, mock.Anything)
	proj.AssertNotCalled(t, "UpdateOrderStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	proj.AssertNotCalled(t, "MarkOrderPaid", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProjectionHandler_Errors(t *testing.T) {
	proj := new(mockProjection)
	h := NewProjectionHandler(proj, newTestLogger())

	bad := &pkgkafka.Event{EventType: TopicOrderCreated, Data: json.RawMessage(`"not an object"`)}
	assert.Error(t, h.Handle(context.Background(), bad))

	proj.On("MarkOrderPaid", mock.Anything, "ord-1", "", eventTime).Return(errors.New("db down"))
	err := h.Handle(context.Background(), newTestEvent(TopicPaymentSucceeded, PaymentSucceededData{OrderID: "ord-1"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark order ord-1 paid")
}

type memoryStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (s *memoryStore) Contains(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[id], nil
}

func (s *memoryStore) Add(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[id] = true
	return nil
}

func TestProjectionHandler_RedeliveryIsDeduplicated(t *testing.T) {
	proj := new(mockProjection)
	proj.On("MarkOrderPaid", mock.Anything, "ord-1", "user-1", eventTime).Return(nil).Once()

	h := NewProjectionHandler(proj, newTestLogger())
	handle := pkgkafka.IdempotentHandler(&memoryStore{seen: map[string]bool{}}, h.Handle, newTestLogger())

	evt := newTestEvent(TopicPaymentSucceeded, PaymentSucceededData{OrderID: "ord-1", UserID: "user-1"})
	require.NoError(t, handle(context.Background(), evt))
	require.NoError(t, handle(context.Background(), evt))

	proj.AssertNumberOfCalls(t, "MarkOrderPaid", 1)
}

func TestProjectionTopics(t *testing.T) {
	assert.ElementsMatch(t, []string{
		"ecommerce.order.created",
		"ecommerce.order.status_changed",
		"ecommerce.order.canceled",
		"ecommerce.payment.succeeded",
	}, ProjectionTopics())
}
