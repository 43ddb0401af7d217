package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/thecalistalife/review-service/internal/domain"
	"github.com/thecalistalife/review-service/pkg/pagination"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Mock ReviewStore ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Insert(ctx context.Context, review *domain.Review) (*domain.Review, error) {
	args := m.Called(ctx, review)
	if fn, ok := args.Get(0).(func(context.Context, *domain.Review) (*domain.Review, error)); ok {
		return fn(ctx, review)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Review), args.Error(1)
}

func (m *mockStore) GetByID(ctx context.Context, id string) (*domain.Review, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Review), args.Error(1)
}

func (m *mockStore) List(ctx context.Context, productID string, filter domain.ListFilter, sort domain.SortOrder, page pagination.Params) ([]domain.Review, int, error) {
	args := m.Called(ctx, productID, filter, sort, page)
	reviews, _ := args.Get(0).([]domain.Review)
	return reviews, args.Int(1), args.Error(2)
}

func (m *mockStore) ListApproved(ctx context.Context, productID string) ([]domain.Review, error) {
	args := m.Called(ctx, productID)
	reviews, _ := args.Get(0).([]domain.Review)
	return reviews, args.Error(1)
}

func (m *mockStore) ImagesByReviewIDs(ctx context.Context, ids []string) (map[string][]domain.ReviewImage, error) {
	args := m.Called(ctx, ids)
	images, _ := args.Get(0).(map[string][]domain.ReviewImage)
	return images, args.Error(1)
}

func (m *mockStore) ResponsesByReviewIDs(ctx context.Context, ids []string) (map[string][]domain.ReviewResponse, error) {
	args := m.Called(ctx, ids)
	responses, _ := args.Get(0).(map[string][]domain.ReviewResponse)
	return responses, args.Error(1)
}

func (m *mockStore) UpsertVote(ctx context.Context, reviewID string, voter domain.VoterIdentity, isHelpful bool) error {
	return m.Called(ctx, reviewID, voter, isHelpful).Error(0)
}

func (m *mockStore) RecountVotes(ctx context.Context, reviewID string) (domain.VoteCounts, error) {
	args := m.Called(ctx, reviewID)
	return args.Get(0).(domain.VoteCounts), args.Error(1)
}

func (m *mockStore) AddResponse(ctx context.Context, response *domain.ReviewResponse) error {
	return m.Called(ctx, response).Error(0)
}

// --- Mock SummaryCache ---

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, productID string) (*domain.ReviewSummary, int64, error) {
	args := m.Called(ctx, productID)
	summary, _ := args.Get(0).(*domain.ReviewSummary)
	return summary, args.Get(1).(int64), args.Error(2)
}

func (m *mockCache) Set(ctx context.Context, productID string, generation int64, summary domain.ReviewSummary) error {
	return m.Called(ctx, productID, generation, summary).Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context, productID string) error {
	return m.Called(ctx, productID).Error(0)
}

// --- Mock VoteLimiter ---

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Allow(ctx context.Context, voter domain.VoterIdentity) (bool, error) {
	args := m.Called(ctx, voter)
	return args.Bool(0), args.Error(1)
}

// --- Mock EventPublisher ---

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) PublishReviewCreated(ctx context.Context, review *domain.Review) error {
	return m.Called(ctx, review).Error(0)
}

func (m *mockEvents) PublishReviewVoted(ctx context.Context, review *domain.Review, voter domain.VoterIdentity, isHelpful bool, counts domain.VoteCounts) error {
	return m.Called(ctx, review, voter, isHelpful, counts).Error(0)
}

func (m *mockEvents) PublishReviewResponded(ctx context.Context, response *domain.ReviewResponse) error {
	return m.Called(ctx, response).Error(0)
}

// --- Fake OrderLedger ---

// fakeLedger evaluates purchases over an in-memory order list. A non-nil err
// is returned for every lookup; block makes lookups wait for ctx.
type fakeLedger struct {
	mu     sync.Mutex
	orders []domain.OrderPurchase
	err    error
	block  bool
	calls  int
}

func (f *fakeLedger) HasQualifyingOrder(ctx context.Context, userID, productID string) (bool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if f.err != nil {
		return false, f.err
	}
	for _, o := range f.orders {
		if o.UserID != userID {
			continue
		}
		for _, p := range o.ProductIDs {
			if p == productID && domain.IsQualifyingOrder(o.Status, o.PaymentStatus) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }
