package repository

import (
	"context"
	"time"

	"github.com/thecalistalife/review-service/internal/domain"
	"github.com/thecalistalife/review-service/pkg/pagination"
)

// ReviewStore persists reviews together with their images, official responses
// and helpfulness votes.
type ReviewStore interface {
	// Insert stores a new review and its images atomically. The store assigns
	// the id and creation time and returns the stored review.
	Insert(ctx context.Context, review *domain.Review) (*domain.Review, error)

	// GetByID returns a review without images or responses, or
	// apperrors.ErrNotFound.
	GetByID(ctx context.Context, id string) (*domain.Review, error)

	// List returns one page of approved reviews for a product and the number
	// of reviews matching filter across all pages.
	List(ctx context.Context, productID string, filter domain.ListFilter, sort domain.SortOrder, page pagination.Params) ([]domain.Review, int, error)

	// ListApproved returns the rating fields of every approved review of a
	// product.
	ListApproved(ctx context.Context, productID string) ([]domain.Review, error)

	// ImagesByReviewIDs returns images keyed by review id, each slice ordered
	// by sort order.
	ImagesByReviewIDs(ctx context.Context, reviewIDs []string) (map[string][]domain.ReviewImage, error)

	// ResponsesByReviewIDs returns responses keyed by review id, each slice
	// ordered oldest first.
	ResponsesByReviewIDs(ctx context.Context, reviewIDs []string) (map[string][]domain.ReviewResponse, error)

	// UpsertVote records voter's vote, replacing any earlier vote by the same
	// voter on the same review.
	UpsertVote(ctx context.Context, reviewID string, voter domain.VoterIdentity, isHelpful bool) error

	// RecountVotes recounts every vote cast on a review, stores the totals on
	// the review and returns them. Concurrent recounts of one review must not
	// leave totals older than the votes already committed.
	RecountVotes(ctx context.Context, reviewID string) (domain.VoteCounts, error)

	// AddResponse attaches an official response. The store assigns its id and
	// creation time.
	AddResponse(ctx context.Context, response *domain.ReviewResponse) error
}

// OrderLedger answers whether a user bought a product.
type OrderLedger interface {
	// HasQualifyingOrder reports whether userID has a paid or non-cancelled
	// order containing productID. Having no orders is not an error.
	HasQualifyingOrder(ctx context.Context, userID, productID string) (bool, error)
}

// PurchaseProjection is the write side of the locally projected order ledger.
type PurchaseProjection interface {
	// UpsertOrder records an order and its products. The payment status of an
	// existing row is kept.
	UpsertOrder(ctx context.Context, order domain.OrderPurchase) error

	// UpdateOrderStatus sets the status of an order, creating a placeholder
	// row when the order is not yet known.
	UpdateOrderStatus(ctx context.Context, orderID, status string, at time.Time) error

	// MarkOrderPaid flags an order as paid, creating a placeholder row when
	// the order is not yet known.
	MarkOrderPaid(ctx context.Context, orderID, userID string, at time.Time) error
}

// SummaryCache caches computed review summaries per product.
type SummaryCache interface {
	// Get returns the cached summary, or nil on a miss, and the cache
	// generation a recomputed summary must be stored under.
	Get(ctx context.Context, productID string) (*domain.ReviewSummary, int64, error)

	// Set stores a summary computed after the Get that returned generation.
	// It is never served if the product was invalidated in between.
	Set(ctx context.Context, productID string, generation int64, summary domain.ReviewSummary) error

	// Invalidate makes every summary cached or being computed for the
	// product stale.
	Invalidate(ctx context.Context, productID string) error
}

// VoteLimiter bounds how often one voter may vote.
type VoteLimiter interface {
	// Allow counts one vote attempt and reports whether it is within the
	// limit.
	Allow(ctx context.Context, voter domain.VoterIdentity) (bool, error)
}
