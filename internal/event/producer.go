package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thecalistalife/review-service/internal/domain"
	pkgkafka "github.com/thecalistalife/review-service/pkg/kafka"
	"github.com/thecalistalife/review-service/pkg/logger"
)

// Kafka topics for review domain events.
var (
	TopicReviewCreated   = pkgkafka.Topic("review", "created")
	TopicReviewVoted     = pkgkafka.Topic("review", "voted")
	TopicReviewResponded = pkgkafka.Topic("review", "responded")
)

// AggregateTypeReview is the aggregate type of every review event.
const AggregateTypeReview = "review"

// SourceReviewService identifies events originating from this service.
const SourceReviewService = "review-service"

// ReviewCreatedData is the payload for a review.created event.
type ReviewCreatedData struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"product_id"`
	UserID           string    `json:"user_id,omitempty"`
	Rating           int       `json:"rating"`
	VerifiedPurchase bool      `json:"verified_purchase"`
	IsApproved       bool      `json:"is_approved"`
	ImageCount       int       `json:"image_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// ReviewVotedData is the payload for a review.voted event.
type ReviewVotedData struct {
	ReviewID       string `json:"review_id"`
	ProductID      string `json:"product_id"`
	VoterKind      string `json:"voter_kind"`
	IsHelpful      bool   `json:"is_helpful"`
	HelpfulCount   int    `json:"helpful_count"`
	UnhelpfulCount int    `json:"unhelpful_count"`
}

// ReviewRespondedData is the payload for a review.responded event.
type ReviewRespondedData struct {
	ReviewID      string `json:"review_id"`
	ResponseID    string `json:"response_id"`
	ResponderName string `json:"responder_name"`
}

// Publisher publishes an event envelope to a topic. *pkgkafka.Producer
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes review domain events.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a review event producer.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{publisher: publisher, logger: logger}
}

// PublishReviewCreated publishes a review.created event.
func (p *Producer) PublishReviewCreated(ctx context.Context, review *domain.Review) error {
	data := ReviewCreatedData{
		ID:               review.ID,
		ProductID:        review.ProductID,
		UserID:           review.UserID,
		Rating:           review.Rating,
		VerifiedPurchase: review.VerifiedPurchase,
		IsApproved:       review.IsApproved,
		ImageCount:       len(review.Images),
		CreatedAt:        review.CreatedAt,
	}
	return p.publish(ctx, TopicReviewCreated, review.ID, data)
}

// PublishReviewVoted publishes a review.voted event carrying the recounted
// totals.
func (p *Producer) PublishReviewVoted(ctx context.Context, review *domain.Review, voter domain.VoterIdentity, isHelpful bool, counts domain.VoteCounts) error {
	data := ReviewVotedData{
		ReviewID:       review.ID,
		ProductID:      review.ProductID,
		VoterKind:      string(voter.Kind),
		IsHelpful:      isHelpful,
		HelpfulCount:   counts.Helpful,
		UnhelpfulCount: counts.Unhelpful,
	}
	return p.publish(ctx, TopicReviewVoted, review.ID, data)
}

// PublishReviewResponded publishes a review.responded event.
func (p *Producer) PublishReviewResponded(ctx context.Context, response *domain.ReviewResponse) error {
	data := ReviewRespondedData{
		ReviewID:      response.ReviewID,
		ResponseID:    response.ID,
		ResponderName: response.ResponderName,
	}
	return p.publish(ctx, TopicReviewResponded, response.ReviewID, data)
}

func (p *Producer) publish(ctx context.Context, topic, reviewID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, reviewID, AggregateTypeReview, SourceReviewService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published review event",
		slog.String("topic", topic),
		slog.String("review_id", reviewID),
	)
	return nil
}
