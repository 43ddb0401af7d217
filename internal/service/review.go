package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thecalistalife/review-service/internal/domain"
	"github.com/thecalistalife/review-service/internal/repository"
	apperrors "github.com/thecalistalife/review-service/pkg/errors"
	"github.com/thecalistalife/review-service/pkg/pagination"
)

// DefaultStoreTimeout bounds every review store call when none is configured.
const DefaultStoreTimeout = 3 * time.Second

const storeName = "review store"

// EventPublisher publishes review domain events. *event.Producer satisfies
// it.
type EventPublisher interface {
	PublishReviewCreated(ctx context.Context, review *domain.Review) error
	PublishReviewVoted(ctx context.Context, review *domain.Review, voter domain.VoterIdentity, isHelpful bool, counts domain.VoteCounts) error
	PublishReviewResponded(ctx context.Context, response *domain.ReviewResponse) error
}

// Options tune a ReviewService.
type Options struct {
	// AutoApprove publishes new reviews immediately. When false they wait for
	// external moderation.
	AutoApprove  bool
	StoreTimeout time.Duration
}

// ReviewService implements review submission, listing, summaries and
// helpfulness voting.
type ReviewService struct {
	store    repository.ReviewStore
	verifier *PurchaseVerifier
	cache    repository.SummaryCache
	limiter  repository.VoteLimiter
	events   EventPublisher
	opts     Options
	logger   *slog.Logger
}

// NewReviewService creates a ReviewService. cache, limiter and events may be
// nil, which disables caching, vote limiting and event publishing.
func NewReviewService(
	store repository.ReviewStore,
	verifier *PurchaseVerifier,
	cache repository.SummaryCache,
	limiter repository.VoteLimiter,
	events EventPublisher,
	opts Options,
	logger *slog.Logger,
) *ReviewService {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	return &ReviewService{
		store:    store,
		verifier: verifier,
		cache:    cache,
		limiter:  limiter,
		events:   events,
		opts:     opts,
		logger:   logger,
	}
}

func (s *ReviewService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}

// storeError passes AppErrors through and reports anything else as a
// retryable store outage.
func storeError(op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Unavailable(storeName, fmt.Errorf("%s: %w", op, err))
}

// GetSummary returns the rating summary of a product's approved reviews.
// Cache failures fall back to the store; store failures are returned.
func (s *ReviewService) GetSummary(ctx context.Context, productID string) (domain.ReviewSummary, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.ReviewSummary{}, apperrors.InvalidInput("product_id is required")
	}
	return s.summary(ctx, productID)
}

func (s *ReviewService) summary(ctx context.Context, productID string) (domain.ReviewSummary, error) {
	// The generation is read before the store so a write that lands during
	// the recompute makes this result unreachable in the cache.
	var generation int64
	cacheable := s.cache != nil
	if cacheable {
		cached, gen, err := s.cache.Get(ctx, productID)
		switch {
		case err != nil:
			summaryCacheTotal.WithLabelValues("error").Inc()
			s.logger.WarnContext(ctx, "summary cache read failed",
				slog.String("product_id", productID),
				slog.String("error", err.Error()),
			)
			cacheable = false
		case cached != nil:
			summaryCacheTotal.WithLabelValues("hit").Inc()
			return *cached, nil
		default:
			summaryCacheTotal.WithLabelValues("miss").Inc()
			generation = gen
		}
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	reviews, err := s.store.ListApproved(sctx, productID)
	if err != nil {
		return domain.ReviewSummary{}, storeError("list approved reviews", err)
	}

	summary := domain.Summarize(reviews, func(reviewID string, rating int) {
		dataIntegrityWarningsTotal.Inc()
		s.logger.WarnContext(ctx, "review excluded from summary: rating out of range",
			slog.String("product_id", productID),
			slog.String("review_id", reviewID),
			slog.Int("rating", rating),
		)
	})

	if cacheable {
		if err := s.cache.Set(ctx, productID, generation, summary); err != nil {
			s.logger.WarnContext(ctx, "summary cache write failed",
				slog.String("product_id", productID),
				slog.String("error", err.Error()),
			)
		}
	}
	return summary, nil
}

func (s *ReviewService) invalidateSummary(ctx context.Context, productID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, productID); err != nil {
		s.logger.WarnContext(ctx, "summary cache invalidation failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}
}

// ListReviewsInput holds the raw listing parameters of a request.
type ListReviewsInput struct {
	Page         int
	Limit        int
	Sort         string
	PhotosOnly   bool
	VerifiedOnly bool
	MinRating    int
	Fit          string
}

// ReviewListResult is one page of reviews together with the product summary.
type ReviewListResult struct {
	Reviews    []domain.Review
	Summary    domain.ReviewSummary
	TotalCount int
	Page       pagination.Params
}

func (in ListReviewsInput) filter() (domain.ListFilter, domain.SortOrder, error) {
	sort, ok := domain.ParseSortOrder(strings.ToLower(strings.TrimSpace(in.Sort)))
	if !ok {
		return domain.ListFilter{}, "", apperrors.InvalidInput("sort must be one of newest, helpful")
	}
	if in.MinRating != 0 && !domain.ValidRating(in.MinRating) {
		return domain.ListFilter{}, "", apperrors.InvalidInput("min_rating must be between 1 and 5")
	}

	f := domain.ListFilter{
		PhotosOnly:   in.PhotosOnly,
		VerifiedOnly: in.VerifiedOnly,
		MinRating:    in.MinRating,
	}
	if raw := strings.TrimSpace(in.Fit); raw != "" {
		fit, ok := domain.ParseFitFeedback(strings.ToLower(raw))
		if !ok {
			return domain.ListFilter{}, "", apperrors.InvalidInput("fit must be one of too_small, perfect, too_large")
		}
		f.Fit = fit
	}
	return f, sort, nil
}

// ListReviews returns one filtered, sorted page of a product's approved
// reviews with images and responses attached, plus the product summary.
// Page is clamped up to 1 and limit into [1, 1000].
func (s *ReviewService) ListReviews(ctx context.Context, productID string, in ListReviewsInput) (*ReviewListResult, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, apperrors.InvalidInput("product_id is required")
	}
	filter, sort, err := in.filter()
	if err != nil {
		return nil, err
	}
	page := pagination.New(in.Page, in.Limit)

	result := &ReviewListResult{Page: page}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary, err := s.summary(gctx, productID)
		result.Summary = summary
		return err
	})
	g.Go(func() error {
		reviews, total, err := s.listPage(gctx, productID, filter, sort, page)
		result.Reviews, result.TotalCount = reviews, total
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ReviewService) listPage(ctx context.Context, productID string, filter domain.ListFilter, sort domain.SortOrder, page pagination.Params) ([]domain.Review, int, error) {
	sctx, cancel := s.storeCtx(ctx)
	reviews, total, err := s.store.List(sctx, productID, filter, sort, page)
	cancel()
	if err != nil {
		return nil, 0, storeError("list reviews", err)
	}
	if len(reviews) == 0 {
		return []domain.Review{}, total, nil
	}
	if err := s.enrich(ctx, reviews); err != nil {
		return nil, 0, err
	}
	return reviews, total, nil
}

// enrich attaches images and responses with one batched lookup each, issued
// concurrently.
func (s *ReviewService) enrich(ctx context.Context, reviews []domain.Review) error {
	ids := make([]string, len(reviews))
	for i := range reviews {
		ids[i] = reviews[i].ID
	}

	var (
		images    map[string][]domain.ReviewImage
		responses map[string][]domain.ReviewResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sctx, cancel := s.storeCtx(gctx)
		defer cancel()
		var err error
		if images, err = s.store.ImagesByReviewIDs(sctx, ids); err != nil {
			return storeError("load review images", err)
		}
		return nil
	})
	g.Go(func() error {
		sctx, cancel := s.storeCtx(gctx)
		defer cancel()
		var err error
		if responses, err = s.store.ResponsesByReviewIDs(sctx, ids); err != nil {
			return storeError("load review responses", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range reviews {
		reviews[i].Images = images[reviews[i].ID]
		if reviews[i].Images == nil {
			reviews[i].Images = []domain.ReviewImage{}
		}
		reviews[i].Responses = responses[reviews[i].ID]
		if reviews[i].Responses == nil {
			reviews[i].Responses = []domain.ReviewResponse{}
		}
	}
	return nil
}

// CreateReviewInput holds the parameters for submitting a review. Either
// UserID or both guest fields identify the author; a UserID wins.
type CreateReviewInput struct {
	ProductID      string
	UserID         string
	GuestName      string
	GuestEmail     string
	Rating         int
	QualityRating  *int
	ComfortRating  *int
	StyleRating    *int
	Title          string
	Body           string
	SizePurchased  string
	ColorPurchased string
	FitFeedback    string
	ImageURLs      []string
}

func validSubRating(name string, v *int) error {
	if v != nil && !domain.ValidRating(*v) {
		return apperrors.InvalidInput(name + " must be between 1 and 5")
	}
	return nil
}

func (in *CreateReviewInput) toReview() (*domain.Review, error) {
	productID := strings.TrimSpace(in.ProductID)
	if productID == "" {
		return nil, apperrors.InvalidInput("product_id is required")
	}
	if !domain.ValidRating(in.Rating) {
		return nil, apperrors.InvalidInput("rating must be between 1 and 5")
	}
	for _, sub := range []struct {
		name  string
		value *int
	}{
		{"quality_rating", in.QualityRating},
		{"comfort_rating", in.ComfortRating},
		{"style_rating", in.StyleRating},
	} {
		if err := validSubRating(sub.name, sub.value); err != nil {
			return nil, err
		}
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, apperrors.InvalidInput("body is required")
	}
	if len(in.ImageURLs) > domain.MaxImages {
		return nil, apperrors.InvalidInput("a review may carry at most " + strconv.Itoa(domain.MaxImages) + " images")
	}

	review := &domain.Review{
		ProductID:      productID,
		Rating:         in.Rating,
		QualityRating:  in.QualityRating,
		ComfortRating:  in.ComfortRating,
		StyleRating:    in.StyleRating,
		Title:          strings.TrimSpace(in.Title),
		Body:           body,
		SizePurchased:  strings.TrimSpace(in.SizePurchased),
		ColorPurchased: strings.TrimSpace(in.ColorPurchased),
		Images:         make([]domain.ReviewImage, 0, len(in.ImageURLs)),
	}

	if raw := strings.TrimSpace(in.FitFeedback); raw != "" {
		fit, ok := domain.ParseFitFeedback(strings.ToLower(raw))
		if !ok {
			return nil, apperrors.InvalidInput("fit_feedback must be one of too_small, perfect, too_large")
		}
		review.FitFeedback = fit
	}

	for i, raw := range in.ImageURLs {
		url := strings.TrimSpace(raw)
		if url == "" {
			return nil, apperrors.InvalidInput("image urls must not be empty")
		}
		review.Images = append(review.Images, domain.ReviewImage{URL: url, SortOrder: i})
	}

	if userID := strings.TrimSpace(in.UserID); userID != "" {
		review.UserID = userID
		return review, nil
	}
	review.GuestName = strings.TrimSpace(in.GuestName)
	review.GuestEmail = strings.ToLower(strings.TrimSpace(in.GuestEmail))
	if review.GuestName == "" || review.GuestEmail == "" {
		return nil, apperrors.InvalidInput("guest reviews require guest_name and guest_email")
	}
	return review, nil
}

// CreateReview validates and stores a review. The verified-purchase flag is
// resolved once here and never recomputed.
func (s *ReviewService) CreateReview(ctx context.Context, in CreateReviewInput) (*domain.Review, error) {
	review, err := in.toReview()
	if err != nil {
		return nil, err
	}

	if !review.IsGuest() {
		review.VerifiedPurchase = s.verifier.Verify(ctx, review.UserID, review.ProductID)
	}
	review.IsApproved = s.opts.AutoApprove

	sctx, cancel := s.storeCtx(ctx)
	stored, err := s.store.Insert(sctx, review)
	cancel()
	if err != nil {
		return nil, storeError("insert review", err)
	}

	reviewsCreatedTotal.WithLabelValues(strconv.FormatBool(stored.VerifiedPurchase)).Inc()
	if stored.IsApproved {
		s.invalidateSummary(ctx, stored.ProductID)
	}

	s.logger.InfoContext(ctx, "review created",
		slog.String("review_id", stored.ID),
		slog.String("product_id", stored.ProductID),
		slog.Bool("guest", stored.IsGuest()),
		slog.Bool("verified_purchase", stored.VerifiedPurchase),
		slog.Int("rating", stored.Rating),
	)

	if s.events != nil {
		if err := s.events.PublishReviewCreated(ctx, stored); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish review.created event",
				slog.String("review_id", stored.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return stored, nil
}

// VoterContext describes who is voting: the authenticated user, if any, and
// the client address.
type VoterContext struct {
	UserID   string
	ClientIP string
}

// Vote records a helpfulness vote, replacing any earlier vote by the same
// voter, and returns the recounted totals.
func (s *ReviewService) Vote(ctx context.Context, reviewID string, voter VoterContext, isHelpful bool) (domain.VoteCounts, error) {
	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" {
		return domain.VoteCounts{}, apperrors.InvalidInput("review_id is required")
	}
	identity, err := domain.NewVoterIdentity(voter.UserID, voter.ClientIP)
	if err != nil {
		return domain.VoteCounts{}, apperrors.InvalidInput(err.Error())
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, identity)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "vote rate limiter unavailable, allowing vote",
				slog.String("voter_kind", string(identity.Kind)),
				slog.String("error", err.Error()),
			)
		case !allowed:
			votesRateLimitedTotal.Inc()
			return domain.VoteCounts{}, apperrors.TooManyRequests("too many votes, try again later")
		}
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	review, err := s.store.GetByID(sctx, reviewID)
	if err != nil {
		return domain.VoteCounts{}, storeError("get review", err)
	}
	if err := s.store.UpsertVote(sctx, reviewID, identity, isHelpful); err != nil {
		return domain.VoteCounts{}, storeError("upsert vote", err)
	}
	counts, err := s.store.RecountVotes(sctx, reviewID)
	if err != nil {
		return domain.VoteCounts{}, storeError("recount votes", err)
	}

	votesRecordedTotal.WithLabelValues(strconv.FormatBool(isHelpful), string(identity.Kind)).Inc()
	s.logger.DebugContext(ctx, "vote recorded",
		slog.String("review_id", reviewID),
		slog.String("voter_kind", string(identity.Kind)),
		slog.Bool("helpful", isHelpful),
		slog.Int("helpful_count", counts.Helpful),
		slog.Int("unhelpful_count", counts.Unhelpful),
	)

	if s.events != nil {
		if err := s.events.PublishReviewVoted(ctx, review, identity, isHelpful, counts); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish review.voted event",
				slog.String("review_id", reviewID),
				slog.String("error", err.Error()),
			)
		}
	}
	return counts, nil
}

// AddResponseInput holds an official response to a review.
type AddResponseInput struct {
	ResponderName string
	Text          string
}

// AddResponse attaches an official response to a review.
func (s *ReviewService) AddResponse(ctx context.Context, reviewID string, in AddResponseInput) (*domain.ReviewResponse, error) {
	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" {
		return nil, apperrors.InvalidInput("review_id is required")
	}
	resp := &domain.ReviewResponse{
		ReviewID:      reviewID,
		ResponderName: strings.TrimSpace(in.ResponderName),
		Text:          strings.TrimSpace(in.Text),
	}
	if resp.ResponderName == "" {
		return nil, apperrors.InvalidInput("responder_name is required")
	}
	if resp.Text == "" {
		return nil, apperrors.InvalidInput("text is required")
	}

	sctx, cancel := s.storeCtx(ctx)
	err := s.store.AddResponse(sctx, resp)
	cancel()
	if err != nil {
		return nil, storeError("add response", err)
	}

	s.logger.InfoContext(ctx, "review response added",
		slog.String("review_id", reviewID),
		slog.String("response_id", resp.ID),
	)

	if s.events != nil {
		if err := s.events.PublishReviewResponded(ctx, resp); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish review.responded event",
				slog.String("review_id", reviewID),
				slog.String("error", err.Error()),
			)
		}
	}
	return resp, nil
}
