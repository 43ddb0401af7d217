package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/thecalistalife/review-service/internal/domain"
	"github.com/thecalistalife/review-service/pkg/database"
	apperrors "github.com/thecalistalife/review-service/pkg/errors"
	"github.com/thecalistalife/review-service/pkg/pagination"
)

const reviewColumns = `id, product_id, COALESCE(user_id, ''), COALESCE(guest_name, ''), COALESCE(guest_email, ''),
		rating, quality_rating, comfort_rating, style_rating, title, body,
		size_purchased, color_purchased, COALESCE(fit_feedback, ''),
		verified_purchase, is_approved, helpful_count, unhelpful_count, created_at`

// ReviewRepository implements repository.ReviewStore using PostgreSQL.
type ReviewRepository struct {
	pool database.DBTX
	now  func() time.Time
}

// NewReviewRepository creates a new PostgreSQL-backed review repository.
func NewReviewRepository(pool database.DBTX) *ReviewRepository {
	return &ReviewRepository{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Insert stores a review and its images in one transaction.
func (r *ReviewRepository) Insert(ctx context.Context, review *domain.Review) (_ *domain.Review, err error) {
	stored := *review
	stored.ID = uuid.NewString()
	stored.CreatedAt = r.now()
	stored.HelpfulCount, stored.UnhelpfulCount = 0, 0
	stored.Images = make([]domain.ReviewImage, len(review.Images))
	for i, img := range review.Images {
		stored.Images[i] = domain.ReviewImage{ReviewID: stored.ID, URL: img.URL, SortOrder: img.SortOrder}
	}
	stored.Responses = []domain.ReviewResponse{}

	reviewQuery := `
		INSERT INTO product_reviews (id, product_id, user_id, guest_name, guest_email,
			rating, quality_rating, comfort_rating, style_rating, title, body,
			size_purchased, color_purchased, fit_feedback, verified_purchase, is_approved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	imageQuery := `INSERT INTO review_images (review_id, url, sort_order) VALUES ($1, $2, $3)`

	ctx, end := database.TraceQuery(ctx, "InsertReview", reviewQuery)
	defer func() { end(err) }()

	err = database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, reviewQuery,
			stored.ID,
			stored.ProductID,
			nullString(stored.UserID),
			nullString(stored.GuestName),
			nullString(stored.GuestEmail),
			stored.Rating,
			stored.QualityRating,
			stored.ComfortRating,
			stored.StyleRating,
			stored.Title,
			stored.Body,
			stored.SizePurchased,
			stored.ColorPurchased,
			nullString(string(stored.FitFeedback)),
			stored.VerifiedPurchase,
			stored.IsApproved,
			stored.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert review: %w", err)
		}

		for _, img := range stored.Images {
			if _, err := tx.Exec(ctx, imageQuery, img.ReviewID, img.URL, img.SortOrder); err != nil {
				return fmt.Errorf("insert review image: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// reviewTargets lists Scan destinations matching reviewColumns. fit receives
// the raw fit_feedback value.
func reviewTargets(rv *domain.Review, fit *string) []any {
	return []any{
		&rv.ID,
		&rv.ProductID,
		&rv.UserID,
		&rv.GuestName,
		&rv.GuestEmail,
		&rv.Rating,
		&rv.QualityRating,
		&rv.ComfortRating,
		&rv.StyleRating,
		&rv.Title,
		&rv.Body,
		&rv.SizePurchased,
		&rv.ColorPurchased,
		fit,
		&rv.VerifiedPurchase,
		&rv.IsApproved,
		&rv.HelpfulCount,
		&rv.UnhelpfulCount,
		&rv.CreatedAt,
	}
}

// GetByID returns a review by id.
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (_ *domain.Review, err error) {
	query := `SELECT ` + reviewColumns + ` FROM product_reviews WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetReview", query)
	defer func() { end(err) }()

	var (
		rv  domain.Review
		fit string
	)
	if err = r.pool.QueryRow(ctx, query, id).Scan(reviewTargets(&rv, &fit)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("review", id)
		}
		return nil, fmt.Errorf("get review: %w", err)
	}
	rv.FitFeedback = domain.FitFeedback(fit)
	return &rv, nil
}

// listConditions builds the WHERE clause shared by the page and count
// queries. Every filter, including the photo filter, lives here so it applies
// before LIMIT/OFFSET.
func listConditions(productID string, filter domain.ListFilter) (string, []any) {
	conditions := []string{"product_id = $1", "is_approved"}
	args := []any{productID}

	if filter.VerifiedOnly {
		conditions = append(conditions, "verified_purchase")
	}
	if filter.MinRating > 0 {
		args = append(args, filter.MinRating)
		conditions = append(conditions, fmt.Sprintf("rating >= $%d", len(args)))
	}
	if filter.Fit != "" {
		args = append(args, string(filter.Fit))
		conditions = append(conditions, fmt.Sprintf("fit_feedback = $%d", len(args)))
	}
	if filter.PhotosOnly {
		conditions = append(conditions,
			"EXISTS (SELECT 1 FROM review_images ri WHERE ri.review_id = product_reviews.id)")
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func listQuery(productID string, filter domain.ListFilter, sort domain.SortOrder, page pagination.Params) (string, []any) {
	where, args := listConditions(productID, filter)

	orderBy := "created_at DESC, id DESC"
	if sort == domain.SortHelpful {
		orderBy = "helpful_count DESC, created_at DESC, id DESC"
	}

	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total_count
		FROM product_reviews
		%s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`,
		reviewColumns, where, orderBy, len(args)-1, len(args),
	)
	return query, args
}

// List returns one filtered, sorted page of approved reviews.
func (r *ReviewRepository) List(ctx context.Context, productID string, filter domain.ListFilter, sort domain.SortOrder, page pagination.Params) (reviews []domain.Review, total int, err error) {
	query, args := listQuery(productID, filter, sort, page)

	ctx, end := database.TraceQuery(ctx, "ListReviews", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	reviews = make([]domain.Review, 0, page.Limit)
	for rows.Next() {
		var (
			rv  domain.Review
			fit string
		)
		if err := rows.Scan(append(reviewTargets(&rv, &fit), &total)...); err != nil {
			return nil, 0, fmt.Errorf("scan review row: %w", err)
		}
		rv.FitFeedback = domain.FitFeedback(fit)
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate review rows: %w", err)
	}

	// count(*) OVER() is absent when the page is past the end.
	if len(reviews) == 0 && page.Offset > 0 {
		total, err = r.countApproved(ctx, productID, filter)
		if err != nil {
			return nil, 0, err
		}
	}
	return reviews, total, nil
}

func (r *ReviewRepository) countApproved(ctx context.Context, productID string, filter domain.ListFilter) (int, error) {
	where, args := listConditions(productID, filter)
	query := "SELECT count(*) FROM product_reviews " + where

	var total int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count reviews: %w", err)
	}
	return total, nil
}

// ListApproved returns the rating fields of every approved review of a
// product, enough to build a summary.
func (r *ReviewRepository) ListApproved(ctx context.Context, productID string) (reviews []domain.Review, err error) {
	query := `
		SELECT id, rating, quality_rating, comfort_rating, style_rating,
		       COALESCE(fit_feedback, ''), verified_purchase
		FROM product_reviews
		WHERE product_id = $1 AND is_approved`

	ctx, end := database.TraceQuery(ctx, "ListApprovedRatings", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list approved reviews: %w", err)
	}
	defer rows.Close()

	reviews = []domain.Review{}
	for rows.Next() {
		rv := domain.Review{ProductID: productID, IsApproved: true}
		var fit string
		if err := rows.Scan(&rv.ID, &rv.Rating, &rv.QualityRating, &rv.ComfortRating, &rv.StyleRating, &fit, &rv.VerifiedPurchase); err != nil {
			return nil, fmt.Errorf("scan approved review row: %w", err)
		}
		rv.FitFeedback = domain.FitFeedback(fit)
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approved review rows: %w", err)
	}
	return reviews, nil
}

// ImagesByReviewIDs loads the images of many reviews in one query.
func (r *ReviewRepository) ImagesByReviewIDs(ctx context.Context, reviewIDs []string) (images map[string][]domain.ReviewImage, err error) {
	images = make(map[string][]domain.ReviewImage, len(reviewIDs))
	if len(reviewIDs) == 0 {
		return images, nil
	}

	query := `
		SELECT review_id, url, sort_order
		FROM review_images
		WHERE review_id = ANY($1)
		ORDER BY review_id, sort_order ASC, id ASC`

	ctx, end := database.TraceQuery(ctx, "ImagesByReviewIDs", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, reviewIDs)
	if err != nil {
		return nil, fmt.Errorf("list review images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var img domain.ReviewImage
		if err := rows.Scan(&img.ReviewID, &img.URL, &img.SortOrder); err != nil {
			return nil, fmt.Errorf("scan review image row: %w", err)
		}
		images[img.ReviewID] = append(images[img.ReviewID], img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review image rows: %w", err)
	}
	return images, nil
}

// ResponsesByReviewIDs loads the official responses of many reviews in one
// query.
func (r *ReviewRepository) ResponsesByReviewIDs(ctx context.Context, reviewIDs []string) (responses map[string][]domain.ReviewResponse, err error) {
	responses = make(map[string][]domain.ReviewResponse, len(reviewIDs))
	if len(reviewIDs) == 0 {
		return responses, nil
	}

	query := `
		SELECT id, review_id, responder_name, text, created_at
		FROM review_responses
		WHERE review_id = ANY($1)
		ORDER BY review_id, created_at ASC, id ASC`

	ctx, end := database.TraceQuery(ctx, "ResponsesByReviewIDs", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, reviewIDs)
	if err != nil {
		return nil, fmt.Errorf("list review responses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var resp domain.ReviewResponse
		if err := rows.Scan(&resp.ID, &resp.ReviewID, &resp.ResponderName, &resp.Text, &resp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review response row: %w", err)
		}
		responses[resp.ReviewID] = append(responses[resp.ReviewID], resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review response rows: %w", err)
	}
	return responses, nil
}

// UpsertVote inserts or overwrites the voter's vote in a single statement, so
// concurrent votes by the same voter converge on one row.
func (r *ReviewRepository) UpsertVote(ctx context.Context, reviewID string, voter domain.VoterIdentity, isHelpful bool) (err error) {
	query := `
		INSERT INTO review_helpful_votes (review_id, voter_kind, voter_id, is_helpful, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (review_id, voter_kind, voter_id)
		DO UPDATE SET is_helpful = EXCLUDED.is_helpful, updated_at = EXCLUDED.updated_at`

	ctx, end := database.TraceQuery(ctx, "UpsertVote", query)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, query, reviewID, string(voter.Kind), voter.Value, isHelpful, r.now()); err != nil {
		if database.IsForeignKeyViolation(err) {
			return apperrors.NotFound("review", reviewID)
		}
		return fmt.Errorf("upsert vote: %w", err)
	}
	return nil
}

// RecountVotes recounts every vote on a review and stores the totals on the
// review row in one transaction. The row lock serializes recounts of the same
// review, and the recount runs after the lock is granted, so the last recount
// to commit has seen every committed vote.
func (r *ReviewRepository) RecountVotes(ctx context.Context, reviewID string) (counts domain.VoteCounts, err error) {
	lockQuery := `SELECT id FROM product_reviews WHERE id = $1 FOR UPDATE`
	recountQuery := `
		UPDATE product_reviews p
		SET helpful_count = v.helpful, unhelpful_count = v.unhelpful
		FROM (
			SELECT COUNT(*) FILTER (WHERE is_helpful) AS helpful,
			       COUNT(*) FILTER (WHERE NOT is_helpful) AS unhelpful
			FROM review_helpful_votes
			WHERE review_id = $1
		) v
		WHERE p.id = $1
		RETURNING p.helpful_count, p.unhelpful_count`

	ctx, end := database.TraceQuery(ctx, "RecountVotes", recountQuery)
	defer func() { end(err) }()

	err = database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var id string
		if err := tx.QueryRow(ctx, lockQuery, reviewID).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NotFound("review", reviewID)
			}
			return fmt.Errorf("lock review: %w", err)
		}
		if err := tx.QueryRow(ctx, recountQuery, reviewID).Scan(&counts.Helpful, &counts.Unhelpful); err != nil {
			return fmt.Errorf("recount votes: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.VoteCounts{}, err
	}
	return counts, nil
}

// AddResponse attaches an official response to a review.
func (r *ReviewRepository) AddResponse(ctx context.Context, response *domain.ReviewResponse) (err error) {
	query := `
		INSERT INTO review_responses (id, review_id, responder_name, text, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	ctx, end := database.TraceQuery(ctx, "AddResponse", query)
	defer func() { end(err) }()

	response.ID = uuid.NewString()
	response.CreatedAt = r.now()

	if _, err = r.pool.Exec(ctx, query, response.ID, response.ReviewID, response.ResponderName, response.Text, response.CreatedAt); err != nil {
		if database.IsForeignKeyViolation(err) {
			return apperrors.NotFound("review", response.ReviewID)
		}
		return fmt.Errorf("insert review response: %w", err)
	}
	return nil
}
