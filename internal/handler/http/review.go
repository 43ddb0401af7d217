package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/thecalistalife/review-service/internal/domain"
	"github.com/thecalistalife/review-service/internal/service"
	apperrors "github.com/thecalistalife/review-service/pkg/errors"
	"github.com/thecalistalife/review-service/pkg/httputil"
	"github.com/thecalistalife/review-service/pkg/middleware"
	"github.com/thecalistalife/review-service/pkg/pagination"
	"github.com/thecalistalife/review-service/pkg/validator"
)

const maxBodyBytes = 1 << 20

// ReviewHandler handles HTTP requests for review endpoints.
type ReviewHandler struct {
	service *service.ReviewService
	logger  *slog.Logger
}

// NewReviewHandler creates a new review HTTP handler.
func NewReviewHandler(svc *service.ReviewService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateReviewRequest is the JSON request body for submitting a review.
// Anonymous callers must supply guest_name and guest_email.
type CreateReviewRequest struct {
	Rating         int      `json:"rating" validate:"required,min=1,max=5"`
	QualityRating  *int     `json:"quality_rating" validate:"omitempty,min=1,max=5"`
	ComfortRating  *int     `json:"comfort_rating" validate:"omitempty,min=1,max=5"`
	StyleRating    *int     `json:"style_rating" validate:"omitempty,min=1,max=5"`
	Title          string   `json:"title" validate:"max=200"`
	Body           string   `json:"body" validate:"required,max=5000"`
	SizePurchased  string   `json:"size_purchased" validate:"max=50"`
	ColorPurchased string   `json:"color_purchased" validate:"max=50"`
	FitFeedback    string   `json:"fit_feedback" validate:"omitempty,oneof=too_small perfect too_large"`
	GuestName      string   `json:"guest_name" validate:"max=100"`
	GuestEmail     string   `json:"guest_email" validate:"omitempty,email,max=254"`
	Images         []string `json:"images" validate:"max=4,dive,required,url"`
}

// VoteRequest is the JSON request body for a helpfulness vote.
type VoteRequest struct {
	IsHelpful *bool `json:"is_helpful" validate:"required"`
}

// AddResponseRequest is the JSON request body for an official response.
type AddResponseRequest struct {
	ResponderName string `json:"responder_name" validate:"required,max=100"`
	Text          string `json:"text" validate:"required,max=2000"`
}

// ListReviewsResponse is a page of reviews with the product summary.
type ListReviewsResponse struct {
	httputil.PaginatedResponse[domain.Review]
	Summary domain.ReviewSummary `json:"summary"`
}

// decodeBody decodes and validates a JSON body. Malformed JSON is reported as
// invalid input rather than an internal error.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := validator.DecodeAndValidate(r, dst)
	if err == nil {
		return nil
	}
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		return err
	}
	return apperrors.InvalidInput("invalid request body")
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.InvalidInput(name + " must be true or false")
	}
	return v, nil
}

func parseListInput(r *http.Request) (service.ListReviewsInput, error) {
	page, err := pagination.FromRequest(r)
	if err != nil {
		return service.ListReviewsInput{}, apperrors.InvalidInput(err.Error())
	}
	q := r.URL.Query()
	in := service.ListReviewsInput{
		Page:  page.Page,
		Limit: page.Limit,
		Sort:  q.Get("sort"),
		Fit:   q.Get("fit"),
	}
	if in.PhotosOnly, err = queryBool(r, "photos_only"); err != nil {
		return service.ListReviewsInput{}, err
	}
	if in.VerifiedOnly, err = queryBool(r, "verified_only"); err != nil {
		return service.ListReviewsInput{}, err
	}
	if raw := q.Get("min_rating"); raw != "" {
		if in.MinRating, err = strconv.Atoi(raw); err != nil {
			return service.ListReviewsInput{}, apperrors.InvalidInput("min_rating must be an integer")
		}
	}
	return in, nil
}

// --- Handlers ---

// ListReviews handles GET /api/v1/products/{productId}/reviews
func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	in, err := parseListInput(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	result, err := h.service.ListReviews(r.Context(), chi.URLParam(r, "productId"), in)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ListReviewsResponse{
		PaginatedResponse: httputil.NewPaginatedResponse(result.Reviews, result.TotalCount, result.Page.Page, result.Page.Limit),
		Summary:           result.Summary,
	})
}

// GetSummary handles GET /api/v1/products/{productId}/reviews/summary
func (h *ReviewHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetSummary(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: summary})
}

// CreateReview handles POST /api/v1/products/{productId}/reviews
func (h *ReviewHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	var req CreateReviewRequest
	if err := decodeBody(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	review, err := h.service.CreateReview(r.Context(), service.CreateReviewInput{
		ProductID:      chi.URLParam(r, "productId"),
		UserID:         middleware.UserIDFromContext(r.Context()),
		GuestName:      req.GuestName,
		GuestEmail:     req.GuestEmail,
		Rating:         req.Rating,
		QualityRating:  req.QualityRating,
		ComfortRating:  req.ComfortRating,
		StyleRating:    req.StyleRating,
		Title:          req.Title,
		Body:           req.Body,
		SizePurchased:  req.SizePurchased,
		ColorPurchased: req.ColorPurchased,
		FitFeedback:    req.FitFeedback,
		ImageURLs:      req.Images,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: review})
}

// Vote handles POST /api/v1/reviews/{reviewId}/helpful
func (h *ReviewHandler) Vote(w http.ResponseWriter, r *http.Request) {
	reviewID, ok := httputil.ParseUUID(w, "review id", chi.URLParam(r, "reviewId"))
	if !ok {
		return
	}

	var req VoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	counts, err := h.service.Vote(r.Context(), reviewID.String(), service.VoterContext{
		UserID:   middleware.UserIDFromContext(r.Context()),
		ClientIP: r.RemoteAddr,
	}, *req.IsHelpful)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: counts})
}

// AddResponse handles POST /api/v1/reviews/{reviewId}/responses
func (h *ReviewHandler) AddResponse(w http.ResponseWriter, r *http.Request) {
	reviewID, ok := httputil.ParseUUID(w, "review id", chi.URLParam(r, "reviewId"))
	if !ok {
		return
	}

	var req AddResponseRequest
	if err := decodeBody(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	resp, err := h.service.AddResponse(r.Context(), reviewID.String(), service.AddResponseInput{
		ResponderName: req.ResponderName,
		Text:          req.Text,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: resp})
}
