package domain

import "time"

// Rating bounds shared by the overall rating and every sub-rating.
const (
	MinRating = 1
	MaxRating = 5
)

// MaxImages is the number of images a single review may carry.
const MaxImages = 4

// FitFeedback is the shopper's verdict on how a garment fits.
type FitFeedback string

const (
	FitTooSmall FitFeedback = "too_small"
	FitPerfect  FitFeedback = "perfect"
	FitTooLarge FitFeedback = "too_large"
)

// ParseFitFeedback maps a raw value onto a FitFeedback. The empty string is
// reported as not ok.
func ParseFitFeedback(raw string) (FitFeedback, bool) {
	switch f := FitFeedback(raw); f {
	case FitTooSmall, FitPerfect, FitTooLarge:
		return f, true
	}
	return "", false
}

// Review is a shopper's review of a product. Everything except the helpful
// and unhelpful counters is fixed once the review is created.
type Review struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`

	// Exactly one author form is set: UserID for registered shoppers,
	// GuestName and GuestEmail for guests.
	UserID     string `json:"user_id,omitempty"`
	GuestName  string `json:"guest_name,omitempty"`
	GuestEmail string `json:"-"`

	Rating        int  `json:"rating"`
	QualityRating *int `json:"quality_rating,omitempty"`
	ComfortRating *int `json:"comfort_rating,omitempty"`
	StyleRating   *int `json:"style_rating,omitempty"`

	Title          string      `json:"title,omitempty"`
	Body           string      `json:"body"`
	SizePurchased  string      `json:"size_purchased,omitempty"`
	ColorPurchased string      `json:"color_purchased,omitempty"`
	FitFeedback    FitFeedback `json:"fit_feedback,omitempty"`

	VerifiedPurchase bool `json:"verified_purchase"`
	IsApproved       bool `json:"-"`

	HelpfulCount   int `json:"helpful_count"`
	UnhelpfulCount int `json:"unhelpful_count"`

	CreatedAt time.Time `json:"created_at"`

	Images    []ReviewImage    `json:"images"`
	Responses []ReviewResponse `json:"responses"`
}

// IsGuest reports whether the review was written without an account.
func (r *Review) IsGuest() bool {
	return r.UserID == ""
}

// HasPhotos reports whether at least one image is attached.
func (r *Review) HasPhotos() bool {
	return len(r.Images) > 0
}

// ReviewImage is a shopper-supplied photo. Only the URL is recorded; upload
// happens elsewhere.
type ReviewImage struct {
	ReviewID  string `json:"-"`
	URL       string `json:"url"`
	SortOrder int    `json:"sort_order"`
}

// ReviewResponse is an official reply from the store.
type ReviewResponse struct {
	ID            string    `json:"id"`
	ReviewID      string    `json:"-"`
	ResponderName string    `json:"responder_name"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
}

// ValidRating reports whether v is an acceptable star rating.
func ValidRating(v int) bool {
	return v >= MinRating && v <= MaxRating
}
