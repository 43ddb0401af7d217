package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsQualifyingOrder(t *testing.T) {
	tests := []struct {
		status, payment string
		want            bool
	}{
		{"delivered", "paid", true},
		{"pending", "", true},
		{"cancelled", "", false},
		{"canceled", "pending", false},
		{"CANCELLED", "", false},
		{"cancelled", "paid", true},
		{"refunded", "refunded", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsQualifyingOrder(tt.status, tt.payment), "%s/%s", tt.status, tt.payment)
	}
}

func TestParseFitFeedback(t *testing.T) {
	f, ok := ParseFitFeedback("too_large")
	assert.True(t, ok)
	assert.Equal(t, FitTooLarge, f)

	for _, raw := range []string{"", "tight", "Perfect"} {
		_, ok := ParseFitFeedback(raw)
		assert.False(t, ok, raw)
	}
}

func TestParseSortOrder(t *testing.T) {
	s, ok := ParseSortOrder("")
	assert.True(t, ok)
	assert.Equal(t, SortNewest, s)

	s, ok = ParseSortOrder("helpful")
	assert.True(t, ok)
	assert.Equal(t, SortHelpful, s)

	_, ok = ParseSortOrder("rating")
	assert.False(t, ok)
}

func TestValidRating(t *testing.T) {
	assert.False(t, ValidRating(0))
	assert.True(t, ValidRating(1))
	assert.True(t, ValidRating(5))
	assert.False(t, ValidRating(6))
}

func TestReview_AuthorAndPhotos(t *testing.T) {
	r := Review{GuestName: "Ana"}
	assert.True(t, r.IsGuest())
	assert.False(t, r.HasPhotos())

	r = Review{UserID: "u", Images: []ReviewImage{{URL: "https://cdn/x.jpg"}}}
	assert.False(t, r.IsGuest())
	assert.True(t, r.HasPhotos())
}
