package validator

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type imageInput struct {
	URL string `json:"url" validate:"required,url"`
}

type reviewInput struct {
	Rating     int          `json:"rating" validate:"required,gte=1,lte=5"`
	Title      string       `json:"title" validate:"max=10"`
	GuestEmail string       `json:"guest_email" validate:"omitempty,email"`
	Fit        string       `json:"fit_feedback" validate:"omitempty,oneof=too_small perfect too_large"`
	Images     []imageInput `json:"images" validate:"max=2,dive"`
}

func TestValidate_Valid(t *testing.T) {
	err := Validate(reviewInput{Rating: 5, Title: "great", Fit: "perfect"})
	assert.NoError(t, err)
}

func TestValidate_FieldMessagesUseJSONNames(t *testing.T) {
	err := Validate(reviewInput{Rating: 7, GuestEmail: "nope", Fit: "huge"})
	require.Error(t, err)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))

	fields := valErr.Fields()
	assert.Equal(t, "must be less than or equal to 5", fields["rating"])
	assert.Equal(t, "must be a valid email address", fields["guest_email"])
	assert.Equal(t, "must be one of: too_small perfect too_large", fields["fit_feedback"])
}

func TestValidate_SliceAndNestedFields(t *testing.T) {
	err := Validate(reviewInput{
		Rating: 4,
		Images: []imageInput{{URL: "https://cdn.example.com/a.jpg"}, {URL: ""}, {URL: "x"}},
	})
	require.Error(t, err)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Equal(t, "must contain at most 2 items", valErr.Fields()["images"])
}

func TestValidate_NestedElement(t *testing.T) {
	err := Validate(reviewInput{Rating: 4, Images: []imageInput{{URL: ""}}})
	require.Error(t, err)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Equal(t, "is required", valErr.Fields()["images[0].url"])
	assert.Contains(t, valErr.Error(), "field 'images[0].url' is required")
}

func TestDecodeAndValidate(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"rating":3}`))
	var in reviewInput
	require.NoError(t, DecodeAndValidate(r, &in))
	assert.Equal(t, 3, in.Rating)
}

func TestDecodeAndValidate_UnknownField(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"rating":3,"stars":9}`))
	var in reviewInput
	err := DecodeAndValidate(r, &in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}

func TestDecodeAndValidate_Malformed(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{`))
	var in reviewInput
	err := DecodeAndValidate(r, &in)
	require.Error(t, err)

	var valErr *ValidationError
	assert.False(t, errors.As(err, &valErr))
}
