package pagination

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 20
	MaxLimit     = 1000

	// MaxOffset bounds the number of rows a page can skip.
	MaxOffset = math.MaxInt32
)

// Params holds normalized pagination parameters.
type Params struct {
	Page   int `json:"page"`
	Limit  int `json:"limit"`
	Offset int `json:"-"`
}

// New clamps page up to 1 and limit into [1, MaxLimit]. A zero limit means
// "not supplied" and selects DefaultLimit. Pages whose offset would pass
// MaxOffset are clamped to the last page below it.
func New(page, limit int) Params {
	if page < 1 {
		page = 1
	}
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 1:
		limit = 1
	case limit > MaxLimit:
		limit = MaxLimit
	}
	if maxPage := MaxOffset/limit + 1; page > maxPage {
		page = maxPage
	}
	return Params{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// FromRequest reads page and limit (or per_page) from the query string.
// Values that are not integers are rejected; out-of-range integers are
// clamped by New. An absent limit selects DefaultLimit, while an explicit
// limit below 1, zero included, is raised to 1.
func FromRequest(r *http.Request) (Params, error) {
	q := r.URL.Query()

	page, err := queryInt(q.Get("page"), "page")
	if err != nil {
		return Params{}, err
	}

	rawLimit := q.Get("limit")
	if rawLimit == "" {
		rawLimit = q.Get("per_page")
	}
	limit, err := queryInt(rawLimit, "limit")
	if err != nil {
		return Params{}, err
	}
	if rawLimit != "" && limit < 1 {
		limit = 1
	}
	return New(page, limit), nil
}

func queryInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}
