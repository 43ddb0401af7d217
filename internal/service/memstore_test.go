package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thecalistalife/review-service/internal/domain"
	apperrors "github.com/thecalistalife/review-service/pkg/errors"
	"github.com/thecalistalife/review-service/pkg/pagination"
)

// memStore is an in-memory ReviewStore with the same filter, ordering, upsert
// and recount semantics as the Postgres adapter.
type memStore struct {
	mu        sync.Mutex
	reviews   map[string]*domain.Review
	order     []string
	votes     map[string]map[domain.VoterIdentity]bool
	responses map[string][]domain.ReviewResponse
	nextID    int
	clock     time.Time

	// afterListApproved runs after ListApproved has read its snapshot and
	// before it returns.
	afterListApproved func()
}

func newMemStore() *memStore {
	return &memStore{
		reviews:   map[string]*domain.Review{},
		votes:     map[string]map[domain.VoterIdentity]bool{},
		responses: map[string][]domain.ReviewResponse{},
		clock:     testNow,
	}
}

// seed stores r as is. CreatedAt and ID are kept when set.
func (s *memStore) seed(r domain.Review) *domain.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(r)
}

func (s *memStore) insertLocked(r domain.Review) *domain.Review {
	s.nextID++
	if r.ID == "" {
		r.ID = fmt.Sprintf("rev-%03d", s.nextID)
	}
	if r.CreatedAt.IsZero() {
		s.clock = s.clock.Add(time.Minute)
		r.CreatedAt = s.clock
	}
	for i := range r.Images {
		r.Images[i].ReviewID = r.ID
	}
	stored := r
	s.reviews[r.ID] = &stored
	s.order = append(s.order, r.ID)
	return &stored
}

func (s *memStore) Insert(_ context.Context, review *domain.Review) (*domain.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *review
	r.ID, r.CreatedAt = "", time.Time{}
	r.HelpfulCount, r.UnhelpfulCount = 0, 0
	stored := *s.insertLocked(r)
	return &stored, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, apperrors.NotFound("review", id)
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) matches(r *domain.Review, productID string, f domain.ListFilter) bool {
	switch {
	case r.ProductID != productID, !r.IsApproved:
		return false
	case f.VerifiedOnly && !r.VerifiedPurchase:
		return false
	case f.MinRating > 0 && r.Rating < f.MinRating:
		return false
	case f.Fit != "" && r.FitFeedback != f.Fit:
		return false
	case f.PhotosOnly && len(r.Images) == 0:
		return false
	}
	return true
}

func (s *memStore) List(_ context.Context, productID string, filter domain.ListFilter, order domain.SortOrder, page pagination.Params) ([]domain.Review, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Review
	for _, id := range s.order {
		if r := s.reviews[id]; s.matches(r, productID, filter) {
			matched = append(matched, *r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if order == domain.SortHelpful && a.HelpfulCount != b.HelpfulCount {
			return a.HelpfulCount > b.HelpfulCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	total := len(matched)
	if page.Offset >= total {
		return []domain.Review{}, total, nil
	}
	end := min(page.Offset+page.Limit, total)
	return matched[page.Offset:end], total, nil
}

func (s *memStore) ListApproved(_ context.Context, productID string) ([]domain.Review, error) {
	s.mu.Lock()
	var out []domain.Review
	for _, id := range s.order {
		if r := s.reviews[id]; r.ProductID == productID && r.IsApproved {
			out = append(out, *r)
		}
	}
	hook := s.afterListApproved
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *memStore) ImagesByReviewIDs(_ context.Context, ids []string) (map[string][]domain.ReviewImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string][]domain.ReviewImage{}
	for _, id := range ids {
		if r, ok := s.reviews[id]; ok && len(r.Images) > 0 {
			out[id] = append([]domain.ReviewImage(nil), r.Images...)
		}
	}
	return out, nil
}

func (s *memStore) ResponsesByReviewIDs(_ context.Context, ids []string) (map[string][]domain.ReviewResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string][]domain.ReviewResponse{}
	for _, id := range ids {
		if rs := s.responses[id]; len(rs) > 0 {
			out[id] = append([]domain.ReviewResponse(nil), rs...)
		}
	}
	return out, nil
}

func (s *memStore) UpsertVote(_ context.Context, reviewID string, voter domain.VoterIdentity, isHelpful bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[reviewID]; !ok {
		return apperrors.NotFound("review", reviewID)
	}
	if s.votes[reviewID] == nil {
		s.votes[reviewID] = map[domain.VoterIdentity]bool{}
	}
	s.votes[reviewID][voter] = isHelpful
	return nil
}

func (s *memStore) RecountVotes(_ context.Context, reviewID string) (domain.VoteCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[reviewID]
	if !ok {
		return domain.VoteCounts{}, apperrors.NotFound("review", reviewID)
	}
	var counts domain.VoteCounts
	for _, helpful := range s.votes[reviewID] {
		if helpful {
			counts.Helpful++
		} else {
			counts.Unhelpful++
		}
	}
	r.HelpfulCount, r.UnhelpfulCount = counts.Helpful, counts.Unhelpful
	return counts, nil
}

func (s *memStore) AddResponse(_ context.Context, response *domain.ReviewResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[response.ReviewID]; !ok {
		return apperrors.NotFound("review", response.ReviewID)
	}
	s.nextID++
	response.ID = fmt.Sprintf("resp-%03d", s.nextID)
	response.CreatedAt = s.clock
	s.responses[response.ReviewID] = append(s.responses[response.ReviewID], *response)
	return nil
}

// voteRows returns the number of distinct voters and the stored totals of a
// review.
func (s *memStore) voteRows(reviewID string) (int, domain.VoteCounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reviews[reviewID]
	return len(s.votes[reviewID]), domain.VoteCounts{Helpful: r.HelpfulCount, Unhelpful: r.UnhelpfulCount}
}
