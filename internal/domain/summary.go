package domain

// ReviewSummary is the rating rollup for a product. It is never stored; it is
// recomputed from the approved reviews whenever it is needed.
type ReviewSummary struct {
	Total             int                 `json:"total"`
	Average           float64             `json:"average"`
	CountsByStar      map[int]int         `json:"counts_by_star"`
	VerifiedCount     int                 `json:"verified_count"`
	AverageQuality    float64             `json:"average_quality"`
	AverageComfort    float64             `json:"average_comfort"`
	AverageStyle      float64             `json:"average_style"`
	FitFeedbackCounts map[FitFeedback]int `json:"fit_feedback_counts"`
}

// RatingWarning is called for each approved review whose rating is outside
// MinRating..MaxRating. Such reviews are left out of the summary entirely.
type RatingWarning func(reviewID string, rating int)

// EmptySummary returns the summary of a product without approved reviews.
func EmptySummary() ReviewSummary {
	return ReviewSummary{
		CountsByStar:      map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
		FitFeedbackCounts: map[FitFeedback]int{},
	}
}

// meanAccumulator sums integer ratings so the mean can be rounded exactly.
type meanAccumulator struct {
	sum, n int
}

func (m *meanAccumulator) add(v int) {
	m.sum += v
	m.n++
}

func (m *meanAccumulator) addOptional(v *int) {
	if v != nil && ValidRating(*v) {
		m.add(*v)
	}
}

// mean returns sum/n rounded half-up to two decimals, or 0 when empty.
// Rounding happens in integer hundredths.
func (m meanAccumulator) mean() float64 {
	if m.n == 0 {
		return 0
	}
	hundredths := (200*m.sum + m.n) / (2 * m.n)
	return float64(hundredths) / 100
}

// Summarize computes the summary of reviews. Unapproved reviews are ignored.
// The result depends only on the input, so repeated calls agree.
func Summarize(reviews []Review, warn RatingWarning) ReviewSummary {
	s := EmptySummary()
	var overall, quality, comfort, style meanAccumulator

	for i := range reviews {
		r := &reviews[i]
		if !r.IsApproved {
			continue
		}
		if !ValidRating(r.Rating) {
			if warn != nil {
				warn(r.ID, r.Rating)
			}
			continue
		}

		overall.add(r.Rating)
		s.CountsByStar[r.Rating]++
		if r.VerifiedPurchase {
			s.VerifiedCount++
		}
		quality.addOptional(r.QualityRating)
		comfort.addOptional(r.ComfortRating)
		style.addOptional(r.StyleRating)
		if _, ok := ParseFitFeedback(string(r.FitFeedback)); ok {
			s.FitFeedbackCounts[r.FitFeedback]++
		}
	}

	s.Total = overall.n
	s.Average = overall.mean()
	s.AverageQuality = quality.mean()
	s.AverageComfort = comfort.mean()
	s.AverageStyle = style.mean()
	return s
}
