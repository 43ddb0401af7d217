package domain

// SortOrder selects the ordering of a review listing.
type SortOrder string

const (
	// SortNewest orders by creation time, newest first.
	SortNewest SortOrder = "newest"
	// SortHelpful orders by helpful votes, ties broken newest first.
	SortHelpful SortOrder = "helpful"
)

// ParseSortOrder maps a raw value onto a SortOrder. An empty value selects
// SortNewest.
func ParseSortOrder(raw string) (SortOrder, bool) {
	switch s := SortOrder(raw); s {
	case "":
		return SortNewest, true
	case SortNewest, SortHelpful:
		return s, true
	}
	return "", false
}

// ListFilter narrows a review listing. Every filter is applied before
// pagination, and only approved reviews are ever listed.
type ListFilter struct {
	PhotosOnly   bool
	VerifiedOnly bool
	MinRating    int         // 0 disables the filter
	Fit          FitFeedback // "" disables the filter
}
