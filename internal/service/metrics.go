package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reviewsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_reviews_created_total",
			Help: "Total number of reviews created, by verified purchase",
		},
		[]string{"verified"},
	)

	votesRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_votes_recorded_total",
			Help: "Total number of helpfulness votes recorded, by direction and voter kind",
		},
		[]string{"helpful", "voter_kind"},
	)

	votesRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "review_votes_rate_limited_total",
			Help: "Total number of votes rejected by the per-voter rate limit",
		},
	)

	verificationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "review_purchase_verification_failures_total",
			Help: "Total number of purchase lookups that failed and defaulted to unverified",
		},
	)

	summaryCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_summary_cache_total",
			Help: "Summary cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	dataIntegrityWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "review_data_integrity_warnings_total",
			Help: "Total number of stored reviews excluded from summaries for an out-of-range rating",
		},
	)
)
