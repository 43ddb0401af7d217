package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/thecalistalife/review-service/internal/domain"
	apperrors "github.com/thecalistalife/review-service/pkg/errors"
	"github.com/thecalistalife/review-service/pkg/httpclient"
)

const (
	orderServiceName = "order"
	ordersPerPage    = 100
	defaultMaxPages  = 20
)

// orderItem and order are the subset of the order service's JSON the ledger
// reads.
type orderItem struct {
	ProductID string `json:"product_id"`
}

type order struct {
	ID            string      `json:"id"`
	Status        string      `json:"status"`
	PaymentStatus string      `json:"payment_status,omitempty"`
	Items         []orderItem `json:"items"`
}

func (o order) contains(productID string) bool {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

type orderPage struct {
	Data    []order `json:"data"`
	Page    int     `json:"page"`
	HasNext bool    `json:"has_next"`
}

// HTTPLedger answers purchase lookups by paging through a user's orders on
// the order service.
type HTTPLedger struct {
	client   httpclient.Doer
	baseURL  string
	maxPages int
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewHTTPLedger creates an HTTPLedger. client is normally a
// CircuitBreakerClient wrapping a retrying httpclient.Client. maxPages <= 0
// selects the default bound.
func NewHTTPLedger(client httpclient.Doer, baseURL string, maxPages int, logger *slog.Logger) *HTTPLedger {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &HTTPLedger{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxPages: maxPages,
		logger:   logger,
	}
}

// WithRateLimit caps the request rate towards the order service. Lookups wait
// for a token until their context expires.
func (l *HTTPLedger) WithRateLimit(limiter *rate.Limiter) *HTTPLedger {
	l.limiter = limiter
	return l
}

// HasQualifyingOrder reports whether userID has an order containing
// productID that is paid or not cancelled. Lookup stops at the first
// qualifying order, at the last page, or after maxPages pages.
func (l *HTTPLedger) HasQualifyingOrder(ctx context.Context, userID, productID string) (bool, error) {
	for page := 1; page <= l.maxPages; page++ {
		resp, err := l.fetchPage(ctx, userID, page)
		if err != nil {
			return false, err
		}
		for _, o := range resp.Data {
			if o.contains(productID) && domain.IsQualifyingOrder(o.Status, o.PaymentStatus) {
				return true, nil
			}
		}
		if !resp.HasNext {
			return false, nil
		}
	}

	l.logger.WarnContext(ctx, "order lookup stopped at page bound",
		slog.String("user_id", userID),
		slog.String("product_id", productID),
		slog.Int("max_pages", l.maxPages),
	)
	return false, nil
}

func (l *HTTPLedger) fetchPage(ctx context.Context, userID string, page int) (*orderPage, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(ordersPerPage))

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, apperrors.Unavailable(orderServiceName, fmt.Errorf("wait for rate limiter: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/api/v1/orders?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create order list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-User-ID", userID)

	resp, err := l.client.Do(ctx, req)
	if err != nil {
		return nil, apperrors.Unavailable(orderServiceName, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, orderServiceName)
	}
	defer func() { _ = resp.Body.Close() }()

	var out orderPage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Unavailable(orderServiceName, fmt.Errorf("decode order list: %w", err))
	}
	return &out, nil
}
