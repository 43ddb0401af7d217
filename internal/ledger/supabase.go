package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/supabase-community/supabase-go"
	"golang.org/x/sync/semaphore"

	"github.com/thecalistalife/review-service/internal/domain"
	apperrors "github.com/thecalistalife/review-service/pkg/errors"
)

const (
	supabaseServiceName = "supabase"

	// DefaultSupabaseMaxInFlight caps concurrent PostgREST calls, including
	// calls whose caller has already given up.
	DefaultSupabaseMaxInFlight = 32
)

var errSupabaseSaturated = errors.New("too many supabase calls in flight")

// SupabaseColumns maps the storefront's order tables onto the fields the
// ledger reads. Only this table knows the storefront's naming.
type SupabaseColumns struct {
	OrdersTable   string
	ItemsTable    string
	OrderID       string
	UserID        string
	Status        string
	PaymentStatus string
	ProductID     string
}

// DefaultSupabaseColumns matches the storefront schema.
func DefaultSupabaseColumns() SupabaseColumns {
	return SupabaseColumns{
		OrdersTable:   "orders",
		ItemsTable:    "order_items",
		OrderID:       "id",
		UserID:        "user_id",
		Status:        "status",
		PaymentStatus: "payment_status",
		ProductID:     "product_id",
	}
}

func (c SupabaseColumns) selectList() string {
	return strings.Join([]string{
		c.OrderID,
		c.Status,
		c.PaymentStatus,
		c.ItemsTable + "!inner(" + c.ProductID + ")",
	}, ",")
}

// SupabaseLedger answers purchase lookups against the storefront's Supabase
// tables over PostgREST.
type SupabaseLedger struct {
	client   *supabase.Client
	columns  SupabaseColumns
	inFlight *semaphore.Weighted
}

// NewSupabaseClient builds a PostgREST-backed Supabase client.
func NewSupabaseClient(url, key string) (*supabase.Client, error) {
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return client, nil
}

// NewSupabaseLedger creates a SupabaseLedger that runs at most maxInFlight
// PostgREST calls at once. Values below 1 select DefaultSupabaseMaxInFlight.
func NewSupabaseLedger(client *supabase.Client, columns SupabaseColumns, maxInFlight int64) *SupabaseLedger {
	if maxInFlight < 1 {
		maxInFlight = DefaultSupabaseMaxInFlight
	}
	return &SupabaseLedger{client: client, columns: columns, inFlight: semaphore.NewWeighted(maxInFlight)}
}

// HasQualifyingOrder reports whether userID has an order containing
// productID that is paid or not cancelled.
func (l *SupabaseLedger) HasQualifyingOrder(ctx context.Context, userID, productID string) (bool, error) {
	rows, err := l.query(ctx, userID, productID)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if domain.IsQualifyingOrder(row.status(l.columns), row.paymentStatus(l.columns)) {
			return true, nil
		}
	}
	return false, nil
}

type supabaseRow map[string]json.RawMessage

func (r supabaseRow) text(col string) string {
	raw, ok := r[col]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (r supabaseRow) status(c SupabaseColumns) string        { return r.text(c.Status) }
func (r supabaseRow) paymentStatus(c SupabaseColumns) string { return r.text(c.PaymentStatus) }

type queryResult struct {
	rows []supabaseRow
	err  error
}

// query runs the PostgREST request. The client takes neither a context nor
// an HTTP client, so the call is abandoned when ctx is done and keeps its
// in-flight slot until the server answers. With every slot held the lookup
// fails fast instead of starting another goroutine.
func (l *SupabaseLedger) query(ctx context.Context, userID, productID string) ([]supabaseRow, error) {
	if !l.inFlight.TryAcquire(1) {
		return nil, apperrors.Unavailable(supabaseServiceName, errSupabaseSaturated)
	}
	done := make(chan queryResult, 1)
	go func() {
		defer l.inFlight.Release(1)
		data, _, err := l.client.From(l.columns.OrdersTable).
			Select(l.columns.selectList(), "", false).
			Eq(l.columns.UserID, userID).
			Eq(l.columns.ItemsTable+"."+l.columns.ProductID, productID).
			Execute()
		if err != nil {
			done <- queryResult{err: err}
			return
		}
		var rows []supabaseRow
		if err := json.Unmarshal(data, &rows); err != nil {
			done <- queryResult{err: fmt.Errorf("decode orders: %w", err)}
			return
		}
		done <- queryResult{rows: rows}
	}()

	select {
	case <-ctx.Done():
		return nil, apperrors.Unavailable(supabaseServiceName, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, apperrors.Unavailable(supabaseServiceName, res.err)
		}
		return res.rows, nil
	}
}
