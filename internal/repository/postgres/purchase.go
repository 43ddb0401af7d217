package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/thecalistalife/review-service/internal/domain"
	"github.com/thecalistalife/review-service/pkg/database"
)

// PurchaseRepository is the locally projected order ledger. It is fed by order
// and payment events and answers verified-purchase lookups.
type PurchaseRepository struct {
	pool database.DBTX
}

// NewPurchaseRepository creates a new PostgreSQL-backed purchase projection.
func NewPurchaseRepository(pool database.DBTX) *PurchaseRepository {
	return &PurchaseRepository{pool: pool}
}

// HasQualifyingOrder reports whether the user has an order for the product
// that qualifies under domain.IsQualifyingOrder.
func (r *PurchaseRepository) HasQualifyingOrder(ctx context.Context, userID, productID string) (found bool, err error) {
	query := `
		SELECT o.status, o.payment_status
		FROM order_purchases o
		JOIN order_purchase_items i ON i.order_id = o.order_id
		WHERE o.user_id = $1 AND i.product_id = $2`

	ctx, end := database.TraceQuery(ctx, "HasQualifyingOrder", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, userID, productID)
	if err != nil {
		return false, fmt.Errorf("query purchases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, paymentStatus string
		if err := rows.Scan(&status, &paymentStatus); err != nil {
			return false, fmt.Errorf("scan purchase row: %w", err)
		}
		if domain.IsQualifyingOrder(status, paymentStatus) {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate purchase rows: %w", err)
	}
	return found, nil
}

// UpsertOrder records an order and its line products. A newer status already
// stored by an out-of-order status event is kept, as is the payment status.
func (r *PurchaseRepository) UpsertOrder(ctx context.Context, order domain.OrderPurchase) (err error) {
	orderQuery := `
		INSERT INTO order_purchases (order_id, user_id, status, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			status = CASE
				WHEN order_purchases.status = '' OR order_purchases.updated_at <= EXCLUDED.updated_at
				THEN EXCLUDED.status
				ELSE order_purchases.status
			END,
			updated_at = GREATEST(order_purchases.updated_at, EXCLUDED.updated_at)`
	itemQuery := `
		INSERT INTO order_purchase_items (order_id, product_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	ctx, end := database.TraceQuery(ctx, "UpsertOrderPurchase", orderQuery)
	defer func() { end(err) }()

	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, orderQuery, order.OrderID, order.UserID, order.Status, order.UpdatedAt); err != nil {
			return fmt.Errorf("upsert order purchase: %w", err)
		}
		for _, productID := range order.ProductIDs {
			if _, err := tx.Exec(ctx, itemQuery, order.OrderID, productID); err != nil {
				return fmt.Errorf("insert order purchase item: %w", err)
			}
		}
		return nil
	})
}

// UpdateOrderStatus applies a status change unless a newer one is stored.
func (r *PurchaseRepository) UpdateOrderStatus(ctx context.Context, orderID, status string, at time.Time) (err error) {
	query := `
		INSERT INTO order_purchases (order_id, status, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		WHERE order_purchases.updated_at <= EXCLUDED.updated_at`

	ctx, end := database.TraceQuery(ctx, "UpdateOrderPurchaseStatus", query)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, query, orderID, status, at); err != nil {
		return fmt.Errorf("update order purchase status: %w", err)
	}
	return nil
}

// MarkOrderPaid flags an order as paid. Payment is never revoked by this
// projection.
func (r *PurchaseRepository) MarkOrderPaid(ctx context.Context, orderID, userID string, at time.Time) (err error) {
	query := `
		INSERT INTO order_purchases (order_id, user_id, payment_status, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO UPDATE SET
			payment_status = EXCLUDED.payment_status,
			user_id = CASE WHEN order_purchases.user_id = '' THEN EXCLUDED.user_id ELSE order_purchases.user_id END`

	ctx, end := database.TraceQuery(ctx, "MarkOrderPurchasePaid", query)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, query, orderID, userID, domain.PaymentStatusPaid, at); err != nil {
		return fmt.Errorf("mark order purchase paid: %w", err)
	}
	return nil
}
