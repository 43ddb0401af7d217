package domain

import (
	"strings"
	"time"
)

// PaymentStatusPaid marks an order whose payment has been captured.
const PaymentStatusPaid = "paid"

// Order statuses that void a purchase. Both spellings occur upstream: the
// order service emits "canceled", the storefront database stores "cancelled".
var cancelledStatuses = map[string]struct{}{
	"canceled":  {},
	"cancelled": {},
}

// IsCancelledStatus reports whether status voids the order.
func IsCancelledStatus(status string) bool {
	_, ok := cancelledStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// IsQualifyingOrder reports whether an order containing the product counts as
// a purchase: it is paid, or it has not been cancelled.
func IsQualifyingOrder(status, paymentStatus string) bool {
	if strings.EqualFold(strings.TrimSpace(paymentStatus), PaymentStatusPaid) {
		return true
	}
	return !IsCancelledStatus(status)
}

// OrderPurchase is the local projection of an order, kept only to answer
// verified-purchase lookups.
type OrderPurchase struct {
	OrderID       string
	UserID        string
	Status        string
	PaymentStatus string
	ProductIDs    []string
	UpdatedAt     time.Time
}
