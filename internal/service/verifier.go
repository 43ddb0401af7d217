package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/thecalistalife/review-service/internal/repository"
)

// DefaultVerifyTimeout bounds a purchase lookup when none is configured.
const DefaultVerifyTimeout = 2 * time.Second

// PurchaseVerifier decides whether a reviewer bought the product. It never
// fails: guests and every lookup error resolve to false.
type PurchaseVerifier struct {
	ledger  repository.OrderLedger
	timeout time.Duration
	logger  *slog.Logger
}

// NewPurchaseVerifier creates a PurchaseVerifier. A nil ledger verifies
// nobody.
func NewPurchaseVerifier(ledger repository.OrderLedger, timeout time.Duration, logger *slog.Logger) *PurchaseVerifier {
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	return &PurchaseVerifier{ledger: ledger, timeout: timeout, logger: logger}
}

// Verify reports whether userID has a paid or non-cancelled order containing
// productID.
func (v *PurchaseVerifier) Verify(ctx context.Context, userID, productID string) bool {
	userID = strings.TrimSpace(userID)
	if v == nil || v.ledger == nil || userID == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	ok, err := v.ledger.HasQualifyingOrder(ctx, userID, productID)
	if err != nil {
		verificationFailuresTotal.Inc()
		v.logger.WarnContext(ctx, "purchase verification failed, marking review unverified",
			slog.String("user_id", userID),
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return ok
}
