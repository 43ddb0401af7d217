package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thecalistalife/review-service/internal/domain"
)

func TestPurchaseVerifier_PaidOrder(t *testing.T) {
	ledger := &fakeLedger{orders: []domain.OrderPurchase{
		{OrderID: "o1", UserID: "user-1", Status: "delivered", PaymentStatus: "paid", ProductIDs: []string{"prod-x"}},
	}}
	v := NewPurchaseVerifier(ledger, time.Second, newTestLogger())

	assert.True(t, v.Verify(context.Background(), "user-1", "prod-x"))
	assert.False(t, v.Verify(context.Background(), "user-1", "prod-y"))
	assert.False(t, v.Verify(context.Background(), "user-2", "prod-x"))
}

func TestPurchaseVerifier_CancelledOrderOnly(t *testing.T) {
	ledger := &fakeLedger{orders: []domain.OrderPurchase{
		{OrderID: "o1", UserID: "user-1", Status: "cancelled", ProductIDs: []string{"prod-x"}},
	}}
	v := NewPurchaseVerifier(ledger, time.Second, newTestLogger())

	assert.False(t, v.Verify(context.Background(), "user-1", "prod-x"))
}

func TestPurchaseVerifier_UnpaidActiveOrderQualifies(t *testing.T) {
	ledger := &fakeLedger{orders: []domain.OrderPurchase{
		{OrderID: "o1", UserID: "user-1", Status: "pending", ProductIDs: []string{"prod-x"}},
	}}
	v := NewPurchaseVerifier(ledger, time.Second, newTestLogger())

	assert.True(t, v.Verify(context.Background(), "user-1", "prod-x"))
}

func TestPurchaseVerifier_GuestSkipsLedger(t *testing.T) {
	ledger := &fakeLedger{}
	v := NewPurchaseVerifier(ledger, time.Second, newTestLogger())

	assert.False(t, v.Verify(context.Background(), "  ", "prod-x"))
	assert.Zero(t, ledger.callCount())
}

func TestPurchaseVerifier_FailsOpen(t *testing.T) {
	v := NewPurchaseVerifier(&fakeLedger{err: errors.New("order service unavailable")}, time.Second, newTestLogger())

	assert.False(t, v.Verify(context.Background(), "user-1", "prod-x"))
}

func TestPurchaseVerifier_Timeout(t *testing.T) {
	v := NewPurchaseVerifier(&fakeLedger{block: true}, 20*time.Millisecond, newTestLogger())

	start := time.Now()
	assert.False(t, v.Verify(context.Background(), "user-1", "prod-x"))
	assert.Less(t, time.Since(start), time.Second)
}

func TestPurchaseVerifier_NilSafe(t *testing.T) {
	var v *PurchaseVerifier
	assert.False(t, v.Verify(context.Background(), "user-1", "prod-x"))
	assert.False(t, NewPurchaseVerifier(nil, 0, newTestLogger()).Verify(context.Background(), "user-1", "prod-x"))
}
