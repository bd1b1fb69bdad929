package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cryptoxhq/cryptox/internal/domain/ledger"
)

func TestLedgerStoreNilPool(t *testing.T) {
	store := NewLedgerStore(nil)
	ctx := context.Background()
	if _, err := store.EnsureAsset(ctx, "BTC"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.AdjustBalance(ctx, 1, "BTC", decimal.NewFromInt(1)); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.BalanceForUpdate(ctx, 1, "BTC"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.InsertOrder(ctx, ledger.Order{ID: "o-1"}); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.InsertTrade(ctx, ledger.Trade{ID: "t-1"}); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.InsertPaymentGuard(ctx, "evt-1"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.PaymentEventProcessed(ctx, "evt-1"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.InsertPayment(ctx, ledger.Payment{EventID: "evt-1"}); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.Balances(ctx, 1); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.ListOrders(ctx, 1, 10); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.ListTrades(ctx, 1, 10); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.WithTransaction(ctx, func(context.Context, ledger.Tx) error { return nil }); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}

func TestEnsureAssetRejectsEmptySymbol(t *testing.T) {
	store := NewLedgerStore(nil)
	if _, err := store.ensureAssetWith(context.Background(), nil, "   "); err == nil {
		t.Fatalf("expected error for blank symbol")
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct {
		value, fallback, maximum, want int
	}{
		{0, 50, 500, 50},
		{-3, 50, 500, 50},
		{25, 50, 500, 25},
		{9999, 50, 500, 500},
	}
	for _, tc := range cases {
		if got := clampLimit(tc.value, tc.fallback, tc.maximum); got != tc.want {
			t.Fatalf("clampLimit(%d, %d, %d) = %d, want %d", tc.value, tc.fallback, tc.maximum, got, tc.want)
		}
	}
}
