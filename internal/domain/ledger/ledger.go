// Package ledger defines the wallet ledger domain model and its persistence contracts.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side labels the direction of an order.
type Side string

const (
	// SideBuy marks an order acquiring the base asset.
	SideBuy Side = "BUY"
	// SideSell marks an order disposing of the base asset.
	SideSell Side = "SELL"
)

// Kind distinguishes market and limit orders.
type Kind string

const (
	// KindMarket fills immediately at the reference price.
	KindMarket Kind = "MARKET"
	// KindLimit fills only when the reference price satisfies the limit.
	KindLimit Kind = "LIMIT"
)

// Status tracks the order lifecycle. Orders transition NEW to FILLED or
// REJECTED exactly once and are immutable afterwards.
type Status string

const (
	// StatusNew marks an accepted order that has not filled.
	StatusNew Status = "NEW"
	// StatusFilled marks a fully executed order.
	StatusFilled Status = "FILLED"
	// StatusRejected marks an order refused before execution.
	StatusRejected Status = "REJECTED"
)

// Asset is a tradable symbol mapped to a stable identifier. Rows are created
// lazily on first reference and never deleted.
type Asset struct {
	ID     int64  `json:"id"`
	Symbol string `json:"symbol"`
}

// Order is the persisted record of a user instruction that reached the engine.
type Order struct {
	ID        string          `json:"id"`
	UserID    int64           `json:"userId"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Kind      Kind            `json:"kind"`
	Quantity  decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Trade is an execution fill tied to exactly one order. Append-only.
type Trade struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId"`
	UserID    int64           `json:"userId"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"qty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Payment is the audit record written alongside a fulfilled payment event.
type Payment struct {
	EventID   string          `json:"eventId"`
	UserID    int64           `json:"userId"`
	Symbol    string          `json:"symbol"`
	AmountUSD decimal.Decimal `json:"amountUsd"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Tx groups the mutations available inside a single storage transaction.
type Tx interface {
	// EnsureAsset resolves symbol to its stable identifier, creating the row
	// on first use. Concurrent callers racing on a new symbol all receive the
	// same identifier.
	EnsureAsset(ctx context.Context, symbol string) (int64, error)

	// AdjustBalance atomically adds delta (positive or negative) to the
	// (user, asset) balance, creating the row with value delta when absent,
	// and returns the new balance. Sufficiency is the caller's concern.
	AdjustBalance(ctx context.Context, userID int64, symbol string, delta decimal.Decimal) (decimal.Decimal, error)

	// BalanceForUpdate reads the (user, asset) balance under a row lock held
	// until the transaction ends. A missing row reads as zero without a lock.
	BalanceForUpdate(ctx context.Context, userID int64, symbol string) (decimal.Decimal, error)

	// InsertOrder appends an immutable order record.
	InsertOrder(ctx context.Context, order Order) error

	// InsertTrade appends an execution fill.
	InsertTrade(ctx context.Context, trade Trade) error

	// InsertPaymentGuard claims the idempotency guard for eventID. It reports
	// false when the guard already exists; only the first claimer proceeds.
	InsertPaymentGuard(ctx context.Context, eventID string) (bool, error)

	// InsertPayment appends the payment audit record.
	InsertPayment(ctx context.Context, payment Payment) error
}

// Store is the full persistence contract for the wallet ledger.
type Store interface {
	Tx

	// WithTransaction runs fn inside one storage transaction, committing on
	// nil and rolling back on error.
	WithTransaction(ctx context.Context, fn func(context.Context, Tx) error) error

	// PaymentEventProcessed reports whether the idempotency guard for
	// eventID has already been claimed. Read-only; claiming stays with
	// InsertPaymentGuard.
	PaymentEventProcessed(ctx context.Context, eventID string) (bool, error)

	// Balances returns every wallet row for the user keyed by symbol. The
	// result always carries a USD entry, zero when no row exists.
	Balances(ctx context.Context, userID int64) (map[string]decimal.Decimal, error)

	// ListOrders returns the user's orders, newest first.
	ListOrders(ctx context.Context, userID int64, limit int) ([]Order, error)

	// ListTrades returns the user's trades, newest first.
	ListTrades(ctx context.Context, userID int64, limit int) ([]Trade, error)
}
