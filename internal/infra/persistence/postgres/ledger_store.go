// Package postgres implements the wallet ledger store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cryptoxhq/cryptox/internal/domain/ledger"
)

// LedgerStore persists assets, wallets, orders, trades, and payment guards.
type LedgerStore struct {
	pool *pgxpool.Pool
}

var _ ledger.Store = (*LedgerStore)(nil)

// NewLedgerStore constructs a LedgerStore backed by the provided pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const (
	assetEnsureSQL = `
INSERT INTO assets (symbol)
VALUES (@symbol)
ON CONFLICT (symbol) DO UPDATE SET symbol = EXCLUDED.symbol
RETURNING id;
`

	walletAdjustSQL = `
INSERT INTO wallets (user_id, asset_id, balance, updated_at)
VALUES (@user_id, @asset_id, @delta::numeric, NOW())
ON CONFLICT (user_id, asset_id) DO UPDATE SET
    balance = wallets.balance + EXCLUDED.balance,
    updated_at = NOW()
RETURNING balance::text;
`

	walletLockSQL = `
SELECT w.balance::text
FROM wallets w
JOIN assets a ON a.id = w.asset_id
WHERE w.user_id = @user_id AND a.symbol = @symbol
FOR UPDATE OF w;
`

	balancesSelectSQL = `
SELECT a.symbol, w.balance::text
FROM wallets w
JOIN assets a ON a.id = w.asset_id
WHERE w.user_id = $1;
`

	orderInsertSQL = `
INSERT INTO orders (id, user_id, symbol, side, kind, qty, price, status, created_at)
VALUES (@id, @user_id, @symbol, @side, @kind, @qty::numeric, @price::numeric, @status, @created_at);
`

	tradeInsertSQL = `
INSERT INTO trades (id, order_id, user_id, symbol, price, qty, created_at)
VALUES (@id, @order_id, @user_id, @symbol, @price::numeric, @qty::numeric, @created_at);
`

	guardInsertSQL = `
INSERT INTO processed_payment_events (event_id, processed_at)
VALUES (@event_id, NOW())
ON CONFLICT (event_id) DO NOTHING;
`

	guardExistsSQL = `
SELECT EXISTS (
	SELECT 1 FROM processed_payment_events WHERE event_id = @event_id
);
`

	paymentInsertSQL = `
INSERT INTO payments (event_id, user_id, symbol, amount_usd, status, created_at)
VALUES (@event_id, @user_id, @symbol, @amount_usd::numeric, @status, NOW());
`

	ordersSelectSQL = `
SELECT id::text, user_id, symbol, side, kind, qty::text, price::text, status, created_at
FROM orders
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`

	tradesSelectSQL = `
SELECT id::text, order_id::text, user_id, symbol, price::text, qty::text, created_at
FROM trades
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ledgerTx struct {
	tx    pgx.Tx
	store *LedgerStore
}

func (s *LedgerStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("ledger store: nil pool")
	}
	return s.pool, nil
}

func (s *LedgerStore) ensureAssetWith(ctx context.Context, q querier, symbol string) (int64, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return 0, fmt.Errorf("ledger store: asset symbol required")
	}
	var id int64
	args := pgx.NamedArgs{"symbol": normalized}
	if err := q.QueryRow(ctx, assetEnsureSQL, args).Scan(&id); err != nil {
		return 0, fmt.Errorf("ledger store: ensure asset %s: %w", normalized, err)
	}
	return id, nil
}

func (s *LedgerStore) adjustBalanceWith(ctx context.Context, q querier, userID int64, symbol string, delta decimal.Decimal) (decimal.Decimal, error) {
	assetID, err := s.ensureAssetWith(ctx, q, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	args := pgx.NamedArgs{
		"user_id":  userID,
		"asset_id": assetID,
		"delta":    delta.String(),
	}
	var balanceText string
	if err := q.QueryRow(ctx, walletAdjustSQL, args).Scan(&balanceText); err != nil {
		return decimal.Zero, fmt.Errorf("ledger store: adjust wallet user=%d asset=%s: %w", userID, symbol, err)
	}
	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger store: parse balance %q: %w", balanceText, err)
	}
	return balance, nil
}

func (s *LedgerStore) balanceForUpdateWith(ctx context.Context, q querier, userID int64, symbol string) (decimal.Decimal, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	args := pgx.NamedArgs{"user_id": userID, "symbol": normalized}
	var balanceText string
	err := q.QueryRow(ctx, walletLockSQL, args).Scan(&balanceText)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger store: lock wallet user=%d asset=%s: %w", userID, normalized, err)
	}
	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger store: parse balance %q: %w", balanceText, err)
	}
	return balance, nil
}

func (s *LedgerStore) insertOrderWith(ctx context.Context, q querier, order ledger.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return fmt.Errorf("ledger store: order id required")
	}
	args := pgx.NamedArgs{
		"id":         order.ID,
		"user_id":    order.UserID,
		"symbol":     strings.ToUpper(strings.TrimSpace(order.Symbol)),
		"side":       string(order.Side),
		"kind":       string(order.Kind),
		"qty":        order.Quantity.String(),
		"price":      order.Price.String(),
		"status":     string(order.Status),
		"created_at": order.CreatedAt,
	}
	if _, err := q.Exec(ctx, orderInsertSQL, args); err != nil {
		return fmt.Errorf("ledger store: insert order: %w", err)
	}
	return nil
}

func (s *LedgerStore) insertTradeWith(ctx context.Context, q querier, trade ledger.Trade) error {
	if strings.TrimSpace(trade.ID) == "" {
		return fmt.Errorf("ledger store: trade id required")
	}
	if strings.TrimSpace(trade.OrderID) == "" {
		return fmt.Errorf("ledger store: trade order id required")
	}
	args := pgx.NamedArgs{
		"id":         trade.ID,
		"order_id":   trade.OrderID,
		"user_id":    trade.UserID,
		"symbol":     strings.ToUpper(strings.TrimSpace(trade.Symbol)),
		"price":      trade.Price.String(),
		"qty":        trade.Quantity.String(),
		"created_at": trade.CreatedAt,
	}
	if _, err := q.Exec(ctx, tradeInsertSQL, args); err != nil {
		return fmt.Errorf("ledger store: insert trade: %w", err)
	}
	return nil
}

func (s *LedgerStore) insertPaymentGuardWith(ctx context.Context, q querier, eventID string) (bool, error) {
	trimmed := strings.TrimSpace(eventID)
	if trimmed == "" {
		return false, fmt.Errorf("ledger store: payment event id required")
	}
	tag, err := q.Exec(ctx, guardInsertSQL, pgx.NamedArgs{"event_id": trimmed})
	if err != nil {
		return false, fmt.Errorf("ledger store: insert payment guard %s: %w", trimmed, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *LedgerStore) insertPaymentWith(ctx context.Context, q querier, payment ledger.Payment) error {
	if strings.TrimSpace(payment.EventID) == "" {
		return fmt.Errorf("ledger store: payment event id required")
	}
	args := pgx.NamedArgs{
		"event_id":   strings.TrimSpace(payment.EventID),
		"user_id":    payment.UserID,
		"symbol":     strings.ToUpper(strings.TrimSpace(payment.Symbol)),
		"amount_usd": payment.AmountUSD.String(),
		"status":     strings.TrimSpace(payment.Status),
	}
	if _, err := q.Exec(ctx, paymentInsertSQL, args); err != nil {
		return fmt.Errorf("ledger store: insert payment: %w", err)
	}
	return nil
}

// EnsureAsset resolves symbol to its identifier, inserting the row on first use.
func (s *LedgerStore) EnsureAsset(ctx context.Context, symbol string) (int64, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return 0, err
	}
	return s.ensureAssetWith(ctx, pool, symbol)
}

// AdjustBalance atomically adds delta to the (user, asset) balance.
func (s *LedgerStore) AdjustBalance(ctx context.Context, userID int64, symbol string, delta decimal.Decimal) (decimal.Decimal, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return decimal.Zero, err
	}
	return s.adjustBalanceWith(ctx, pool, userID, symbol, delta)
}

// BalanceForUpdate reads the (user, asset) balance. Outside a transaction the
// lock is released immediately, so callers needing check-then-mutate semantics
// must go through WithTransaction.
func (s *LedgerStore) BalanceForUpdate(ctx context.Context, userID int64, symbol string) (decimal.Decimal, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return decimal.Zero, err
	}
	return s.balanceForUpdateWith(ctx, pool, userID, symbol)
}

// InsertOrder appends an immutable order record.
func (s *LedgerStore) InsertOrder(ctx context.Context, order ledger.Order) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	return s.insertOrderWith(ctx, pool, order)
}

// InsertTrade appends an execution fill.
func (s *LedgerStore) InsertTrade(ctx context.Context, trade ledger.Trade) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	return s.insertTradeWith(ctx, pool, trade)
}

// InsertPaymentGuard claims the idempotency guard for eventID.
func (s *LedgerStore) InsertPaymentGuard(ctx context.Context, eventID string) (bool, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return false, err
	}
	return s.insertPaymentGuardWith(ctx, pool, eventID)
}

// PaymentEventProcessed reports whether the guard for eventID exists.
func (s *LedgerStore) PaymentEventProcessed(ctx context.Context, eventID string) (bool, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return false, err
	}
	trimmed := strings.TrimSpace(eventID)
	if trimmed == "" {
		return false, fmt.Errorf("ledger store: payment event id required")
	}
	var exists bool
	if err := pool.QueryRow(ctx, guardExistsSQL, pgx.NamedArgs{"event_id": trimmed}).Scan(&exists); err != nil {
		return false, fmt.Errorf("ledger store: read payment guard %s: %w", trimmed, err)
	}
	return exists, nil
}

// InsertPayment appends the payment audit record.
func (s *LedgerStore) InsertPayment(ctx context.Context, payment ledger.Payment) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	return s.insertPaymentWith(ctx, pool, payment)
}

// WithTransaction executes the supplied callback within a database transaction.
func (s *LedgerStore) WithTransaction(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	if fn == nil {
		return fmt.Errorf("ledger store: transaction callback required")
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	var txOptions pgx.TxOptions
	txOptions.IsoLevel = pgx.ReadCommitted
	txOptions.AccessMode = pgx.ReadWrite
	txOptions.DeferrableMode = pgx.NotDeferrable

	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("ledger store: begin tx: %w", err)
	}
	wrapped := &ledgerTx{tx: tx, store: s}
	runErr := fn(ctx, wrapped)
	if runErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("ledger store: rollback tx: %w (original error: %v)", rbErr, runErr)
		}
		return runErr
	}
	if err := tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("ledger store: commit tx: %w", err)
	}
	return nil
}

// Balances returns all wallet rows for the user keyed by symbol, always
// including a USD entry.
func (s *LedgerStore) Balances(ctx context.Context, userID int64) (map[string]decimal.Decimal, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, balancesSelectSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger store: list balances: %w", err)
	}
	defer rows.Close()

	balances := make(map[string]decimal.Decimal)
	for rows.Next() {
		var symbol, balanceText string
		if err := rows.Scan(&symbol, &balanceText); err != nil {
			return nil, fmt.Errorf("ledger store: scan balance: %w", err)
		}
		balance, err := decimal.NewFromString(balanceText)
		if err != nil {
			return nil, fmt.Errorf("ledger store: parse balance %q: %w", balanceText, err)
		}
		balances[symbol] = balance
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger store: iterate balances: %w", err)
	}
	if _, ok := balances["USD"]; !ok {
		balances["USD"] = decimal.Zero
	}
	return balances, nil
}

// ListOrders retrieves the user's orders, newest first.
func (s *LedgerStore) ListOrders(ctx context.Context, userID int64, limit int) ([]ledger.Order, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, ordersSelectSQL, userID, clampLimit(limit, defaultHistoryLimit, maxHistoryLimit))
	if err != nil {
		return nil, fmt.Errorf("ledger store: list orders: %w", err)
	}
	defer rows.Close()

	var orders []ledger.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger store: iterate orders: %w", err)
	}
	return orders, nil
}

// ListTrades retrieves the user's trades, newest first.
func (s *LedgerStore) ListTrades(ctx context.Context, userID int64, limit int) ([]ledger.Trade, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, tradesSelectSQL, userID, clampLimit(limit, defaultHistoryLimit, maxHistoryLimit))
	if err != nil {
		return nil, fmt.Errorf("ledger store: list trades: %w", err)
	}
	defer rows.Close()

	var trades []ledger.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger store: iterate trades: %w", err)
	}
	return trades, nil
}

func (t *ledgerTx) EnsureAsset(ctx context.Context, symbol string) (int64, error) {
	if t == nil {
		return 0, fmt.Errorf("ledger store: nil transaction")
	}
	return t.store.ensureAssetWith(ctx, t.tx, symbol)
}

func (t *ledgerTx) AdjustBalance(ctx context.Context, userID int64, symbol string, delta decimal.Decimal) (decimal.Decimal, error) {
	if t == nil {
		return decimal.Zero, fmt.Errorf("ledger store: nil transaction")
	}
	return t.store.adjustBalanceWith(ctx, t.tx, userID, symbol, delta)
}

func (t *ledgerTx) BalanceForUpdate(ctx context.Context, userID int64, symbol string) (decimal.Decimal, error) {
	if t == nil {
		return decimal.Zero, fmt.Errorf("ledger store: nil transaction")
	}
	return t.store.balanceForUpdateWith(ctx, t.tx, userID, symbol)
}

func (t *ledgerTx) InsertOrder(ctx context.Context, order ledger.Order) error {
	if t == nil {
		return fmt.Errorf("ledger store: nil transaction")
	}
	return t.store.insertOrderWith(ctx, t.tx, order)
}

func (t *ledgerTx) InsertTrade(ctx context.Context, trade ledger.Trade) error {
	if t == nil {
		return fmt.Errorf("ledger store: nil transaction")
	}
	return t.store.insertTradeWith(ctx, t.tx, trade)
}

func (t *ledgerTx) InsertPaymentGuard(ctx context.Context, eventID string) (bool, error) {
	if t == nil {
		return false, fmt.Errorf("ledger store: nil transaction")
	}
	return t.store.insertPaymentGuardWith(ctx, t.tx, eventID)
}

func (t *ledgerTx) InsertPayment(ctx context.Context, payment ledger.Payment) error {
	if t == nil {
		return fmt.Errorf("ledger store: nil transaction")
	}
	return t.store.insertPaymentWith(ctx, t.tx, payment)
}

func scanOrder(rows pgx.Rows) (ledger.Order, error) {
	var (
		order     ledger.Order
		side      string
		kind      string
		status    string
		qtyText   string
		priceText string
	)
	if err := rows.Scan(&order.ID, &order.UserID, &order.Symbol, &side, &kind, &qtyText, &priceText, &status, &order.CreatedAt); err != nil {
		return ledger.Order{}, fmt.Errorf("ledger store: scan order: %w", err)
	}
	qty, err := decimal.NewFromString(qtyText)
	if err != nil {
		return ledger.Order{}, fmt.Errorf("ledger store: parse order qty %q: %w", qtyText, err)
	}
	price, err := decimal.NewFromString(priceText)
	if err != nil {
		return ledger.Order{}, fmt.Errorf("ledger store: parse order price %q: %w", priceText, err)
	}
	order.Side = ledger.Side(side)
	order.Kind = ledger.Kind(kind)
	order.Status = ledger.Status(status)
	order.Quantity = qty
	order.Price = price
	return order, nil
}

func scanTrade(rows pgx.Rows) (ledger.Trade, error) {
	var (
		trade     ledger.Trade
		priceText string
		qtyText   string
	)
	if err := rows.Scan(&trade.ID, &trade.OrderID, &trade.UserID, &trade.Symbol, &priceText, &qtyText, &trade.CreatedAt); err != nil {
		return ledger.Trade{}, fmt.Errorf("ledger store: scan trade: %w", err)
	}
	price, err := decimal.NewFromString(priceText)
	if err != nil {
		return ledger.Trade{}, fmt.Errorf("ledger store: parse trade price %q: %w", priceText, err)
	}
	qty, err := decimal.NewFromString(qtyText)
	if err != nil {
		return ledger.Trade{}, fmt.Errorf("ledger store: parse trade qty %q: %w", qtyText, err)
	}
	trade.Price = price
	trade.Quantity = qty
	return trade, nil
}

func clampLimit(value, fallback, maximum int) int {
	if value <= 0 {
		return fallback
	}
	if value > maximum {
		return maximum
	}
	return value
}
